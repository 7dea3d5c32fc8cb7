package backtest

import (
	"github.com/shopspring/decimal"
)

// BacktestReport 单次回测的汇总结果，构造后不再修改
type BacktestReport struct {
	// 交易统计
	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	// 盈亏（金额）
	InitialBalance  decimal.Decimal `json:"initial_balance"`
	FinalBalance    decimal.Decimal `json:"final_balance"`
	GrossProfit     decimal.Decimal `json:"gross_profit"`
	GrossLoss       decimal.Decimal `json:"gross_loss"`
	NetPnL          decimal.Decimal `json:"net_pnl"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	AvgWin          decimal.Decimal `json:"avg_win"`
	AvgLoss         decimal.Decimal `json:"avg_loss"`
	LargestWin      decimal.Decimal `json:"largest_win"`
	LargestLoss     decimal.Decimal `json:"largest_loss"`
	Expectancy      decimal.Decimal `json:"expectancy"` // 每笔交易的平均盈亏

	// 比率
	TotalReturn    float64 `json:"total_return"` // 总收益率 (%)
	WinRate        float64 `json:"win_rate"`     // 胜率 (%)
	ProfitFactor   float64 `json:"profit_factor"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	CalmarRatio    float64 `json:"calmar_ratio"`
	RecoveryFactor float64 `json:"recovery_factor"`

	// 回撤
	MaxDrawdown           float64         `json:"max_drawdown"`        // 最大回撤 (%)
	MaxDrawdownAmount     decimal.Decimal `json:"max_drawdown_amount"` // 最大回撤金额
	MaxDrawdownDuration   int             `json:"max_drawdown_duration"`
	MaxConsecutiveLosses  int             `json:"max_consecutive_losses"`
	ConsecutiveLossAmount decimal.Decimal `json:"consecutive_loss_amount"`

	Risk RiskMetrics `json:"risk"`

	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Equity      *EquitySeries `json:"equity_series,omitempty"`
}

// ReportOptions 报告计算参数
type ReportOptions struct {
	RiskFreeRate float64 // 年化无风险利率
}

// DefaultReportOptions 默认参数（年化无风险利率 2%）
func DefaultReportOptions() ReportOptions {
	return ReportOptions{RiskFreeRate: DefaultRiskFreeRate}
}

// FromTrades 由成交账本与逐 bar 权益曲线构造报告
// 纯函数，不依赖回测循环；没有交易时所有计数与比率为 0
func FromTrades(trades []Trade, curve []EquityPoint, initialBalance decimal.Decimal, opts ReportOptions) *BacktestReport {
	report := &BacktestReport{
		InitialBalance:        initialBalance,
		FinalBalance:          initialBalance,
		GrossProfit:           decimal.Zero,
		GrossLoss:             decimal.Zero,
		NetPnL:                decimal.Zero,
		TotalCommission:       decimal.Zero,
		AvgWin:                decimal.Zero,
		AvgLoss:               decimal.Zero,
		LargestWin:            decimal.Zero,
		LargestLoss:           decimal.Zero,
		Expectancy:            decimal.Zero,
		MaxDrawdownAmount:     decimal.Zero,
		ConsecutiveLossAmount: decimal.Zero,
		Trades:                append([]Trade(nil), trades...),
		EquityCurve:           append([]EquityPoint(nil), curve...),
	}
	if len(trades) == 0 {
		return report
	}

	// 交易统计
	pnls := make([]decimal.Decimal, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
		report.NetPnL = report.NetPnL.Add(t.PnL)
		report.TotalCommission = report.TotalCommission.Add(t.Commission)
		switch {
		case t.IsWin():
			report.WinningTrades++
			if t.PnL.GreaterThan(report.LargestWin) {
				report.LargestWin = t.PnL
			}
		case t.IsLoss():
			report.LosingTrades++
			if t.PnL.LessThan(report.LargestLoss) {
				report.LargestLoss = t.PnL
			}
		}
	}
	report.TotalTrades = len(trades)
	report.GrossProfit, report.GrossLoss = GrossProfitLoss(pnls)
	report.FinalBalance = initialBalance.Add(report.NetPnL)
	if report.WinningTrades > 0 {
		report.AvgWin = report.GrossProfit.Div(decimal.NewFromInt(int64(report.WinningTrades))).Round(currencyPlaces)
	}
	if report.LosingTrades > 0 {
		report.AvgLoss = report.GrossLoss.Div(decimal.NewFromInt(int64(report.LosingTrades))).Round(currencyPlaces)
	}
	report.Expectancy = report.NetPnL.Div(decimal.NewFromInt(int64(report.TotalTrades))).Round(currencyPlaces)
	report.WinRate = WinRate(trades)
	report.ProfitFactor = ProfitFactor(pnls)

	// 逐日权益：优先覆盖逐 bar 曲线的完整区间
	start, end := trades[0].ExitTime, trades[0].ExitTime
	if len(curve) > 0 {
		start, end = curve[0].Time, curve[len(curve)-1].Time
	} else {
		for _, t := range trades {
			if t.ExitTime.Before(start) {
				start = t.ExitTime
			}
			if t.ExitTime.After(end) {
				end = t.ExitTime
			}
		}
	}
	if series, err := ComputeEquitySeries(trades, start, end, initialBalance); err == nil {
		report.Equity = series
		losses, amount := ConsecutiveLosses(series.DailyPnL())
		report.MaxConsecutiveLosses = losses
		report.ConsecutiveLossAmount = amount.Round(currencyPlaces)
	}

	// 收益与回撤基于逐 bar 权益；没有曲线时退回逐日序列
	equity := curveEquity(curve)
	if len(equity) == 0 && report.Equity != nil {
		equity = append([]decimal.Decimal{initialBalance}, report.Equity.Equity...)
	}
	floats := make([]float64, len(equity))
	for i, e := range equity {
		floats[i] = e.InexactFloat64()
	}

	ddPct, peakIdx, troughIdx := MaxDrawdown(floats)
	report.MaxDrawdown = RoundRatio(ddPct)
	report.MaxDrawdownAmount = MaxDrawdownAmount(equity, peakIdx, troughIdx).Round(currencyPlaces)
	if ddPct > 0 {
		report.MaxDrawdownDuration = DrawdownDuration(floats, peakIdx, troughIdx)
	}

	totalReturn := 0.0
	if initialBalance.IsPositive() {
		totalReturn = report.NetPnL.Div(initialBalance).Mul(hundred).InexactFloat64()
	}
	report.TotalReturn = RoundRatio(totalReturn)

	// 风险比率按日收益计算，与日化无风险利率口径一致
	returns := Returns(floats)
	if report.Equity != nil {
		returns = report.Equity.DailyReturns()
	}
	report.SharpeRatio = SharpeRatio(returns, opts.RiskFreeRate)
	report.SortinoRatio = SortinoRatio(returns, opts.RiskFreeRate)
	periodDays := end.Sub(start).Hours() / 24
	report.CalmarRatio = CalmarRatio(totalReturn, periodDays, ddPct)
	report.RecoveryFactor = RecoveryFactor(totalReturn, ddPct)
	report.Risk = CalculateRiskMetrics(returns)

	return report
}

func curveEquity(curve []EquityPoint) []decimal.Decimal {
	out := make([]decimal.Decimal, len(curve))
	for i, p := range curve {
		out[i] = p.Equity
	}
	return out
}
