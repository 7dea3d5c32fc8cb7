package backtest

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quantgate/market"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func pnlTrades(pnls ...float64) []Trade {
	trades := make([]Trade, len(pnls))
	for i, p := range pnls {
		trades[i] = Trade{
			Symbol:     "BTCUSDT",
			Side:       market.Long,
			EntryTime:  day(i),
			ExitTime:   day(i).Add(12 * time.Hour),
			EntryPrice: d(100),
			ExitPrice:  d(100 + p),
			Size:       d(1),
			PnL:        d(p),
			ExitReason: ExitSignal,
		}
	}
	return trades
}

func TestMaxDrawdownScenario(t *testing.T) {
	equity := []float64{10000, 11000, 10300, 11500}
	pct, peak, trough := MaxDrawdown(equity)

	if math.Abs(pct-6.3636) > 1e-4 {
		t.Errorf("最大回撤期望约 6.3636%%, 得到 %.6f", pct)
	}
	if peak != 1 || trough != 2 {
		t.Errorf("峰值/谷底下标期望 (1,2), 得到 (%d,%d)", peak, trough)
	}

	// 同一输入重复计算结果一致
	pct2, peak2, trough2 := MaxDrawdown(equity)
	if pct2 != pct || peak2 != peak || trough2 != trough {
		t.Errorf("重复计算结果不一致")
	}
}

func TestMaxDrawdownEdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		equity []float64
		pct    float64
		peak   int
		trough int
	}{
		{"空序列", nil, 0, 0, 0},
		{"单调上涨", []float64{1, 2, 3}, 0, 0, 0},
		{"峰值为负", []float64{-5, -10}, 0, 0, 0},
		{"相同回撤取最早", []float64{100, 50, 100, 50}, 50, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, peak, trough := MaxDrawdown(tt.equity)
			if pct != tt.pct || peak != tt.peak || trough != tt.trough {
				t.Errorf("得到 (%v,%d,%d), 期望 (%v,%d,%d)", pct, peak, trough, tt.pct, tt.peak, tt.trough)
			}
		})
	}
}

func TestDrawdownDurationAndRecovery(t *testing.T) {
	equity := []float64{100, 120, 90, 100, 125, 110}
	_, peak, trough := MaxDrawdown(equity)
	if peak != 1 || trough != 2 {
		t.Fatalf("下标不正确: %d %d", peak, trough)
	}
	if got := DrawdownDuration(equity, peak, trough); got != 3 {
		t.Errorf("回撤持续期望 3, 得到 %d", got)
	}
	if got := RecoveryTime(equity, peak, trough); got != 2 {
		t.Errorf("恢复时间期望 2, 得到 %d", got)
	}

	never := []float64{100, 120, 90, 100}
	if got := DrawdownDuration(never, 1, 2); got != 2 {
		t.Errorf("未恢复时期望 len-1-peak=2, 得到 %d", got)
	}
	if got := RecoveryTime(never, 1, 2); got != -1 {
		t.Errorf("未恢复时期望 -1, 得到 %d", got)
	}
}

func TestConsecutiveLosses(t *testing.T) {
	pnls := []decimal.Decimal{d(10), d(-1), d(-2), d(0), d(-5), d(-5), d(-5), d(3)}
	count, amount := ConsecutiveLosses(pnls)
	if count != 3 || !amount.Equal(d(15)) {
		t.Errorf("期望 (3, 15), 得到 (%d, %s)", count, amount)
	}
	if count, amount := ConsecutiveLosses(nil); count != 0 || !amount.IsZero() {
		t.Errorf("空输入应返回 0")
	}
}

func TestProfitFactorScenario(t *testing.T) {
	trades := pnlTrades(100, -50, 200, -100, 150)
	pnls := make([]decimal.Decimal, len(trades))
	for i, tr := range trades {
		pnls[i] = tr.PnL
	}

	profit, loss := GrossProfitLoss(pnls)
	if !profit.Equal(d(450)) || !loss.Equal(d(150)) {
		t.Errorf("毛利/毛损期望 450/150, 得到 %s/%s", profit, loss)
	}
	if pf := ProfitFactor(pnls); pf != 3.0 {
		t.Errorf("利润因子期望 3.0, 得到 %v", pf)
	}
	if wr := WinRate(trades); wr != 60 {
		t.Errorf("胜率期望 60, 得到 %v", wr)
	}

	report := FromTrades(trades, nil, d(10000), DefaultReportOptions())
	if report.WinningTrades != 3 || report.LosingTrades != 2 || report.ProfitFactor != 3 || report.WinRate != 60 {
		t.Errorf("报告统计不正确: %+v", report)
	}
	if !report.NetPnL.Equal(d(300)) || !report.FinalBalance.Equal(d(10300)) {
		t.Errorf("净盈亏不正确: %s", report.NetPnL)
	}
	if !report.LargestWin.Equal(d(200)) || !report.LargestLoss.Equal(d(-100)) {
		t.Errorf("最大单笔不正确: %s %s", report.LargestWin, report.LargestLoss)
	}
	if !report.Expectancy.Equal(d(60)) {
		t.Errorf("期望值应为 60, 得到 %s", report.Expectancy)
	}
}

func TestProfitFactorSentinels(t *testing.T) {
	if pf := ProfitFactor([]decimal.Decimal{d(10), d(5)}); pf != SentinelRatio {
		t.Errorf("无亏损时期望哨兵值, 得到 %v", pf)
	}
	if pf := ProfitFactor([]decimal.Decimal{d(0)}); pf != 0 {
		t.Errorf("无盈亏时期望 0, 得到 %v", pf)
	}
}

func TestSharpeFlatReturns(t *testing.T) {
	returns := []float64{0, 0, 0, 0, 0}
	sharpe := SharpeRatio(returns, DefaultRiskFreeRate)
	if sharpe != 0 || math.IsNaN(sharpe) || math.IsInf(sharpe, 0) {
		t.Errorf("零波动夏普期望 0, 得到 %v", sharpe)
	}
	if s := SharpeRatio([]float64{0.01}, DefaultRiskFreeRate); s != 0 {
		t.Errorf("单样本夏普期望 0, 得到 %v", s)
	}
}

func TestSharpeKnownValue(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.02, 0}
	// mean=0.005, 样本标准差=0.0129099
	want := RoundRatio((0.005 - 0.02/252) / 0.012909944487358056)
	if got := SharpeRatio(returns, 0.02); got != want {
		t.Errorf("夏普期望 %v, 得到 %v", want, got)
	}
}

func TestSortino(t *testing.T) {
	if s := SortinoRatio([]float64{0.01, 0.02, 0}, 0); s != SentinelRatio {
		t.Errorf("无负收益期望哨兵值, 得到 %v", s)
	}
	if s := SortinoRatio([]float64{-0.01}, 0); s != 0 {
		t.Errorf("单样本期望 0, 得到 %v", s)
	}

	returns := []float64{0.02, -0.01, 0.03, -0.02}
	m := 0.005
	downside := []float64{0, -0.015, 0, -0.025}
	want := RoundRatio((m - 0) / sampleStdDev(downside))
	if got := SortinoRatio(returns, 0); got != want {
		t.Errorf("索提诺期望 %v, 得到 %v", want, got)
	}
}

func TestCalmarAndRecovery(t *testing.T) {
	if c := CalmarRatio(10, 365, 5); c != 2 {
		t.Errorf("卡玛期望 2, 得到 %v", c)
	}
	if c := CalmarRatio(10, 365, 0); c != 0 {
		t.Errorf("零回撤期望 0, 得到 %v", c)
	}
	if c := CalmarRatio(10, 0, 5); c != 0 {
		t.Errorf("零天数期望 0, 得到 %v", c)
	}
	if r := RecoveryFactor(30, 10); r != 3 {
		t.Errorf("恢复因子期望 3, 得到 %v", r)
	}
	if r := RecoveryFactor(30, 0); r != 0 {
		t.Errorf("零回撤恢复因子期望 0, 得到 %v", r)
	}
}

func TestRounding(t *testing.T) {
	if got := RoundRatio(1.23455); got != 1.2346 {
		t.Errorf("四舍五入期望 1.2346, 得到 %v", got)
	}
	if got := RoundCurrency(2.345); got != 2.35 {
		t.Errorf("四舍五入期望 2.35, 得到 %v", got)
	}
	if got := RoundRatio(math.NaN()); got != 0 {
		t.Errorf("NaN 期望 0, 得到 %v", got)
	}
}

func TestFromTradesEmpty(t *testing.T) {
	curve := []EquityPoint{{Time: day(0), Equity: d(10000)}, {Time: day(1), Equity: d(9000)}}
	for _, c := range [][]EquityPoint{nil, curve} {
		report := FromTrades(nil, c, d(10000), DefaultReportOptions())
		if report.TotalTrades != 0 {
			t.Errorf("期望 0 笔交易")
		}
		ratios := []float64{report.WinRate, report.ProfitFactor, report.SharpeRatio, report.SortinoRatio,
			report.CalmarRatio, report.RecoveryFactor, report.MaxDrawdown, report.TotalReturn}
		for i, r := range ratios {
			if r != 0 {
				t.Errorf("第 %d 个比率期望 0, 得到 %v", i, r)
			}
		}
		if !report.FinalBalance.Equal(d(10000)) {
			t.Errorf("最终余额应等于初始资金")
		}
	}
}

func TestComputeEquitySeries(t *testing.T) {
	trades := []Trade{
		{ExitTime: day(0).Add(3 * time.Hour), PnL: d(100)},
		{ExitTime: day(0).Add(9 * time.Hour), PnL: d(-30)},
		{ExitTime: day(3), PnL: d(-200)},
	}
	s, err := ComputeEquitySeries(trades, time.Time{}, time.Time{}, d(1000))
	if err != nil {
		t.Fatalf("生成权益失败: %v", err)
	}
	if s.Len() != 4 {
		t.Fatalf("期望 4 天, 得到 %d", s.Len())
	}
	wantEquity := []float64{1070, 1070, 1070, 870}
	for i, w := range wantEquity {
		if !s.Equity[i].Equal(d(w)) {
			t.Errorf("第 %d 天权益期望 %v, 得到 %s", i, w, s.Equity[i])
		}
		if !s.PeakEquity[i].Equal(d(1070)) {
			t.Errorf("第 %d 天峰值应为 1070, 得到 %s", i, s.PeakEquity[i])
		}
	}
	if !s.CumulativePnL[2].Equal(d(70)) {
		t.Errorf("非交易日应前向填充累计盈亏")
	}
	if !s.TotalReturn().Equal(d(-13)) {
		t.Errorf("总收益率期望 -13%%, 得到 %s", s.TotalReturn())
	}
	pnl := s.DailyPnL()
	if !pnl[0].Equal(d(70)) || !pnl[1].IsZero() || !pnl[3].Equal(d(-200)) {
		t.Errorf("逐日盈亏不正确: %v", pnl)
	}
	if r := s.DailyReturns(); math.Abs(r[0]-0.07) > 1e-12 {
		t.Errorf("首日收益率期望 0.07, 得到 %v", r[0])
	}
}

func TestComputeEquitySeriesRange(t *testing.T) {
	trades := []Trade{{ExitTime: day(5), PnL: d(10)}, {ExitTime: day(20), PnL: d(10)}}

	s, err := ComputeEquitySeries(trades, day(0), day(9), d(100))
	if err != nil {
		t.Fatalf("生成权益失败: %v", err)
	}
	if s.Len() != 10 || !s.Dates[0].Equal(day(0)) {
		t.Errorf("显式区间应覆盖 10 天, 得到 %d", s.Len())
	}
	if !s.FinalEquity().Equal(d(110)) {
		t.Errorf("区间外交易应被过滤, 最终权益 %s", s.FinalEquity())
	}

	_, err = ComputeEquitySeries(trades, day(6), day(10), d(100))
	var empty *EmptyRangeError
	if !errors.As(err, &empty) || !errors.Is(err, market.ErrData) {
		t.Errorf("区间内无交易应返回 EmptyRangeError, 得到 %v", err)
	}
}

func TestEquitySeriesProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(40)
		trades := make([]Trade, n)
		for i := range trades {
			trades[i] = Trade{
				ExitTime: day(rng.Intn(60)),
				PnL:      decimal.NewFromInt(int64(rng.Intn(2000) - 1000)),
			}
		}
		s, err := ComputeEquitySeries(trades, time.Time{}, time.Time{}, d(10000))
		if err != nil {
			t.Fatalf("生成权益失败: %v", err)
		}
		if len(s.Dates) != len(s.Equity) || len(s.Equity) != len(s.PeakEquity) || len(s.PeakEquity) != len(s.CumulativePnL) {
			t.Fatalf("序列长度不一致")
		}
		for i := 0; i < s.Len(); i++ {
			if s.Equity[i].GreaterThan(s.PeakEquity[i]) {
				t.Fatalf("权益超过峰值: %s > %s", s.Equity[i], s.PeakEquity[i])
			}
			if i > 0 && s.PeakEquity[i].LessThan(s.PeakEquity[i-1]) {
				t.Fatalf("峰值下降")
			}
			dd := s.Drawdown(i)
			if dd.IsNegative() || dd.GreaterThan(d(100)) {
				t.Fatalf("回撤超出 [0,100]: %s", dd)
			}
			if s.Equity[i].Equal(s.PeakEquity[i]) && !dd.IsZero() {
				t.Fatalf("权益等于峰值时回撤应为 0")
			}
		}
	}
}

func TestDrawdownCappedWhenEquityNegative(t *testing.T) {
	trades := []Trade{
		{ExitTime: day(0), PnL: d(500)},
		{ExitTime: day(1), PnL: d(-12000)},
	}
	s, err := ComputeEquitySeries(trades, time.Time{}, time.Time{}, d(10000))
	if err != nil {
		t.Fatalf("生成权益失败: %v", err)
	}
	if !s.Equity[1].Equal(d(-1500)) {
		t.Fatalf("第 1 天权益期望 -1500, 得到 %s", s.Equity[1])
	}
	if dd := s.Drawdown(1); !dd.Equal(d(100)) {
		t.Errorf("负权益回撤应封顶 100, 得到 %s", dd)
	}
	if pct, _, _ := MaxDrawdown([]float64{10000, 10500, -1500}); pct != 100 {
		t.Errorf("MaxDrawdown 应封顶 100, 得到 %v", pct)
	}
}

func TestFromTradesIntradayUsesDailyReturns(t *testing.T) {
	trades := []Trade{
		{Symbol: "BTCUSDT", ExitTime: day(0).Add(5 * time.Hour), PnL: d(100)},
		{Symbol: "BTCUSDT", ExitTime: day(1).Add(14 * time.Hour), PnL: d(-50)},
		{Symbol: "BTCUSDT", ExitTime: day(2).Add(20 * time.Hour), PnL: d(200)},
	}
	// 逐小时权益曲线，三天共 72 个点
	var curve []EquityPoint
	equity := d(10000)
	next := 0
	for h := 0; h < 72; h++ {
		ts := day(0).Add(time.Duration(h) * time.Hour)
		for next < len(trades) && !trades[next].ExitTime.After(ts) {
			equity = equity.Add(trades[next].PnL)
			next++
		}
		curve = append(curve, EquityPoint{Time: ts, Equity: equity})
	}

	report := FromTrades(trades, curve, d(10000), DefaultReportOptions())
	if report.Equity == nil || report.Equity.Len() != 3 {
		t.Fatalf("应生成 3 天的逐日权益, 得到 %d", report.Equity.Len())
	}
	daily := report.Equity.DailyReturns()
	if want := SharpeRatio(daily, DefaultRiskFreeRate); report.SharpeRatio != want {
		t.Errorf("Sharpe 应基于日收益: 期望 %v, 得到 %v", want, report.SharpeRatio)
	}
	if want := SortinoRatio(daily, DefaultRiskFreeRate); report.SortinoRatio != want {
		t.Errorf("Sortino 应基于日收益: 期望 %v, 得到 %v", want, report.SortinoRatio)
	}

	floats := make([]float64, len(curve))
	for i, p := range curve {
		floats[i] = p.Equity.InexactFloat64()
	}
	if perBar := SharpeRatio(Returns(floats), DefaultRiskFreeRate); perBar == report.SharpeRatio {
		t.Errorf("小时级曲线的逐 bar Sharpe 不应与日口径相同: %v", perBar)
	}
}

func TestCalculateRiskMetrics(t *testing.T) {
	if r := CalculateRiskMetrics([]float64{0.1}); r != (RiskMetrics{}) {
		t.Errorf("样本不足应返回零值")
	}
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = float64(i-50) / 1000
	}
	r := CalculateRiskMetrics(returns)
	if r.VaR95 <= 0 || r.CVaR95 < r.VaR95 || r.VaR99 < r.VaR95 {
		t.Errorf("风险指标不合理: %+v", r)
	}
}
