package backtest

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// EquitySeries 按自然日展开的权益曲线，四个序列等长
// 回撤与总收益率只通过方法派生，不单独存储
type EquitySeries struct {
	InitialBalance decimal.Decimal   `json:"initial_balance"`
	Dates          []time.Time       `json:"dates"`
	Equity         []decimal.Decimal `json:"equity"`
	PeakEquity     []decimal.Decimal `json:"peak_equity"`
	CumulativePnL  []decimal.Decimal `json:"cumulative_pnl"`
}

// Len 序列长度
func (s *EquitySeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Equity)
}

// Drawdown 第 i 天相对峰值的回撤百分比，峰值 <= 0 时为 0，权益为负时封顶 100
func (s *EquitySeries) Drawdown(i int) decimal.Decimal {
	peak := s.PeakEquity[i]
	if !peak.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(peak.Sub(s.Equity[i]).Div(peak).Mul(hundred), hundred)
}

// Drawdowns 全部回撤序列
func (s *EquitySeries) Drawdowns() []decimal.Decimal {
	out := make([]decimal.Decimal, s.Len())
	for i := range out {
		out[i] = s.Drawdown(i)
	}
	return out
}

// FinalEquity 最后一天的权益，空序列返回初始资金
func (s *EquitySeries) FinalEquity() decimal.Decimal {
	if s.Len() == 0 {
		return s.InitialBalance
	}
	return s.Equity[len(s.Equity)-1]
}

// TotalReturn 相对初始资金的总收益率 (%)
func (s *EquitySeries) TotalReturn() decimal.Decimal {
	if !s.InitialBalance.IsPositive() {
		return decimal.Zero
	}
	return s.FinalEquity().Sub(s.InitialBalance).Div(s.InitialBalance).Mul(hundred)
}

// DailyPnL 每日净盈亏（首日相对初始资金）
func (s *EquitySeries) DailyPnL() []decimal.Decimal {
	out := make([]decimal.Decimal, s.Len())
	prev := decimal.Zero
	for i, c := range s.CumulativePnL {
		out[i] = c.Sub(prev)
		prev = c
	}
	return out
}

// DailyReturns 逐日收益率，首日相对初始资金
func (s *EquitySeries) DailyReturns() []float64 {
	out := make([]float64, s.Len())
	prev := s.InitialBalance
	for i, e := range s.Equity {
		if prev.IsPositive() {
			out[i] = e.Sub(prev).Div(prev).InexactFloat64()
		}
		prev = e
	}
	return out
}

// EquityFloats 权益序列的 float64 视图，供回撤分析使用
func (s *EquitySeries) EquityFloats() []float64 {
	out := make([]float64, s.Len())
	for i, e := range s.Equity {
		out[i] = e.InexactFloat64()
	}
	return out
}

// ComputeEquitySeries 由成交账本生成逐日权益曲线
// start/end 为零值时取交易平仓日的最小/最大值；区间内没有交易返回 *EmptyRangeError
func ComputeEquitySeries(trades []Trade, start, end time.Time, initialBalance decimal.Decimal) (*EquitySeries, error) {
	startDay, endDay := truncateDay(start), truncateDay(end)

	byDay := make(map[time.Time]decimal.Decimal)
	var first, last time.Time
	for _, t := range trades {
		day := truncateDay(t.ExitTime)
		if !start.IsZero() && day.Before(startDay) {
			continue
		}
		if !end.IsZero() && day.After(endDay) {
			continue
		}
		byDay[day] = byDay[day].Add(t.PnL)
		if first.IsZero() || day.Before(first) {
			first = day
		}
		if last.IsZero() || day.After(last) {
			last = day
		}
	}
	if len(byDay) == 0 {
		return nil, &EmptyRangeError{Start: start, End: end}
	}
	if !start.IsZero() {
		first = startDay
	}
	if !end.IsZero() {
		last = endDay
	}

	days := int(last.Sub(first).Hours()/24) + 1
	series := &EquitySeries{
		InitialBalance: initialBalance,
		Dates:          make([]time.Time, 0, days),
		Equity:         make([]decimal.Decimal, 0, days),
		PeakEquity:     make([]decimal.Decimal, 0, days),
		CumulativePnL:  make([]decimal.Decimal, 0, days),
	}

	cumulative := decimal.Zero
	peak := initialBalance
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if pnl, ok := byDay[day]; ok {
			cumulative = cumulative.Add(pnl)
		}
		equity := initialBalance.Add(cumulative)
		// 峰值从初始资金起算，是全历史的滚动最大值
		if equity.GreaterThan(peak) {
			peak = equity
		}
		series.Dates = append(series.Dates, day)
		series.Equity = append(series.Equity, equity)
		series.PeakEquity = append(series.PeakEquity, peak)
		series.CumulativePnL = append(series.CumulativePnL, cumulative)
	}
	return series, nil
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
