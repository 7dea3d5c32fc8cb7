// Package market 行情与信号的公共领域类型
package market

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bar 一根 OHLCV K 线，按时间戳排序，不可变
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Validate 检查价格关系，high 必须覆盖 open/close/low
func (b Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar %s: 时间戳为空", b.Symbol)
	}
	if !b.Close.IsPositive() || !b.Open.IsPositive() {
		return fmt.Errorf("bar %s@%s: 价格必须为正", b.Symbol, b.Timestamp.Format(time.RFC3339))
	}
	if b.High.LessThan(b.Low) || b.High.LessThan(b.Close) || b.High.LessThan(b.Open) ||
		b.Low.GreaterThan(b.Close) || b.Low.GreaterThan(b.Open) {
		return fmt.Errorf("bar %s@%s: OHLC 关系不合法", b.Symbol, b.Timestamp.Format(time.RFC3339))
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("bar %s@%s: 成交量为负", b.Symbol, b.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// SortBars 按时间戳升序排序（稳定排序）
func SortBars(bars []Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}

// FilterRange 返回 [start, end) 内的 bar，零值边界表示不限制
func FilterRange(bars []Bar, start, end time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && !b.Timestamp.Before(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Closes 收盘价序列（指标计算使用 float64）
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

// Highs 最高价序列
func Highs(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High.InexactFloat64()
	}
	return out
}

// Lows 最低价序列
func Lows(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low.InexactFloat64()
	}
	return out
}

// NormalizeSymbol 统一交易对大小写
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Side 持仓方向
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
	Flat  Side = "flat" // 平掉所有持仓
)

// Valid 是否为合法方向
func (s Side) Valid() bool {
	return s == Long || s == Short || s == Flat
}

// Sign 多头 +1，空头 -1，其余 0
func (s Side) Sign() decimal.Decimal {
	switch s {
	case Long:
		return decimal.NewFromInt(1)
	case Short:
		return decimal.NewFromInt(-1)
	default:
		return decimal.Zero
	}
}

// Signal 策略输出的交易信号，可选字段用 NullDecimal 显式表达“不存在”
type Signal struct {
	Side       Side                `json:"side"`
	StopLoss   decimal.NullDecimal `json:"stop_loss"`
	TakeProfit decimal.NullDecimal `json:"take_profit"`
	Confidence decimal.NullDecimal `json:"confidence"`
	Reason     string              `json:"reason,omitempty"`
}

// Price 把 decimal 包装为有效的可选值
func Price(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// PriceFromFloat float64 版本的 Price
func PriceFromFloat(f float64) decimal.NullDecimal {
	return Price(decimal.NewFromFloat(f))
}

// Validate 检查止损止盈是否位于入场价正确的一侧
func (s Signal) Validate(entry decimal.Decimal) error {
	if !s.Side.Valid() {
		return fmt.Errorf("未知信号方向: %q", s.Side)
	}
	if s.Side == Flat {
		return nil
	}
	if s.Confidence.Valid && (s.Confidence.Decimal.IsNegative() || s.Confidence.Decimal.GreaterThan(decimal.NewFromInt(1))) {
		return fmt.Errorf("置信度超出 [0,1]: %s", s.Confidence.Decimal)
	}
	long := s.Side == Long
	if s.StopLoss.Valid {
		sl := s.StopLoss.Decimal
		if (long && !sl.LessThan(entry)) || (!long && !sl.GreaterThan(entry)) {
			return fmt.Errorf("%s 止损 %s 与入场价 %s 方向不符", s.Side, sl, entry)
		}
	}
	if s.TakeProfit.Valid {
		tp := s.TakeProfit.Decimal
		if (long && !tp.GreaterThan(entry)) || (!long && !tp.LessThan(entry)) {
			return fmt.Errorf("%s 止盈 %s 与入场价 %s 方向不符", s.Side, tp, entry)
		}
	}
	return nil
}
