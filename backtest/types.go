package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"quantgate/market"
)

// ExitReason 平仓原因
type ExitReason string

const (
	ExitStopLoss      ExitReason = "stop_loss"
	ExitTakeProfit    ExitReason = "take_profit"
	ExitSignal        ExitReason = "signal"
	ExitEndOfBacktest ExitReason = "end_of_backtest"
	ExitManual        ExitReason = "manual"
)

// Position 回测期间的持仓，只属于单次运行
type Position struct {
	Symbol        string
	Side          market.Side
	EntryPrice    decimal.Decimal
	EntryTime     time.Time
	Size          decimal.Decimal
	StopLoss      decimal.NullDecimal
	TakeProfit    decimal.NullDecimal
	UnrealizedPnL decimal.Decimal
}

// Mark 按最新价格更新浮动盈亏
func (p *Position) Mark(price decimal.Decimal) {
	p.UnrealizedPnL = price.Sub(p.EntryPrice).Mul(p.Size).Mul(p.Side.Sign())
}

// ExitTriggered 判断止损/止盈是否被价格触发，每个 bar 最多返回一个原因
func (p *Position) ExitTriggered(price decimal.Decimal) (ExitReason, bool) {
	long := p.Side == market.Long
	if p.StopLoss.Valid {
		sl := p.StopLoss.Decimal
		if (long && price.LessThanOrEqual(sl)) || (!long && price.GreaterThanOrEqual(sl)) {
			return ExitStopLoss, true
		}
	}
	if p.TakeProfit.Valid {
		tp := p.TakeProfit.Decimal
		if (long && price.GreaterThanOrEqual(tp)) || (!long && price.LessThanOrEqual(tp)) {
			return ExitTakeProfit, true
		}
	}
	return "", false
}

// Trade 已平仓交易，追加到成交账本后不再修改
type Trade struct {
	Symbol     string              `json:"symbol"`
	Side       market.Side         `json:"side"`
	EntryPrice decimal.Decimal     `json:"entry_price"`
	ExitPrice  decimal.Decimal     `json:"exit_price"`
	EntryTime  time.Time           `json:"entry_time"`
	ExitTime   time.Time           `json:"exit_time"`
	Size       decimal.Decimal     `json:"size"`
	PnL        decimal.Decimal     `json:"pnl"`
	Commission decimal.Decimal     `json:"commission"`
	ExitReason ExitReason          `json:"exit_reason"`
	RMultiple  decimal.NullDecimal `json:"r_multiple"` // 仅在有止损时存在
}

// IsWin 盈利交易
func (t Trade) IsWin() bool { return t.PnL.IsPositive() }

// IsLoss 亏损交易（pnl 为 0 的交易既不算盈也不算亏）
func (t Trade) IsLoss() bool { return t.PnL.IsNegative() }

// EquityPoint 逐 bar 的权益记录
type EquityPoint struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
}
