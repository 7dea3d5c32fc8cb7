package strategy

import (
	"fmt"

	"quantgate/indicators"
	"quantgate/market"
)

// TrendFollowing 双均线趋势跟踪，止损止盈按 ATR 设定
type TrendFollowing struct {
	name       string
	fastPeriod int
	slowPeriod int
	atrPeriod  int
	stopATR    float64
	targetATR  float64
}

// NewTrendFollowing 创建趋势跟踪策略
func NewTrendFollowing(name string, params Params) (Strategy, error) {
	t := &TrendFollowing{
		name:       name,
		fastPeriod: params.Int("fast_period", 10),
		slowPeriod: params.Int("slow_period", 30),
		atrPeriod:  params.Int("atr_period", 14),
		stopATR:    params.Float("stop_atr", 2),
		targetATR:  params.Float("target_atr", 4),
	}
	if t.fastPeriod <= 0 || t.fastPeriod >= t.slowPeriod {
		return nil, fmt.Errorf("均线周期不合法: fast=%d slow=%d", t.fastPeriod, t.slowPeriod)
	}
	return t, nil
}

// Name 策略名称
func (t *TrendFollowing) Name() string { return t.name }

// GenerateSignal 快线上穿慢线做多，下穿做空
func (t *TrendFollowing) GenerateSignal(window []market.Bar) (*market.Signal, error) {
	closes := market.Closes(window)
	if len(closes) < t.slowPeriod+1 {
		return nil, nil
	}
	fast := indicators.SMA(closes, t.fastPeriod)
	slow := indicators.SMA(closes, t.slowPeriod)
	// 对齐到同一结束位置
	fast = fast[len(fast)-len(slow):]

	atr, ok := indicators.Last(indicators.ATR(market.Highs(window), market.Lows(window), closes, t.atrPeriod))
	if !ok || atr <= 0 {
		return nil, nil
	}
	price := closes[len(closes)-1]

	switch {
	case indicators.CrossOver(fast, slow):
		return &market.Signal{
			Side:       market.Long,
			StopLoss:   market.PriceFromFloat(price - t.stopATR*atr),
			TakeProfit: market.PriceFromFloat(price + t.targetATR*atr),
			Reason:     fmt.Sprintf("金叉 (快线=%.2f > 慢线=%.2f)", fast[len(fast)-1], slow[len(slow)-1]),
		}, nil
	case indicators.CrossUnder(fast, slow):
		return &market.Signal{
			Side:       market.Short,
			StopLoss:   market.PriceFromFloat(price + t.stopATR*atr),
			TakeProfit: market.PriceFromFloat(price - t.targetATR*atr),
			Reason:     fmt.Sprintf("死叉 (快线=%.2f < 慢线=%.2f)", fast[len(fast)-1], slow[len(slow)-1]),
		}, nil
	}
	return nil, nil
}
