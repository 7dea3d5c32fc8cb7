package strategy

import (
	"fmt"

	"quantgate/indicators"
	"quantgate/market"
)

// MeanReversion 布林带均值回归策略
// 收盘跌破下轨做多、突破上轨做空，止盈设在中轨
type MeanReversion struct {
	name       string
	period     int
	multiplier float64 // 布林带宽度（标准差倍数）
	stopMult   float64 // 止损距离（标准差倍数）
}

// NewMeanReversion 创建均值回归策略
func NewMeanReversion(name string, params Params) (Strategy, error) {
	m := &MeanReversion{
		name:       name,
		period:     params.Int("period", 20),
		multiplier: params.Float("multiplier", 2.0),
		stopMult:   params.Float("stop_multiplier", 1.0),
	}
	if m.period < 2 {
		return nil, fmt.Errorf("period 必须 >= 2: %d", m.period)
	}
	if m.multiplier <= 0 {
		return nil, fmt.Errorf("multiplier 必须为正: %.2f", m.multiplier)
	}
	return m, nil
}

// Name 策略名称
func (m *MeanReversion) Name() string { return m.name }

// GenerateSignal 实现 Strategy
func (m *MeanReversion) GenerateSignal(window []market.Bar) (*market.Signal, error) {
	bands, ok := indicators.Bollinger(market.Closes(window), m.period, m.multiplier)
	if !ok || bands.StdDev == 0 {
		return nil, nil
	}
	closePrice := window[len(window)-1].Close.InexactFloat64()

	switch {
	case closePrice < bands.Lower:
		return &market.Signal{
			Side:       market.Long,
			StopLoss:   market.PriceFromFloat(closePrice - m.stopMult*bands.StdDev),
			TakeProfit: market.PriceFromFloat(bands.Middle),
			Reason:     fmt.Sprintf("价格低于下轨 (%.2f < %.2f)", closePrice, bands.Lower),
		}, nil
	case closePrice > bands.Upper:
		return &market.Signal{
			Side:       market.Short,
			StopLoss:   market.PriceFromFloat(closePrice + m.stopMult*bands.StdDev),
			TakeProfit: market.PriceFromFloat(bands.Middle),
			Reason:     fmt.Sprintf("价格高于上轨 (%.2f > %.2f)", closePrice, bands.Upper),
		}, nil
	}
	return nil, nil
}
