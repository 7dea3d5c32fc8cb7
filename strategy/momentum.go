package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"quantgate/indicators"
	"quantgate/market"
)

// Momentum RSI 动量策略
// RSI 从下方穿越超卖线时做多，进入超买区时平仓
type Momentum struct {
	name       string
	rsiPeriod  int
	overbought float64
	oversold   float64
	stopPct    float64 // 止损距离（入场价百分比），0 表示不设
	targetPct  float64 // 止盈距离
}

// NewMomentum 创建动量策略
func NewMomentum(name string, params Params) (Strategy, error) {
	m := &Momentum{
		name:       name,
		rsiPeriod:  params.Int("rsi_period", 14),
		overbought: params.Float("overbought", 70),
		oversold:   params.Float("oversold", 30),
		stopPct:    params.Float("stop_pct", 3),
		targetPct:  params.Float("target_pct", 6),
	}
	if m.rsiPeriod < 2 {
		return nil, fmt.Errorf("rsi_period 必须 >= 2: %d", m.rsiPeriod)
	}
	if m.oversold >= m.overbought {
		return nil, fmt.Errorf("oversold(%.1f) 必须小于 overbought(%.1f)", m.oversold, m.overbought)
	}
	return m, nil
}

// Name 策略名称
func (m *Momentum) Name() string { return m.name }

// GenerateSignal 实现 Strategy
func (m *Momentum) GenerateSignal(window []market.Bar) (*market.Signal, error) {
	rsi := indicators.RSI(market.Closes(window), m.rsiPeriod)
	if len(rsi) < 2 {
		return nil, nil
	}
	prev, curr := rsi[len(rsi)-2], rsi[len(rsi)-1]

	if prev < m.oversold && curr >= m.oversold {
		price := window[len(window)-1].Close
		return &market.Signal{
			Side:       market.Long,
			StopLoss:   offset(price, -m.stopPct),
			TakeProfit: offset(price, m.targetPct),
			Confidence: market.Price(decimal.NewFromFloat(confidence(m.oversold-prev, m.oversold))),
			Reason:     fmt.Sprintf("RSI 超卖反弹 (RSI=%.2f)", curr),
		}, nil
	}
	if curr > m.overbought {
		return &market.Signal{Side: market.Flat, Reason: fmt.Sprintf("RSI 超买 (RSI=%.2f)", curr)}, nil
	}
	return nil, nil
}

// offset 价格按百分比偏移，pct 为 0 时返回无效值
func offset(price decimal.Decimal, pct float64) decimal.NullDecimal {
	if pct == 0 {
		return decimal.NullDecimal{}
	}
	factor := decimal.NewFromFloat(1 + pct/100)
	return market.Price(price.Mul(factor).Round(8))
}

// confidence 把偏离幅度映射到 [0,1]
func confidence(distance, scale float64) float64 {
	if scale <= 0 || distance <= 0 {
		return 0.5
	}
	c := 0.5 + distance/scale/2
	if c > 1 {
		c = 1
	}
	return c
}
