package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quantgate/market"
)

// barsFromCloses 以收盘价构造日线，high/low 为收盘价上下 1
func barsFromCloses(closes ...float64) []market.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = market.Bar{
			Symbol:    "TEST",
			Timestamp: start.AddDate(0, 0, i),
			Open:      price,
			High:      price.Add(decimal.NewFromInt(1)),
			Low:       price.Sub(decimal.NewFromInt(1)),
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return bars
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	names := r.List()
	want := []string{"mean_reversion", "momentum", "trend_following"}
	if len(names) != len(want) {
		t.Fatalf("注册表 = %v, 期望 %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, 期望 %s", i, names[i], want[i])
		}
	}

	s, ok := r.Get("momentum")
	if !ok || s.Name() != "momentum" {
		t.Fatal("应能取到 momentum")
	}
	if err := r.Register(s); err == nil {
		t.Error("重复注册应返回错误")
	}
	if _, ok := r.Get("grid"); ok {
		t.Error("未注册的策略不应存在")
	}
}

func TestBuild(t *testing.T) {
	s, err := Build("momentum", "", Params{"rsi_period": "7"})
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}
	if s.Name() != "momentum" {
		t.Errorf("名称为空时应使用类型名, 得到 %s", s.Name())
	}
	if _, err := Build("grid", "g", nil); err == nil {
		t.Error("未知类型应返回错误")
	}
	if _, err := Build("momentum", "m", Params{"oversold": 80, "overbought": 70}); err == nil {
		t.Error("oversold >= overbought 应返回错误")
	}
	if _, err := Build("trend_following", "t", Params{"fast_period": 30, "slow_period": 10}); err == nil {
		t.Error("快线周期大于慢线应返回错误")
	}
}

func TestParams(t *testing.T) {
	p := Params{"a": 1.5, "b": 3, "c": "2.5", "d": "x"}
	if p.Float("a", 0) != 1.5 || p.Float("b", 0) != 3 || p.Float("c", 0) != 2.5 {
		t.Error("Float 解析错误")
	}
	if p.Float("d", 9) != 9 || p.Float("missing", 7) != 7 {
		t.Error("无法解析时应返回默认值")
	}
	if p.Int("a", 0) != 1 || p.Int("b", 0) != 3 || p.Int("d", 4) != 4 {
		t.Error("Int 解析错误")
	}
}

func TestMomentumSignal(t *testing.T) {
	s, err := NewMomentum("m", Params{"rsi_period": 2, "oversold": 30, "overbought": 70})
	if err != nil {
		t.Fatal(err)
	}

	// RSI: 0 → 33.33，从下方穿越 30
	bars := barsFromCloses(100, 90, 80, 85)
	sig, err := s.GenerateSignal(bars)
	if err != nil || sig == nil {
		t.Fatalf("应产生信号, sig=%v err=%v", sig, err)
	}
	if sig.Side != market.Long {
		t.Errorf("方向 = %s, 期望 long", sig.Side)
	}
	if err := sig.Validate(bars[len(bars)-1].Close); err != nil {
		t.Errorf("止损止盈应位于正确一侧: %v", err)
	}
	if !sig.Confidence.Valid || !sig.Confidence.Decimal.Equal(decimal.NewFromInt(1)) {
		t.Errorf("置信度 = %v", sig.Confidence)
	}

	// 单边上涨 RSI=100，进入超买区平仓
	sig, _ = s.GenerateSignal(barsFromCloses(1, 2, 3, 4))
	if sig == nil || sig.Side != market.Flat {
		t.Errorf("超买应平仓, 得到 %+v", sig)
	}

	// 数据不足
	if sig, _ := s.GenerateSignal(barsFromCloses(1, 2)); sig != nil {
		t.Error("数据不足不应产生信号")
	}
}

func TestMeanReversionSignal(t *testing.T) {
	s, err := NewMeanReversion("mr", Params{"period": 3, "multiplier": 1.0})
	if err != nil {
		t.Fatal(err)
	}

	// 窗口 (100,100,80)：中轨 93.33，标准差 9.43，下轨 83.9
	bars := barsFromCloses(100, 100, 100, 80)
	sig, err := s.GenerateSignal(bars)
	if err != nil || sig == nil {
		t.Fatalf("应产生信号, sig=%v err=%v", sig, err)
	}
	if sig.Side != market.Long {
		t.Errorf("方向 = %s, 期望 long", sig.Side)
	}
	if err := sig.Validate(bars[len(bars)-1].Close); err != nil {
		t.Errorf("信号不合法: %v", err)
	}

	// 标准差为 0 不操作
	if sig, _ := s.GenerateSignal(barsFromCloses(5, 5, 5, 5)); sig != nil {
		t.Errorf("横盘不应产生信号: %+v", sig)
	}
}

func TestTrendFollowingSignal(t *testing.T) {
	s, err := NewTrendFollowing("tf", Params{"fast_period": 2, "slow_period": 3, "atr_period": 2})
	if err != nil {
		t.Fatal(err)
	}

	// 快线 9.5→10.5，慢线 9.67→10.33，金叉
	bars := barsFromCloses(10, 10, 10, 9, 12)
	sig, err := s.GenerateSignal(bars)
	if err != nil || sig == nil {
		t.Fatalf("应产生信号, sig=%v err=%v", sig, err)
	}
	if sig.Side != market.Long {
		t.Errorf("方向 = %s, 期望 long", sig.Side)
	}
	if err := sig.Validate(bars[len(bars)-1].Close); err != nil {
		t.Errorf("信号不合法: %v", err)
	}

	// 同一实例重复调用结果一致
	again, _ := s.GenerateSignal(bars)
	if again == nil || !again.StopLoss.Decimal.Equal(sig.StopLoss.Decimal) {
		t.Error("策略不应保存跨调用状态")
	}
}
