package backtest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"quantgate/market"
	"quantgate/metrics"
	"quantgate/strategy"
)

// scripted 按窗口长度返回预设信号，不保存状态
type scripted struct {
	name    string
	signals map[int]*market.Signal
	fail    map[int]bool
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) GenerateSignal(window []market.Bar) (*market.Signal, error) {
	i := len(window) - 1
	if s.fail[i] {
		return nil, fmt.Errorf("指标计算失败 @%d", i)
	}
	return s.signals[i], nil
}

// barsFromCloses 生成日线，开高低均等于收盘价
func barsFromCloses(symbol string, closes ...float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		p := d(c)
		bars[i] = market.Bar{Symbol: symbol, Timestamp: day(i), Open: p, High: p, Low: p, Close: p, Volume: d(1)}
	}
	return bars
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CommissionRate = decimal.Zero
	cfg.WarmupBars = 1
	return cfg
}

func newTestRunner(t *testing.T, cfg Config, bars []market.Bar, strategies ...strategy.Strategy) (*Runner, *metrics.Collector) {
	t.Helper()
	src := market.NewMemorySource()
	if len(bars) > 0 {
		src.Put(bars[0].Symbol, bars)
	}
	reg := strategy.NewRegistry()
	for _, s := range strategies {
		if err := reg.Register(s); err != nil {
			t.Fatalf("注册策略失败: %v", err)
		}
	}
	collector := metrics.NewCollector()
	r, err := NewRunner(cfg, src, reg, WithSink(collector))
	if err != nil {
		t.Fatalf("创建回测器失败: %v", err)
	}
	return r, collector
}

func long(sl, tp float64) *market.Signal {
	s := &market.Signal{Side: market.Long}
	if sl > 0 {
		s.StopLoss = market.PriceFromFloat(sl)
	}
	if tp > 0 {
		s.TakeProfit = market.PriceFromFloat(tp)
	}
	return s
}

func TestRunnerTakeProfit(t *testing.T) {
	bars := barsFromCloses("BTCUSDT", 100, 105, 111, 112)
	strat := &scripted{name: "tp", signals: map[int]*market.Signal{0: long(95, 110)}}
	r, _ := newTestRunner(t, testConfig(), bars, strat)

	res, err := r.Run(context.Background(), Request{Strategy: "tp", Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	trades := res.Report.Trades
	if len(trades) != 1 {
		t.Fatalf("期望 1 笔交易, 得到 %d", len(trades))
	}
	tr := trades[0]
	if tr.ExitReason != ExitTakeProfit || !tr.ExitPrice.Equal(d(111)) || !tr.PnL.Equal(d(11)) {
		t.Errorf("止盈交易不正确: %+v", tr)
	}
	if !tr.ExitTime.Equal(day(2)) {
		t.Errorf("应在第 3 根 bar 平仓, 得到 %s", tr.ExitTime)
	}
	// 初始风险 5，盈利 11
	if !tr.RMultiple.Valid || !tr.RMultiple.Decimal.Equal(d(2.2)) {
		t.Errorf("R 倍数期望 2.2, 得到 %v", tr.RMultiple)
	}
	if !res.Report.FinalBalance.Equal(d(10011)) {
		t.Errorf("最终余额期望 10011, 得到 %s", res.Report.FinalBalance)
	}
}

func TestRunnerStopLossCheckedFirst(t *testing.T) {
	bars := barsFromCloses("BTCUSDT", 100, 101, 94, 120)
	strat := &scripted{name: "sl", signals: map[int]*market.Signal{0: long(95, 110)}}
	r, _ := newTestRunner(t, testConfig(), bars, strat)

	res, err := r.Run(context.Background(), Request{Strategy: "sl", Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if len(res.Report.Trades) != 1 {
		t.Fatalf("期望 1 笔交易, 得到 %d", len(res.Report.Trades))
	}
	tr := res.Report.Trades[0]
	if tr.ExitReason != ExitStopLoss || !tr.PnL.Equal(d(-6)) {
		t.Errorf("止损交易不正确: %+v", tr)
	}
	if !tr.RMultiple.Decimal.Equal(d(-1.2)) {
		t.Errorf("R 倍数期望 -1.2, 得到 %s", tr.RMultiple.Decimal)
	}
}

func TestRunnerShortWithSlippageAndCommission(t *testing.T) {
	cfg := testConfig()
	cfg.Slippage = d(1)
	cfg.CommissionRate = d(0.001)
	bars := barsFromCloses("ETHUSDT", 100, 90, 80)
	strat := &scripted{name: "short", signals: map[int]*market.Signal{0: {Side: market.Short}}}
	r, _ := newTestRunner(t, cfg, bars, strat)

	res, err := r.Run(context.Background(), Request{Strategy: "short", Symbol: "ETHUSDT"})
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	tr := res.Report.Trades[0]
	// 空头开仓 100-1，平仓 80+1
	if !tr.EntryPrice.Equal(d(99)) || !tr.ExitPrice.Equal(d(81)) {
		t.Errorf("滑点方向不正确: 开 %s 平 %s", tr.EntryPrice, tr.ExitPrice)
	}
	if tr.ExitReason != ExitEndOfBacktest {
		t.Errorf("期望数据结束强制平仓, 得到 %s", tr.ExitReason)
	}
	wantCommission := d(99 + 81).Mul(d(0.001))
	if !tr.Commission.Equal(wantCommission) {
		t.Errorf("手续费期望 %s, 得到 %s", wantCommission, tr.Commission)
	}
	if !tr.PnL.Equal(d(18).Sub(wantCommission)) {
		t.Errorf("盈亏期望 %s, 得到 %s", d(18).Sub(wantCommission), tr.PnL)
	}
	curve := res.Report.EquityCurve
	if !curve[len(curve)-1].Equity.Equal(res.Report.FinalBalance) {
		t.Errorf("最后一个权益点应等于平仓后余额")
	}
}

func TestRunnerFlatClosesAll(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositions = 2
	bars := barsFromCloses("BTCUSDT", 100, 102, 104, 106)
	strat := &scripted{name: "flat", signals: map[int]*market.Signal{
		0: {Side: market.Long},
		1: {Side: market.Long},
		2: {Side: market.Long}, // 已达上限，忽略
		3: {Side: market.Flat},
	}}
	r, _ := newTestRunner(t, cfg, bars, strat)

	res, err := r.Run(context.Background(), Request{Strategy: "flat", Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if len(res.Report.Trades) != 2 {
		t.Fatalf("期望 2 笔交易, 得到 %d", len(res.Report.Trades))
	}
	for _, tr := range res.Report.Trades {
		if tr.ExitReason != ExitSignal || !tr.ExitTime.Equal(day(3)) {
			t.Errorf("flat 信号应平掉全部持仓: %+v", tr)
		}
	}
	if !res.Report.NetPnL.Equal(d(10)) {
		t.Errorf("净盈亏期望 10, 得到 %s", res.Report.NetPnL)
	}
}

func TestRunnerWarmup(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupBars = 3
	bars := barsFromCloses("BTCUSDT", 100, 101, 102, 103)
	strat := &scripted{name: "warm", signals: map[int]*market.Signal{0: {Side: market.Long}, 1: {Side: market.Long}}}
	r, _ := newTestRunner(t, cfg, bars, strat)

	res, err := r.Run(context.Background(), Request{Strategy: "warm", Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if res.Report.TotalTrades != 0 {
		t.Errorf("预热期内不应开仓, 得到 %d 笔交易", res.Report.TotalTrades)
	}
	if len(res.Report.EquityCurve) != 4 {
		t.Errorf("每根 bar 都应记录权益")
	}
}

func TestRunnerSignalErrorContinues(t *testing.T) {
	bars := barsFromCloses("BTCUSDT", 100, 101, 102, 103, 104)
	strat := &scripted{
		name: "flaky",
		fail: map[int]bool{0: true, 2: true},
		signals: map[int]*market.Signal{
			1: long(105, 0), // 止损在入场价上方，校验失败
			3: {Side: market.Long},
		},
	}
	r, collector := newTestRunner(t, testConfig(), bars, strat)

	res, err := r.Run(context.Background(), Request{Strategy: "flaky", Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("单步失败不应终止回测: %v", err)
	}
	if res.SignalErrors != 3 {
		t.Errorf("期望 3 次信号失败, 得到 %d", res.SignalErrors)
	}
	if res.Report.TotalTrades != 1 {
		t.Errorf("失败后应继续执行, 期望 1 笔交易, 得到 %d", res.Report.TotalTrades)
	}
	snap := collector.Snapshot()
	if snap.SignalErrors["flaky"] != 3 || snap.BacktestRuns["flaky/partial"] != 1 {
		t.Errorf("遥测记录不正确: %+v", snap)
	}
}

func TestStepResultWrapsSignalError(t *testing.T) {
	bars := barsFromCloses("BTCUSDT", 100)
	s := &session{cfg: testConfig(), strategy: &scripted{name: "x", fail: map[int]bool{0: true}}}
	res := s.evaluate(bars, 0)
	if !res.Failed() {
		t.Fatal("期望失败")
	}
	var se *SignalError
	if !errors.As(res.Err, &se) || se.Index != 0 || !errors.Is(res.Err, market.ErrStrategy) {
		t.Errorf("错误类型不正确: %v", res.Err)
	}
}

func TestRunnerStrategyNotFound(t *testing.T) {
	bars := barsFromCloses("BTCUSDT", 100)
	r, _ := newTestRunner(t, testConfig(), bars, &scripted{name: "a"}, &scripted{name: "b"})

	_, err := r.Run(context.Background(), Request{Strategy: "missing", Symbol: "BTCUSDT"})
	var nf *StrategyNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("期望 StrategyNotFoundError, 得到 %v", err)
	}
	if len(nf.Available) != 2 || !errors.Is(err, market.ErrStrategy) {
		t.Errorf("错误内容不正确: %+v", nf)
	}
}

func TestRunnerNoData(t *testing.T) {
	bars := barsFromCloses("BTCUSDT", 100, 101)
	r, collector := newTestRunner(t, testConfig(), bars, &scripted{name: "a"})

	_, err := r.Run(context.Background(), Request{Strategy: "a", Symbol: "BTCUSDT", Start: day(10), End: day(20)})
	var nd *NoDataError
	if !errors.As(err, &nd) {
		t.Fatalf("期望 NoDataError, 得到 %v", err)
	}
	if nd.Strategy != "a" || !nd.Start.Equal(day(10)) || !errors.Is(err, market.ErrData) {
		t.Errorf("错误上下文不正确: %+v", nd)
	}
	var notFound *market.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("应保留底层 NotFoundError")
	}
	if collector.Snapshot().BacktestRuns["a/no_data"] != 1 {
		t.Errorf("应记录 no_data 状态")
	}
}

func TestRunnerRiskSizing(t *testing.T) {
	cfg := testConfig()
	cfg.RiskPerTrade = d(0.01)
	bars := barsFromCloses("BTCUSDT", 100, 100)
	strat := &scripted{name: "risk", signals: map[int]*market.Signal{0: long(98, 0)}}
	r, _ := newTestRunner(t, cfg, bars, strat)

	res, err := r.Run(context.Background(), Request{Strategy: "risk", Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	// 10000 * 1% / 2 = 50
	if size := res.Report.Trades[0].Size; !size.Equal(d(50)) {
		t.Errorf("仓位期望 50, 得到 %s", size)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"初始资金", func(c *Config) { c.InitialBalance = decimal.Zero }, "backtest.initial_balance"},
		{"滑点", func(c *Config) { c.Slippage = d(-1) }, "backtest.slippage"},
		{"手续费", func(c *Config) { c.CommissionRate = d(1) }, "backtest.commission_rate"},
		{"持仓上限", func(c *Config) { c.MaxPositions = 0 }, "backtest.max_positions"},
		{"预热", func(c *Config) { c.WarmupBars = 0 }, "backtest.warmup_bars"},
		{"仓位", func(c *Config) { c.PositionSize = decimal.Zero }, "backtest.position_size"},
		{"风险比例", func(c *Config) { c.RiskPerTrade = d(2) }, "backtest.risk_per_trade"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			err := cfg.Validate()
			var ce *market.ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Errorf("期望字段 %s 的 ConfigError, 得到 %v", tt.field, err)
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("默认配置应合法: %v", err)
	}
}

func TestBuiltinStrategiesRun(t *testing.T) {
	closes := make([]float64, 300)
	for i := range closes {
		// 锯齿行情
		closes[i] = 100 + float64(i%40) - float64((i/40)%2)*float64(i%40)*2
	}
	bars := barsFromCloses("BTCUSDT", closes...)

	reg := strategy.DefaultRegistry()
	src := market.NewMemorySource()
	src.Put("BTCUSDT", bars)
	r, err := NewRunner(DefaultConfig(), src, reg)
	if err != nil {
		t.Fatalf("创建回测器失败: %v", err)
	}
	for _, name := range reg.List() {
		res, err := r.Run(context.Background(), Request{Strategy: name, Symbol: "BTCUSDT"})
		if err != nil {
			t.Fatalf("%s 回测失败: %v", name, err)
		}
		t.Logf("✅ %s: 交易=%d 收益=%.2f%% 回撤=%.2f%%", name,
			res.Report.TotalTrades, res.Report.TotalReturn, res.Report.MaxDrawdown)
		if res.Report.FinalBalance.IsNegative() {
			t.Errorf("%s 最终资金为负", name)
		}
		if res.Bars != len(bars) {
			t.Errorf("%s bar 数量不正确", name)
		}
	}
}

func TestRunnerDeterministic(t *testing.T) {
	bars := barsFromCloses("BTCUSDT", 100, 95, 105, 98, 110, 90, 120)
	strat := &scripted{name: "det", signals: map[int]*market.Signal{0: long(92, 108), 3: long(91, 0), 5: {Side: market.Short}}}
	r, _ := newTestRunner(t, testConfig(), bars, strat)

	a, err := r.Run(context.Background(), Request{Strategy: "det", Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Run(context.Background(), Request{Strategy: "det", Symbol: "BTCUSDT"})
	if !a.Report.NetPnL.Equal(b.Report.NetPnL) || a.Report.SharpeRatio != b.Report.SharpeRatio ||
		len(a.Report.Trades) != len(b.Report.Trades) {
		t.Errorf("相同输入结果不一致")
	}
}
