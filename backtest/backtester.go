package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quantgate/event"
	"quantgate/logger"
	"quantgate/market"
	"quantgate/metrics"
	"quantgate/strategy"
)

// Config 回测参数
type Config struct {
	InitialBalance decimal.Decimal // 初始资金
	Slippage       decimal.Decimal // 固定滑点（价格单位）
	CommissionRate decimal.Decimal // 手续费率，按开平两侧成交额在平仓时扣除
	MaxPositions   int             // 同时持仓上限
	WarmupBars     int             // 向策略请求信号前至少需要的 bar 数
	PositionSize   decimal.Decimal // 固定下单数量
	RiskPerTrade   decimal.Decimal // 有止损时按余额比例计算仓位，0 表示使用固定数量
	RiskFreeRate   float64         // 年化无风险利率
}

// DefaultConfig 默认回测参数
func DefaultConfig() Config {
	return Config{
		InitialBalance: decimal.NewFromInt(10000),
		Slippage:       decimal.Zero,
		CommissionRate: decimal.NewFromFloat(0.0004),
		MaxPositions:   1,
		WarmupBars:     20,
		PositionSize:   decimal.NewFromInt(1),
		RiskPerTrade:   decimal.Zero,
		RiskFreeRate:   DefaultRiskFreeRate,
	}
}

// Validate 检查参数
func (c Config) Validate() error {
	switch {
	case !c.InitialBalance.IsPositive():
		return &market.ConfigError{Field: "backtest.initial_balance", Value: c.InitialBalance, Reason: "必须为正"}
	case c.Slippage.IsNegative():
		return &market.ConfigError{Field: "backtest.slippage", Value: c.Slippage, Reason: "不能为负"}
	case c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return &market.ConfigError{Field: "backtest.commission_rate", Value: c.CommissionRate, Reason: "必须在 [0,1) 内"}
	case c.MaxPositions < 1:
		return &market.ConfigError{Field: "backtest.max_positions", Value: c.MaxPositions, Reason: "必须 >= 1"}
	case c.WarmupBars < 1:
		return &market.ConfigError{Field: "backtest.warmup_bars", Value: c.WarmupBars, Reason: "必须 >= 1"}
	case !c.PositionSize.IsPositive():
		return &market.ConfigError{Field: "backtest.position_size", Value: c.PositionSize, Reason: "必须为正"}
	case c.RiskPerTrade.IsNegative() || c.RiskPerTrade.GreaterThan(decimal.NewFromInt(1)):
		return &market.ConfigError{Field: "backtest.risk_per_trade", Value: c.RiskPerTrade, Reason: "必须在 [0,1] 内"}
	}
	return nil
}

// Request 一次回测请求，区间为 [Start, End)
type Request struct {
	Strategy string    `json:"strategy"`
	Symbol   string    `json:"symbol"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// StepResult 单个 bar 的信号评估结果
type StepResult struct {
	Index  int
	Time   time.Time
	Signal *market.Signal
	Err    error
}

// Failed 该步是否失败
func (s StepResult) Failed() bool { return s.Err != nil }

// Result 回测输出
type Result struct {
	Strategy     string          `json:"strategy"`
	Symbol       string          `json:"symbol"`
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	Bars         int             `json:"bars"`
	SignalErrors int             `json:"signal_errors"`
	Duration     time.Duration   `json:"duration"`
	Report       *BacktestReport `json:"report"`
}

// Runner 事件驱动回测器；单次运行内严格按 bar 顺序单线程执行
type Runner struct {
	cfg        Config
	source     market.DataSource
	strategies *strategy.Registry
	sink       metrics.Sink
	events     event.Publisher
}

// RunnerOption Runner 可选项
type RunnerOption func(*Runner)

// WithSink 设置遥测输出
func WithSink(sink metrics.Sink) RunnerOption {
	return func(r *Runner) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithPublisher 设置事件发布，Run 完成后发布 backtest_completed
func WithPublisher(p event.Publisher) RunnerOption {
	return func(r *Runner) {
		if p != nil {
			r.events = p
		}
	}
}

// NewRunner 创建回测器
func NewRunner(cfg Config, source market.DataSource, strategies *strategy.Registry, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, source: source, strategies: strategies, sink: metrics.Nop{}, events: event.Nop{}}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config 当前参数
func (r *Runner) Config() Config { return r.cfg }

// Strategies 策略注册表
func (r *Runner) Strategies() *strategy.Registry { return r.strategies }

// Source 历史数据源
func (r *Runner) Source() market.DataSource { return r.source }

// Run 加载数据并执行回测
// 策略未注册返回 *StrategyNotFoundError，区间内无数据返回 *NoDataError
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	strat, ok := r.strategies.Get(req.Strategy)
	if !ok {
		return nil, &StrategyNotFoundError{Name: req.Strategy, Available: r.strategies.List()}
	}

	// 每次运行只读取一次数据源
	bars, err := r.source.Load(ctx, req.Symbol, req.Start, req.End)
	if err != nil {
		var notFound *market.NotFoundError
		if errors.As(err, &notFound) {
			r.sink.ObserveBacktest(req.Strategy, "no_data", 0, 0)
			return nil, &NoDataError{Strategy: req.Strategy, Symbol: req.Symbol, Start: req.Start, End: req.End, Err: err}
		}
		r.sink.ObserveBacktest(req.Strategy, "error", 0, 0)
		return nil, fmt.Errorf("加载 %s 数据失败 [%s, %s): %w",
			req.Symbol, market.FormatDate(req.Start), market.FormatDate(req.End), err)
	}
	if len(bars) == 0 {
		r.sink.ObserveBacktest(req.Strategy, "no_data", 0, 0)
		return nil, &NoDataError{Strategy: req.Strategy, Symbol: req.Symbol, Start: req.Start, End: req.End}
	}

	result := r.Simulate(strat, req.Symbol, bars)
	if !req.Start.IsZero() {
		result.Start = req.Start
	}
	if !req.End.IsZero() {
		result.End = req.End
	}
	r.events.Publish(&event.Event{
		Type: event.EventTypeBacktestCompleted,
		Data: map[string]interface{}{
			"strategy":     result.Strategy,
			"symbol":       result.Symbol,
			"total_trades": result.Report.TotalTrades,
			"net_pnl":      result.Report.NetPnL.String(),
			"sharpe_ratio": result.Report.SharpeRatio,
			"max_drawdown": result.Report.MaxDrawdown,
		},
	})
	return result, nil
}

// Simulate 在已加载的 bar 上执行回测循环
func (r *Runner) Simulate(strat strategy.Strategy, symbol string, bars []market.Bar) *Result {
	started := time.Now()
	logger.Info("🚀 开始回测: 策略=%s 品种=%s, %d 根K线", strat.Name(), symbol, len(bars))

	s := &session{
		cfg:      r.cfg,
		symbol:   symbol,
		strategy: strat,
		balance:  r.cfg.InitialBalance,
		curve:    make([]EquityPoint, 0, len(bars)),
	}
	for i := range bars {
		s.step(bars, i)

		if i%10000 == 0 && i > 0 {
			logger.Debug("⏳ 回测进度: %.1f%%", float64(i)/float64(len(bars))*100)
		}
	}
	if len(bars) > 0 {
		s.closeAll(bars[len(bars)-1], ExitEndOfBacktest)
		// 强制平仓后的余额即最终权益
		if len(s.curve) > 0 {
			s.curve[len(s.curve)-1].Equity = s.balance
		}
	}

	report := FromTrades(s.trades, s.curve, r.cfg.InitialBalance, ReportOptions{RiskFreeRate: r.cfg.RiskFreeRate})
	elapsed := time.Since(started)

	status := "success"
	if s.signalErrors > 0 {
		status = "partial"
		r.sink.IncSignalErrors(strat.Name(), s.signalErrors)
	}
	r.sink.ObserveBacktest(strat.Name(), status, elapsed, report.TotalTrades)

	logger.Info("✅ 回测完成: 策略=%s 交易=%d 净盈亏=%s 夏普=%.4f 最大回撤=%.2f%% 信号失败=%d",
		strat.Name(), report.TotalTrades, report.NetPnL.StringFixed(2), report.SharpeRatio, report.MaxDrawdown, s.signalErrors)

	result := &Result{
		Strategy:     strat.Name(),
		Symbol:       symbol,
		Bars:         len(bars),
		SignalErrors: s.signalErrors,
		Duration:     elapsed,
		Report:       report,
	}
	if len(bars) > 0 {
		result.Start = bars[0].Timestamp
		result.End = bars[len(bars)-1].Timestamp
	}
	return result
}

// session 单次运行的可变状态，不在运行之间共享
type session struct {
	cfg      Config
	symbol   string
	strategy strategy.Strategy

	positions    []*Position
	trades       []Trade
	curve        []EquityPoint
	balance      decimal.Decimal
	signalErrors int
}

// step 处理第 i 根 bar
func (s *session) step(bars []market.Bar, i int) {
	bar := bars[i]

	// 1. 更新浮动盈亏
	for _, p := range s.positions {
		p.Mark(bar.Close)
	}

	// 2. 止损/止盈，每个持仓每根 bar 最多平一次
	open := s.positions[:0]
	for _, p := range s.positions {
		if reason, hit := p.ExitTriggered(bar.Close); hit {
			s.close(p, bar, reason)
			continue
		}
		open = append(open, p)
	}
	s.positions = open

	// 3. 预热完成后请求信号，窗口只包含当前及之前的 bar
	if i+1 >= s.cfg.WarmupBars {
		res := s.evaluate(bars[:i+1:i+1], i)
		if res.Failed() {
			s.signalErrors++
			logger.Warn("⚠️ %v", res.Err)
		} else if res.Signal != nil {
			s.apply(res.Signal, bar)
		}
	}

	// 4. 记录权益
	equity := s.balance
	for _, p := range s.positions {
		equity = equity.Add(p.UnrealizedPnL)
	}
	s.curve = append(s.curve, EquityPoint{Time: bar.Timestamp, Equity: equity})
}

// evaluate 调用策略并把错误包装为 StepResult
func (s *session) evaluate(window []market.Bar, i int) StepResult {
	bar := window[len(window)-1]
	res := StepResult{Index: i, Time: bar.Timestamp}

	sig, err := s.strategy.GenerateSignal(window)
	if err == nil && sig != nil {
		err = sig.Validate(s.entryPrice(sig.Side, bar.Close))
	}
	if err != nil {
		res.Err = &SignalError{Strategy: s.strategy.Name(), Index: i, Time: bar.Timestamp, Err: err}
		return res
	}
	res.Signal = sig
	return res
}

// apply 执行信号：flat 平掉全部持仓，多/空在未达上限时开仓
func (s *session) apply(sig *market.Signal, bar market.Bar) {
	if sig.Side == market.Flat {
		s.closeAll(bar, ExitSignal)
		return
	}
	if len(s.positions) >= s.cfg.MaxPositions {
		logger.Debug("⏸️ 持仓已达上限 %d，忽略 %s 信号", s.cfg.MaxPositions, sig.Side)
		return
	}

	entry := s.entryPrice(sig.Side, bar.Close)
	if !entry.IsPositive() {
		return
	}
	size := s.positionSize(sig, entry)
	if !size.IsPositive() {
		return
	}

	p := &Position{
		Symbol:     s.symbol,
		Side:       sig.Side,
		EntryPrice: entry,
		EntryTime:  bar.Timestamp,
		Size:       size,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	}
	p.Mark(bar.Close)
	s.positions = append(s.positions, p)

	logger.Debug("📈 开仓: %s %s 价格=%s 数量=%s 原因=%s", p.Side, s.symbol, entry, size, sig.Reason)
}

// entryPrice 开仓价：多头加滑点，空头减滑点
func (s *session) entryPrice(side market.Side, price decimal.Decimal) decimal.Decimal {
	if side == market.Short {
		return price.Sub(s.cfg.Slippage)
	}
	return price.Add(s.cfg.Slippage)
}

// positionSize 有止损且设置了风险比例时按风险计算，否则使用固定数量
func (s *session) positionSize(sig *market.Signal, entry decimal.Decimal) decimal.Decimal {
	if s.cfg.RiskPerTrade.IsPositive() && sig.StopLoss.Valid {
		risk := entry.Sub(sig.StopLoss.Decimal).Abs()
		if risk.IsPositive() {
			return s.balance.Mul(s.cfg.RiskPerTrade).Div(risk).Round(8)
		}
	}
	return s.cfg.PositionSize
}

// close 平仓：不利方向滑点、扣手续费、更新余额并记录成交
func (s *session) close(p *Position, bar market.Bar, reason ExitReason) {
	exit := bar.Close.Sub(s.cfg.Slippage)
	if p.Side == market.Short {
		exit = bar.Close.Add(s.cfg.Slippage)
	}

	gross := exit.Sub(p.EntryPrice).Mul(p.Size).Mul(p.Side.Sign())
	commission := p.EntryPrice.Add(exit).Mul(p.Size).Mul(s.cfg.CommissionRate)
	pnl := gross.Sub(commission)
	s.balance = s.balance.Add(pnl)

	trade := Trade{
		Symbol:     p.Symbol,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exit,
		EntryTime:  p.EntryTime,
		ExitTime:   bar.Timestamp,
		Size:       p.Size,
		PnL:        pnl,
		Commission: commission,
		ExitReason: reason,
	}
	if p.StopLoss.Valid {
		risk := p.EntryPrice.Sub(p.StopLoss.Decimal).Abs().Mul(p.Size)
		if risk.IsPositive() {
			trade.RMultiple = market.Price(pnl.Div(risk).Round(4))
		}
	}
	s.trades = append(s.trades, trade)

	logger.Debug("📉 平仓: %s %s 价格=%s 盈亏=%s 原因=%s", p.Side, p.Symbol, exit, pnl.StringFixed(2), reason)
}

// closeAll 按同一根 bar 平掉全部持仓
func (s *session) closeAll(bar market.Bar, reason ExitReason) {
	for _, p := range s.positions {
		p.Mark(bar.Close)
		s.close(p, bar, reason)
	}
	s.positions = s.positions[:0]
}
