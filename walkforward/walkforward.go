// Package walkforward 按时间顺序切分测试窗口的滚动（walk-forward）验证
package walkforward

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"quantgate/backtest"
	"quantgate/event"
	"quantgate/logger"
	"quantgate/market"
	"quantgate/metrics"
	"quantgate/monitor"
	"quantgate/strategy"
)

// Request 一次滚动验证请求
type Request struct {
	Strategy       string    `json:"strategy"`
	Symbol         string    `json:"symbol"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	NFolds         int       `json:"n_folds"`
	TestWindowDays int       `json:"test_window_days"`
}

// FoldResult 单个折叠的样本外结果
// 训练区间仅作记录，回测只使用测试区间的 bar
type FoldResult struct {
	FoldIndex    int             `json:"fold_index"`
	TrainStart   time.Time       `json:"train_start"`
	TrainEnd     time.Time       `json:"train_end"`
	TestStart    time.Time       `json:"test_start"`
	TestEnd      time.Time       `json:"test_end"`
	SharpeRatio  float64         `json:"sharpe_ratio"`
	MaxDrawdown  float64         `json:"max_drawdown"`
	WinRate      float64         `json:"win_rate"`
	TotalTrades  int             `json:"total_trades"`
	TotalPnL     decimal.Decimal `json:"total_pnl"`
	Bars         int             `json:"bars"`
	SignalErrors int             `json:"signal_errors"`
}

// ValidationResult 滚动验证汇总；Passed 只由晋升引擎写入
type ValidationResult struct {
	RunID              string          `json:"run_id"`
	StrategyName       string          `json:"strategy_name"`
	Symbol             string          `json:"symbol"`
	Start              time.Time       `json:"start"`
	End                time.Time       `json:"end"`
	NFolds             int             `json:"n_folds"`
	TestWindowDays     int             `json:"test_window_days"`
	FoldResults        []FoldResult    `json:"fold_results"`
	OverallSharpe      float64         `json:"overall_sharpe"`
	OverallMaxDD       float64         `json:"overall_max_dd"`
	OverallWinRate     float64         `json:"overall_win_rate"`
	OverallTotalTrades int             `json:"overall_total_trades"`
	OverallTotalPnL    decimal.Decimal `json:"overall_total_pnl"`
	Passed             bool            `json:"passed"`
	StartedAt          time.Time       `json:"started_at"`
	Duration           time.Duration   `json:"duration"`
	PeakMemoryMB       float64         `json:"peak_memory_mb"`
}

// RunRecorder 持久化验证结果
type RunRecorder interface {
	SaveRun(ctx context.Context, result *ValidationResult) error
}

// Config 验证器参数
type Config struct {
	Workers        int           // 并行折叠数，<=0 表示 1
	Budget         time.Duration // 总耗时预算，0 表示不限
	SampleInterval time.Duration // 资源采样间隔，0 表示不采样
}

// Validator 滚动验证器，复用同一个 Runner 执行各折叠
type Validator struct {
	runner   *backtest.Runner
	mu       sync.RWMutex
	cfg      Config
	sink     metrics.Sink
	events   event.Publisher
	recorder RunRecorder
}

// Option Validator 可选项
type Option func(*Validator)

// WithSink 设置遥测输出
func WithSink(sink metrics.Sink) Option {
	return func(v *Validator) { v.sink = sink }
}

// WithPublisher 设置事件发布
func WithPublisher(p event.Publisher) Option {
	return func(v *Validator) { v.events = p }
}

// WithRecorder 设置结果持久化
func WithRecorder(r RunRecorder) Option {
	return func(v *Validator) { v.recorder = r }
}

// NewValidator 创建验证器
func NewValidator(runner *backtest.Runner, cfg Config, opts ...Option) *Validator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	v := &Validator{runner: runner, cfg: cfg, sink: metrics.Nop{}, events: event.Nop{}}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetConfig 更新并行度与预算，对之后开始的验证生效
func (v *Validator) SetConfig(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	v.mu.Lock()
	v.cfg = cfg
	v.mu.Unlock()
}

func (v *Validator) config() Config {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cfg
}

// FoldBoundaries boundary[i] = start + i*windowDays，共 nFolds+1 个
func FoldBoundaries(start time.Time, nFolds, windowDays int) []time.Time {
	if nFolds < 1 || windowDays < 1 {
		return nil
	}
	out := make([]time.Time, nFolds+1)
	for i := range out {
		out[i] = start.AddDate(0, 0, i*windowDays)
	}
	return out
}

// validate 在任何工作开始前检查请求
func (req Request) validate() error {
	switch {
	case req.NFolds < 1:
		return &market.ConfigError{Field: "n_folds", Value: req.NFolds, Reason: "必须 >= 1"}
	case req.TestWindowDays < 1:
		return &market.ConfigError{Field: "test_window_days", Value: req.TestWindowDays, Reason: "必须 >= 1"}
	case req.Start.IsZero() || req.End.IsZero():
		return &market.ConfigError{Field: "start/end", Value: fmt.Sprintf("%s/%s", market.FormatDate(req.Start), market.FormatDate(req.End)), Reason: "滚动验证需要明确的起止日期"}
	}
	days := int(req.End.Sub(req.Start).Hours() / 24)
	if required := req.NFolds * req.TestWindowDays; days < required {
		return &InsufficientDataError{Strategy: req.Strategy, Start: req.Start, End: req.End, AvailableDay: days, RequiredDays: required}
	}
	return nil
}

// Validate 执行滚动验证
// 数据在整个区间上只加载一次，各折叠切出自己的测试窗口并行回测，全部完成后再汇总
func (v *Validator) Validate(ctx context.Context, req Request) (*ValidationResult, error) {
	started := time.Now()
	cfg := v.config()
	if err := req.validate(); err != nil {
		return nil, err
	}
	strat, ok := v.runner.Strategies().Get(req.Strategy)
	if !ok {
		return nil, &backtest.StrategyNotFoundError{Name: req.Strategy, Available: v.runner.Strategies().List()}
	}

	boundaries := FoldBoundaries(req.Start, req.NFolds, req.TestWindowDays)
	last := boundaries[len(boundaries)-1]

	bars, err := v.runner.Source().Load(ctx, req.Symbol, req.Start, last)
	if err != nil {
		var nf *market.NotFoundError
		if errors.As(err, &nf) {
			v.sink.ObserveWalkForward(req.Strategy, "no_data", time.Since(started))
			return nil, &backtest.NoDataError{Strategy: req.Strategy, Symbol: req.Symbol, Start: req.Start, End: last, Err: err}
		}
		v.sink.ObserveWalkForward(req.Strategy, "error", time.Since(started))
		return nil, fmt.Errorf("加载 %s 数据失败: %w", req.Symbol, err)
	}

	runID := uuid.NewString()
	logger.Info("🔁 开始滚动验证: run=%s 策略=%s 品种=%s 折叠=%d 窗口=%d天",
		runID, req.Strategy, req.Symbol, req.NFolds, req.TestWindowDays)

	var stopWatch func() monitor.Usage
	if cfg.SampleInterval > 0 {
		stopWatch = monitor.Watch(ctx, cfg.SampleInterval)
	}

	folds := make([]FoldResult, req.NFolds)
	var (
		completed int32
		budgetErr error
		budgetMu  sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < req.NFolds; i++ {
		i := i
		// 预算在折叠之间检查，已开始的折叠不会被打断
		if cfg.Budget > 0 && time.Since(started) > cfg.Budget {
			budgetMu.Lock()
			budgetErr = &BudgetExceededError{Strategy: req.Strategy, Budget: cfg.Budget, Completed: int(atomic.LoadInt32(&completed)), Total: req.NFolds}
			budgetMu.Unlock()
			break
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if cfg.Budget > 0 && time.Since(started) > cfg.Budget {
				return &BudgetExceededError{Strategy: req.Strategy, Budget: cfg.Budget, Completed: int(atomic.LoadInt32(&completed)), Total: req.NFolds}
			}
			folds[i] = v.runFold(strat, req, boundaries, bars, i)
			atomic.AddInt32(&completed, 1)
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = budgetErr
	}
	if err == nil {
		err = ctx.Err()
	}

	var usage monitor.Usage
	if stopWatch != nil {
		usage = stopWatch()
	}
	if err != nil {
		v.sink.ObserveWalkForward(req.Strategy, "aborted", time.Since(started))
		logger.Warn("⚠️ 滚动验证中止: run=%s %v", runID, err)
		return nil, err
	}

	result := aggregate(folds)
	result.RunID = runID
	result.StrategyName = req.Strategy
	result.Symbol = req.Symbol
	result.Start = req.Start
	result.End = req.End
	result.NFolds = req.NFolds
	result.TestWindowDays = req.TestWindowDays
	result.StartedAt = started
	result.Duration = time.Since(started)
	result.PeakMemoryMB = usage.PeakMemoryMB

	v.sink.ObserveWalkForward(req.Strategy, "success", result.Duration)
	logger.Info("✅ 滚动验证完成: run=%s 平均夏普=%.4f 最大回撤=%.2f%% 平均胜率=%.2f%% 交易=%d 盈亏=%s 耗时=%s",
		runID, result.OverallSharpe, result.OverallMaxDD, result.OverallWinRate,
		result.OverallTotalTrades, result.OverallTotalPnL.StringFixed(2), result.Duration)

	if v.recorder != nil {
		if err := v.recorder.SaveRun(ctx, result); err != nil {
			logger.Error("❌ 保存滚动验证结果失败: run=%s %v", runID, err)
		}
	}
	v.events.Publish(&event.Event{
		Type: event.EventTypeWalkForwardCompleted,
		Data: map[string]interface{}{
			"strategy":       req.Strategy,
			"symbol":         req.Symbol,
			"run_id":         runID,
			"n_folds":        req.NFolds,
			"overall_sharpe": result.OverallSharpe,
			"overall_max_dd": result.OverallMaxDD,
		},
	})
	return result, nil
}

// runFold 在第 i 个测试窗口上回测
func (v *Validator) runFold(strat strategy.Strategy, req Request, boundaries []time.Time, bars []market.Bar, i int) FoldResult {
	fold := FoldResult{
		FoldIndex:  i,
		TrainStart: req.Start,
		TrainEnd:   boundaries[i],
		TestStart:  boundaries[i],
		TestEnd:    boundaries[i+1],
		TotalPnL:   decimal.Zero,
	}
	started := time.Now()

	testBars := market.FilterRange(bars, fold.TestStart, fold.TestEnd)
	if len(testBars) == 0 {
		logger.Warn("⚠️ 折叠 #%d [%s, %s) 没有数据，按零结果记录",
			i, market.FormatDate(fold.TestStart), market.FormatDate(fold.TestEnd))
		v.sink.ObserveFold(req.Strategy, "no_data", time.Since(started))
		return fold
	}

	res := v.runner.Simulate(strat, req.Symbol, testBars)
	r := res.Report
	fold.SharpeRatio = r.SharpeRatio
	fold.MaxDrawdown = r.MaxDrawdown
	fold.WinRate = r.WinRate
	fold.TotalTrades = r.TotalTrades
	fold.TotalPnL = r.NetPnL
	fold.Bars = res.Bars
	fold.SignalErrors = res.SignalErrors

	v.sink.ObserveFold(req.Strategy, "success", time.Since(started))
	logger.Info("📊 折叠 #%d 完成: [%s, %s) 交易=%d 夏普=%.4f 回撤=%.2f%%",
		i, market.FormatDate(fold.TestStart), market.FormatDate(fold.TestEnd),
		fold.TotalTrades, fold.SharpeRatio, fold.MaxDrawdown)
	v.events.Publish(&event.Event{
		Type: event.EventTypeFoldCompleted,
		Data: map[string]interface{}{
			"strategy":     req.Strategy,
			"fold_index":   i,
			"test_start":   fold.TestStart,
			"test_end":     fold.TestEnd,
			"sharpe_ratio": fold.SharpeRatio,
			"total_trades": fold.TotalTrades,
		},
	})
	return fold
}

// aggregate 所有折叠完成后汇总：夏普与胜率取均值，回撤取最大，交易数与盈亏求和
func aggregate(folds []FoldResult) *ValidationResult {
	sorted := make([]FoldResult, len(folds))
	copy(sorted, folds)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].FoldIndex < sorted[b].FoldIndex })

	result := &ValidationResult{FoldResults: sorted, OverallTotalPnL: decimal.Zero}
	if len(sorted) == 0 {
		return result
	}
	var sharpe, winRate float64
	for _, f := range sorted {
		sharpe += f.SharpeRatio
		winRate += f.WinRate
		if f.MaxDrawdown > result.OverallMaxDD {
			result.OverallMaxDD = f.MaxDrawdown
		}
		result.OverallTotalTrades += f.TotalTrades
		result.OverallTotalPnL = result.OverallTotalPnL.Add(f.TotalPnL)
	}
	n := float64(len(sorted))
	result.OverallSharpe = backtest.RoundRatio(sharpe / n)
	result.OverallWinRate = backtest.RoundCurrency(winRate / n)
	return result
}
