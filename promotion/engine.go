package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quantgate/event"
	"quantgate/lock"
	"quantgate/logger"
	"quantgate/market"
	"quantgate/metrics"
	"quantgate/walkforward"
)

const defaultLockTTL = 30 * time.Second

// Engine 晋升引擎
// 每次状态转换在策略名上加锁，并以版本号比较并交换写回，两者缺一不可
type Engine struct {
	store  Store
	locker lock.DistributedLock
	ttl    time.Duration
	obs    lock.Observer
	sink   metrics.Sink
	events event.Publisher
	now    func() time.Time

	mu         sync.RWMutex
	thresholds Thresholds
}

// Option Engine 可选项
type Option func(*Engine)

// WithLock 设置锁实现与持有时长
func WithLock(l lock.DistributedLock, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithLockObserver 记录锁获取情况
func WithLockObserver(obs lock.Observer) Option {
	return func(e *Engine) { e.obs = obs }
}

// WithSink 设置遥测输出
func WithSink(sink metrics.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithPublisher 设置事件发布
func WithPublisher(p event.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine 创建晋升引擎，门槛非法时返回 ConfigError
func NewEngine(store Store, thresholds Thresholds, opts ...Option) (*Engine, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:      store,
		locker:     lock.NewLocalLock(),
		ttl:        defaultLockTTL,
		sink:       metrics.Nop{},
		events:     event.Nop{},
		now:        func() time.Time { return time.Now().UTC() },
		thresholds: thresholds,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Thresholds 当前门槛
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// SetThresholds 热更新门槛
func (e *Engine) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.thresholds = t
	e.mu.Unlock()
	logger.Info("🔄 晋升门槛已更新: sharpe>=%.2f 回撤<=%.2f%% 胜率>=%.2f%% 交易>=%d 模拟盘>=%d天/%d笔",
		t.MinSharpe, t.MaxDrawdown, t.MinWinRate, t.MinTrades, t.MinPaperDays, t.MinPaperTrades)
	return nil
}

// Register 注册新策略，初始状态 development
func (e *Engine) Register(ctx context.Context, name string) (*StrategyMetadata, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &market.ConfigError{Field: "name", Value: name, Reason: "策略名不能为空"}
	}
	meta := NewStrategyMetadata(name, e.now())
	if err := e.store.Create(ctx, meta); err != nil {
		return nil, err
	}
	logger.Info("🆕 已注册策略: %s", name)
	return meta, nil
}

// Get 读取策略元数据
func (e *Engine) Get(ctx context.Context, name string) (*StrategyMetadata, error) {
	return e.store.Get(ctx, name)
}

// List 全部策略
func (e *Engine) List(ctx context.Context) ([]*StrategyMetadata, error) {
	return e.store.List(ctx)
}

// PromoteToBacktest development → backtest，四项门槛全部满足才通过
// 通过时把滚动验证指标写入元数据并设置 result.Passed
func (e *Engine) PromoteToBacktest(ctx context.Context, name string, result *walkforward.ValidationResult) (bool, error) {
	if result == nil {
		return false, &market.ConfigError{Field: "validation_result", Value: nil, Reason: "缺少滚动验证结果"}
	}
	th := e.Thresholds()
	approved := false
	err := e.transition(ctx, name, []Status{StatusDevelopment}, StatusBacktest, func(meta *StrategyMetadata, rec *PromotionRecord) {
		rec.Metrics = map[string]float64{
			"sharpe_ratio": result.OverallSharpe,
			"max_drawdown": result.OverallMaxDD,
			"win_rate":     result.OverallWinRate,
			"total_trades": float64(result.OverallTotalTrades),
		}
		var failed []string
		if result.OverallSharpe < th.MinSharpe {
			failed = append(failed, fmt.Sprintf("sharpe %.4f < %.4f", result.OverallSharpe, th.MinSharpe))
		}
		if result.OverallMaxDD > th.MaxDrawdown {
			failed = append(failed, fmt.Sprintf("max_drawdown %.2f%% > %.2f%%", result.OverallMaxDD, th.MaxDrawdown))
		}
		if result.OverallWinRate < th.MinWinRate {
			failed = append(failed, fmt.Sprintf("win_rate %.2f%% < %.2f%%", result.OverallWinRate, th.MinWinRate))
		}
		if result.OverallTotalTrades < th.MinTrades {
			failed = append(failed, fmt.Sprintf("total_trades %d < %d", result.OverallTotalTrades, th.MinTrades))
		}
		if len(failed) > 0 {
			rec.Result = ResultRejected
			rec.Reason = strings.Join(failed, "; ")
			return
		}
		meta.BacktestSharpe = result.OverallSharpe
		meta.BacktestMaxDD = result.OverallMaxDD
		meta.BacktestWinRate = result.OverallWinRate
		meta.BacktestTotalTrades = result.OverallTotalTrades
		approved = true
	})
	if err != nil {
		return false, err
	}
	result.Passed = approved
	return approved, nil
}

// PromoteToPaper backtest → paper，人工审批，无指标门槛
func (e *Engine) PromoteToPaper(ctx context.Context, name string) error {
	return e.transition(ctx, name, []Status{StatusBacktest}, StatusPaper, func(meta *StrategyMetadata, rec *PromotionRecord) {
		now := rec.Timestamp
		meta.PaperStartDate = &now
		meta.PaperTradeCount = 0
		meta.PaperPnL = decimal.Zero
	})
}

// PromoteToLive paper → live，要求模拟盘天数和交易笔数达标
func (e *Engine) PromoteToLive(ctx context.Context, name string) (bool, error) {
	th := e.Thresholds()
	approved := false
	err := e.transition(ctx, name, []Status{StatusPaper}, StatusLive, func(meta *StrategyMetadata, rec *PromotionRecord) {
		var days float64
		if meta.PaperStartDate != nil {
			days = rec.Timestamp.Sub(*meta.PaperStartDate).Hours() / 24
		}
		rec.Metrics = map[string]float64{
			"paper_days":   days,
			"paper_trades": float64(meta.PaperTradeCount),
			"paper_pnl":    meta.PaperPnL.InexactFloat64(),
		}
		var failed []string
		if days < float64(th.MinPaperDays) {
			failed = append(failed, fmt.Sprintf("paper_days %.1f < %d", days, th.MinPaperDays))
		}
		if meta.PaperTradeCount < th.MinPaperTrades {
			failed = append(failed, fmt.Sprintf("paper_trades %d < %d", meta.PaperTradeCount, th.MinPaperTrades))
		}
		if len(failed) > 0 {
			rec.Result = ResultRejected
			rec.Reason = strings.Join(failed, "; ")
			return
		}
		now := rec.Timestamp
		meta.LiveStartDate = &now
		approved = true
	})
	return approved, err
}

// Retire 任意未退役状态 → retired
func (e *Engine) Retire(ctx context.Context, name, reason string) error {
	return e.transition(ctx, name, []Status{StatusDevelopment, StatusBacktest, StatusPaper, StatusLive}, StatusRetired,
		func(meta *StrategyMetadata, rec *PromotionRecord) {
			now := rec.Timestamp
			meta.RetiredAt = &now
			rec.Reason = reason
		})
}

// RecordPaperTrade 累计一笔模拟盘成交，仅 paper 状态可用
func (e *Engine) RecordPaperTrade(ctx context.Context, name string, pnl decimal.Decimal) error {
	return lock.WithLock(ctx, e.locker, lockKey(name), e.ttl, e.obs, func() error {
		meta, err := e.store.Get(ctx, name)
		if err != nil {
			return err
		}
		if meta.Status != StatusPaper {
			return &StateError{Name: name, Actual: meta.Status, Expected: []Status{StatusPaper}}
		}
		meta.PaperTradeCount++
		meta.PaperPnL = meta.PaperPnL.Add(pnl)
		meta.UpdatedAt = e.now()
		return e.store.Save(ctx, meta)
	})
}

// transition 加锁读取、检查前置状态、应用变更、追加审计记录、CAS 写回
// apply 把 rec.Result 置为 rejected 时状态不变，但记录仍然写入
func (e *Engine) transition(ctx context.Context, name string, from []Status, to Status, apply func(*StrategyMetadata, *PromotionRecord)) error {
	var rec PromotionRecord
	err := lock.WithLock(ctx, e.locker, lockKey(name), e.ttl, e.obs, func() error {
		meta, err := e.store.Get(ctx, name)
		if err != nil {
			return err
		}
		if !statusIn(meta.Status, from) {
			return &StateError{Name: name, Actual: meta.Status, Expected: from}
		}

		now := e.now()
		rec = PromotionRecord{Timestamp: now, FromStatus: meta.Status, ToStatus: to, Result: ResultApproved}
		apply(meta, &rec)
		if rec.Result == ResultApproved {
			meta.Status = to
		}
		meta.History = append(meta.History, rec)
		meta.UpdatedAt = now
		return e.store.Save(ctx, meta)
	})

	transitionName := transitionLabel(from, to)
	if err != nil {
		var se *StateError
		switch {
		case errors.As(err, &se):
			e.sink.IncPromotion(transitionName, "state_error")
			logger.Warn("⚠️ 晋升前置状态不满足: %v", err)
		case errors.Is(err, ErrConcurrentUpdate):
			e.sink.IncPromotion(transitionName, "conflict")
			logger.Warn("⚠️ 策略 %s 并发修改，本次转换未生效: %v", name, err)
		default:
			e.sink.IncPromotion(transitionName, "error")
			logger.Error("❌ 策略 %s 状态转换失败: %v", name, err)
		}
		return err
	}

	e.sink.IncPromotion(transitionName, string(rec.Result))
	e.publish(name, rec)
	if rec.Result == ResultApproved {
		logger.Info("✅ 策略 %s: %s → %s", name, rec.FromStatus, rec.ToStatus)
	} else {
		logger.Warn("🚫 策略 %s 晋升 %s 被拒绝: %s", name, rec.ToStatus, rec.Reason)
	}
	return nil
}

func (e *Engine) publish(name string, rec PromotionRecord) {
	typ := event.EventTypePromotionApproved
	switch {
	case rec.ToStatus == StatusRetired:
		typ = event.EventTypeStrategyRetired
	case rec.Result == ResultRejected:
		typ = event.EventTypePromotionRejected
	}
	data := map[string]interface{}{
		"strategy": name,
		"from":     string(rec.FromStatus),
		"to":       string(rec.ToStatus),
		"result":   string(rec.Result),
	}
	if rec.Reason != "" {
		data["reason"] = rec.Reason
	}
	e.events.Publish(&event.Event{Type: typ, Timestamp: rec.Timestamp, Data: data})
}

func lockKey(name string) string { return "strategy:" + name }

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func transitionLabel(from []Status, to Status) string {
	if len(from) == 1 {
		return fmt.Sprintf("%s->%s", from[0], to)
	}
	return fmt.Sprintf("any->%s", to)
}
