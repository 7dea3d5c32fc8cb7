package metrics

import (
	"sync"
	"time"
)

// Sink 遥测输出，调用方不关心结果，实现不得阻塞或 panic
type Sink interface {
	ObserveBacktest(strategy, status string, duration time.Duration, trades int)
	IncSignalErrors(strategy string, n int)
	ObserveFold(strategy, status string, duration time.Duration)
	ObserveWalkForward(strategy, status string, duration time.Duration)
	IncPromotion(transition, result string)
}

// Nop 丢弃所有指标
type Nop struct{}

func (Nop) ObserveBacktest(string, string, time.Duration, int) {}
func (Nop) IncSignalErrors(string, int)                         {}
func (Nop) ObserveFold(string, string, time.Duration)           {}
func (Nop) ObserveWalkForward(string, string, time.Duration)    {}
func (Nop) IncPromotion(string, string)                         {}

// Snapshot 内存收集器的计数快照
type Snapshot struct {
	BacktestRuns    map[string]int // key: strategy/status
	SignalErrors    map[string]int
	Folds           map[string]int
	WalkForwardRuns map[string]int
	Promotions      map[string]int // key: transition/result
	LastUpdate      time.Time
}

// Collector 内存指标收集器，用于 /api/v1/stats 与测试
type Collector struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewCollector 创建内存收集器
func NewCollector() *Collector {
	return &Collector{snap: Snapshot{
		BacktestRuns:    make(map[string]int),
		SignalErrors:    make(map[string]int),
		Folds:           make(map[string]int),
		WalkForwardRuns: make(map[string]int),
		Promotions:      make(map[string]int),
		LastUpdate:      time.Now(),
	}}
}

func (c *Collector) add(m map[string]int, key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m[key] += n
	c.snap.LastUpdate = time.Now()
}

// ObserveBacktest 实现 Sink
func (c *Collector) ObserveBacktest(strategy, status string, _ time.Duration, _ int) {
	c.add(c.snap.BacktestRuns, strategy+"/"+status, 1)
}

// IncSignalErrors 实现 Sink
func (c *Collector) IncSignalErrors(strategy string, n int) {
	c.add(c.snap.SignalErrors, strategy, n)
}

// ObserveFold 实现 Sink
func (c *Collector) ObserveFold(strategy, status string, _ time.Duration) {
	c.add(c.snap.Folds, strategy+"/"+status, 1)
}

// ObserveWalkForward 实现 Sink
func (c *Collector) ObserveWalkForward(strategy, status string, _ time.Duration) {
	c.add(c.snap.WalkForwardRuns, strategy+"/"+status, 1)
}

// IncPromotion 实现 Sink
func (c *Collector) IncPromotion(transition, result string) {
	c.add(c.snap.Promotions, transition+"/"+result, 1)
}

// Snapshot 返回计数的副本
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := Snapshot{LastUpdate: c.snap.LastUpdate}
	cp.BacktestRuns = copyCounts(c.snap.BacktestRuns)
	cp.SignalErrors = copyCounts(c.snap.SignalErrors)
	cp.Folds = copyCounts(c.snap.Folds)
	cp.WalkForwardRuns = copyCounts(c.snap.WalkForwardRuns)
	cp.Promotions = copyCounts(c.snap.Promotions)
	return cp
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Multi 把同一事件分发给多个 Sink
type Multi []Sink

func (m Multi) ObserveBacktest(strategy, status string, d time.Duration, trades int) {
	for _, s := range m {
		s.ObserveBacktest(strategy, status, d, trades)
	}
}

func (m Multi) IncSignalErrors(strategy string, n int) {
	for _, s := range m {
		s.IncSignalErrors(strategy, n)
	}
}

func (m Multi) ObserveFold(strategy, status string, d time.Duration) {
	for _, s := range m {
		s.ObserveFold(strategy, status, d)
	}
}

func (m Multi) ObserveWalkForward(strategy, status string, d time.Duration) {
	for _, s := range m {
		s.ObserveWalkForward(strategy, status, d)
	}
}

func (m Multi) IncPromotion(transition, result string) {
	for _, s := range m {
		s.IncPromotion(transition, result)
	}
}
