// Package event 领域事件总线与转发
package event

import (
	"sync"
	"time"

	"quantgate/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeBacktestCompleted    EventType = "backtest_completed"
	EventTypeFoldCompleted        EventType = "fold_completed"
	EventTypeWalkForwardCompleted EventType = "walkforward_completed"
	EventTypePromotionApproved    EventType = "promotion_approved"
	EventTypePromotionRejected    EventType = "promotion_rejected"
	EventTypeStrategyRetired      EventType = "strategy_retired"
	EventTypeSystemStart          EventType = "system_start"
	EventTypeSystemStop           EventType = "system_stop"
)

// Event 事件结构
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Strategy 事件关联的策略名，没有时返回空串
func (e *Event) Strategy() string {
	if s, ok := e.Data["strategy"].(string); ok {
		return s
	}
	return ""
}

// Publisher 事件发布方，实现不得阻塞调用方
type Publisher interface {
	Publish(event *Event)
}

// Nop 丢弃所有事件
type Nop struct{}

// Publish 实现 Publisher
func (Nop) Publish(*Event) {}

// EventBus 事件总线
type EventBus struct {
	eventCh    chan *Event
	bufferSize int

	mu     sync.RWMutex
	closed bool
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000 // 默认1000
	}
	return &EventBus{
		eventCh:    make(chan *Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Publish 发布事件（非阻塞）
func (eb *EventBus) Publish(event *Event) {
	if event == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		logger.Debug("事件总线已关闭，丢弃事件: %s", event.Type)
		return
	}

	select {
	case eb.eventCh <- event:
	default:
		// Channel 满了，记录警告但不阻塞
		logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
	}
}

// Subscribe 订阅事件（返回 channel）
func (eb *EventBus) Subscribe() <-chan *Event {
	return eb.eventCh
}

// Close 关闭事件总线，之后的 Publish 直接丢弃，可重复调用
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	close(eb.eventCh)
}
