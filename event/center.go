package event

import (
	"context"
	"fmt"
	"sync"

	"quantgate/logger"
)

// EventSeverity 事件严重程度
type EventSeverity string

const (
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
)

// GetEventSeverity 事件严重程度
func GetEventSeverity(t EventType) EventSeverity {
	switch t {
	case EventTypePromotionRejected, EventTypeStrategyRetired:
		return SeverityWarning
	}
	return SeverityInfo
}

// EventCenter 从总线消费事件并分发给各处理器（Kafka、WebSocket 等）
type EventCenter struct {
	eventBus   *EventBus
	mu         sync.RWMutex
	processors []EventProcessor
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewEventCenter 创建事件中心
func NewEventCenter(eventBus *EventBus, processors ...EventProcessor) *EventCenter {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventCenter{
		eventBus:   eventBus,
		processors: processors,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// AddProcessor 追加处理器
func (ec *EventCenter) AddProcessor(p EventProcessor) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.processors = append(ec.processors, p)
}

// Start 启动事件中心
func (ec *EventCenter) Start() {
	logger.Info("🚀 启动事件中心...")
	ec.wg.Add(1)
	go ec.processEvents()
}

// Stop 停止事件中心，排空已入队的事件后返回
func (ec *EventCenter) Stop() {
	logger.Info("🛑 停止事件中心...")
	ec.cancel()
	ec.wg.Wait()
	logger.Info("✅ 事件中心已停止")
}

func (ec *EventCenter) processEvents() {
	defer ec.wg.Done()

	eventCh := ec.eventBus.Subscribe()
	for {
		select {
		case <-ec.ctx.Done():
			for {
				select {
				case event, ok := <-eventCh:
					if !ok {
						return
					}
					ec.handleEvent(event)
				default:
					return
				}
			}
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			ec.handleEvent(event)
		}
	}
}

// handleEvent 处理单个事件，处理器 panic 不影响其他处理器
func (ec *EventCenter) handleEvent(event *Event) {
	if event == nil {
		return
	}
	msg := BuildMessage(event)
	if GetEventSeverity(event.Type) == SeverityWarning {
		logger.Warn("⚠️ [%s] %s", event.Type, msg)
	} else {
		logger.Debug("📣 [%s] %s", event.Type, msg)
	}

	ec.mu.RLock()
	processors := ec.processors
	ec.mu.RUnlock()
	for _, p := range processors {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("❌ 事件处理器异常: %v", r)
				}
			}()
			p.ProcessEvent(event)
		}()
	}
}

// BuildMessage 构建事件的可读描述
func BuildMessage(event *Event) string {
	strategy := event.Strategy()
	switch event.Type {
	case EventTypeBacktestCompleted:
		return fmt.Sprintf("%s 回测完成: 交易=%v 夏普=%v", strategy, event.Data["total_trades"], event.Data["sharpe_ratio"])
	case EventTypeFoldCompleted:
		return fmt.Sprintf("%s 折叠 #%v 完成: 夏普=%v", strategy, event.Data["fold_index"], event.Data["sharpe_ratio"])
	case EventTypeWalkForwardCompleted:
		return fmt.Sprintf("%s 滚动验证完成: run=%v 折叠=%v", strategy, event.Data["run_id"], event.Data["n_folds"])
	case EventTypePromotionApproved:
		return fmt.Sprintf("%s 晋升通过: %v → %v", strategy, event.Data["from"], event.Data["to"])
	case EventTypePromotionRejected:
		return fmt.Sprintf("%s 晋升被拒: %v", strategy, event.Data["reason"])
	case EventTypeStrategyRetired:
		return fmt.Sprintf("%s 已退役: %v", strategy, event.Data["reason"])
	}
	if msg, ok := event.Data["message"].(string); ok {
		return msg
	}
	return fmt.Sprintf("事件类型: %s", event.Type)
}
