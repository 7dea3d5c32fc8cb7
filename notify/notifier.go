// Package notify 把策略晋升相关事件推送到外部渠道
package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quantgate/event"
	"quantgate/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// Rules 需要通知的事件
type Rules struct {
	PromotionApproved    bool `yaml:"promotion_approved"`
	PromotionRejected    bool `yaml:"promotion_rejected"`
	StrategyRetired      bool `yaml:"strategy_retired"`
	WalkForwardCompleted bool `yaml:"walkforward_completed"`
}

// Config 通知配置
type Config struct {
	Enabled  bool           `yaml:"enabled"`
	Rules    Rules          `yaml:"rules"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
}

// NotificationService 通知服务，实现 event.EventProcessor
type NotificationService struct {
	notifiers []Notifier
	rules     Rules
	wg        sync.WaitGroup
}

// NewNotificationService 创建通知服务，未配置的渠道跳过
func NewNotificationService(cfg Config) *NotificationService {
	ns := &NotificationService{rules: cfg.Rules}
	if !cfg.Enabled {
		return ns
	}

	if cfg.Webhook.URL != "" {
		ns.notifiers = append(ns.notifiers, NewWebhookNotifier(cfg.Webhook))
		logger.Info("✅ Webhook 通知已启用")
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		ns.notifiers = append(ns.notifiers, NewTelegramNotifier(cfg.Telegram))
		logger.Info("✅ Telegram 通知已启用")
	}
	if cfg.Slack.Webhook != "" {
		ns.notifiers = append(ns.notifiers, NewSlackNotifier(cfg.Slack))
		logger.Info("✅ Slack 通知已启用")
	}
	return ns
}

// AddNotifier 追加通知渠道
func (ns *NotificationService) AddNotifier(n Notifier) {
	ns.notifiers = append(ns.notifiers, n)
}

// Enabled 是否有可用渠道
func (ns *NotificationService) Enabled() bool {
	return len(ns.notifiers) > 0
}

func (ns *NotificationService) shouldNotify(t event.EventType) bool {
	switch t {
	case event.EventTypePromotionApproved:
		return ns.rules.PromotionApproved
	case event.EventTypePromotionRejected:
		return ns.rules.PromotionRejected
	case event.EventTypeStrategyRetired:
		return ns.rules.StrategyRetired
	case event.EventTypeWalkForwardCompleted:
		return ns.rules.WalkForwardCompleted
	}
	return false
}

// ProcessEvent 异步发送到所有渠道，不阻塞事件中心
func (ns *NotificationService) ProcessEvent(evt *event.Event) {
	if evt == nil || !ns.shouldNotify(evt.Type) {
		return
	}
	for _, n := range ns.notifiers {
		ns.wg.Add(1)
		go func(n Notifier) {
			defer ns.wg.Done()
			if err := n.Send(evt); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(n)
	}
}

// Wait 等待已发出的通知完成
func (ns *NotificationService) Wait() {
	ns.wg.Wait()
}

func title(t event.EventType) (string, string) {
	switch t {
	case event.EventTypePromotionApproved:
		return "✅", "策略晋升通过"
	case event.EventTypePromotionRejected:
		return "🚫", "策略晋升被拒"
	case event.EventTypeStrategyRetired:
		return "🛑", "策略已退役"
	case event.EventTypeWalkForwardCompleted:
		return "🔁", "滚动验证完成"
	}
	return "ℹ️", "系统通知"
}

// formatMessage 标题、摘要与按键排序的字段；code 用于包裹字段值
func formatMessage(evt *event.Event, bold, code string) string {
	emoji, t := title(evt.Type)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s%s%s\n", emoji, bold, t, bold)
	fmt.Fprintf(&sb, "%s\n", event.BuildMessage(evt))
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&sb, "时间: %s\n", ts.Format("2006-01-02 15:04:05"))

	keys := make([]string, 0, len(evt.Data))
	for k := range evt.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s%v%s\n", k, code, evt.Data[k], code)
	}
	return sb.String()
}
