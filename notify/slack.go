package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"quantgate/event"
)

// SlackConfig Slack Incoming Webhook
type SlackConfig struct {
	Webhook string `yaml:"webhook"`
}

// SlackNotifier Slack 通知器
type SlackNotifier struct {
	webhook string
	client  *http.Client
}

// NewSlackNotifier 创建 Slack 通知器
func NewSlackNotifier(cfg SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		webhook: cfg.Webhook,
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

// Name 返回通知器名称
func (sn *SlackNotifier) Name() string {
	return "Slack"
}

// Send 发送通知
func (sn *SlackNotifier) Send(evt *event.Event) error {
	jsonData, err := json.Marshal(map[string]interface{}{
		"text": formatMessage(evt, "*", "`"),
	})
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}
	if err := postJSON(sn.client, 3*time.Second, sn.webhook, jsonData); err != nil {
		return fmt.Errorf("Slack: %w", err)
	}
	return nil
}
