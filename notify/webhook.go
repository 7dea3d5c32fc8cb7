package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"quantgate/event"
)

// WebhookConfig 通用 Webhook
type WebhookConfig struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
	Retries    int    `yaml:"retries"` // 5xx 或网络错误时的重试次数
}

// webhookPayload 推送给下游的事件结构
type webhookPayload struct {
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Strategy  string                 `json:"strategy,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// WebhookNotifier 把晋升/验证事件以 JSON POST 到下游系统
type WebhookNotifier struct {
	url     string
	timeout time.Duration
	retries int
	backoff time.Duration
	client  *http.Client
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		timeout: timeout,
		retries: retries,
		backoff: 200 * time.Millisecond,
		client:  &http.Client{Timeout: timeout},
	}
}

func (wn *WebhookNotifier) Name() string {
	return "Webhook"
}

// Send 发送通知，失败时按 backoff 线性退避重试
func (wn *WebhookNotifier) Send(evt *event.Event) error {
	body, err := json.Marshal(webhookPayload{
		Type:      string(evt.Type),
		Severity:  string(event.GetEventSeverity(evt.Type)),
		Strategy:  evt.Strategy(),
		Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
		Message:   event.BuildMessage(evt),
		Data:      evt.Data,
	})
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	for attempt := 0; ; attempt++ {
		err = postJSON(wn.client, wn.timeout, wn.url, body)
		if err == nil || attempt >= wn.retries || !retryable(err) {
			return err
		}
		time.Sleep(wn.backoff * time.Duration(attempt+1))
	}
}

// statusError 下游返回非 2xx
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("返回错误状态码: %d", e.code)
}

// retryable 网络错误和 5xx 可重试，4xx 说明请求本身有问题
func retryable(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.code >= 500
	}
	return true
}

func postJSON(client *http.Client, timeout time.Duration, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}
