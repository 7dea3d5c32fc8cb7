package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quantgate/event"
)

// TelegramConfig Telegram Bot
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base"` // 默认 https://api.telegram.org
}

// TelegramNotifier Telegram 通知器
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		apiBase:  base,
		client:   &http.Client{Timeout: 3 * time.Second},
	}
}

// Name 返回通知器名称
func (tn *TelegramNotifier) Name() string {
	return "Telegram"
}

// Send 发送通知
func (tn *TelegramNotifier) Send(evt *event.Event) error {
	payload := map[string]interface{}{
		"chat_id":    tn.chatID,
		"text":       formatMessage(evt, "*", "`"),
		"parse_mode": "Markdown",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", tn.apiBase, tn.botToken)
	if err := postJSON(tn.client, 3*time.Second, url, jsonData); err != nil {
		return fmt.Errorf("Telegram API: %w", err)
	}
	return nil
}
