package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// TelegramConfig configures a Telegram Bot API backend.
type TelegramConfig struct {
	BotToken string // from @BotFather
	ChatID   string // target chat, group or channel
	Timeout  time.Duration

	HTTPClient *http.Client

	// BaseURL overrides the Bot API host, used by tests.
	BaseURL string
}

// TelegramNotifier delivers alerts through the Telegram Bot sendMessage API.
type TelegramNotifier struct {
	chatID  string
	sendURL string
	http    *http.Client
}

// NewTelegramNotifier creates a Telegram backend.
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNotifyTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &TelegramNotifier{
		chatID:  cfg.ChatID,
		sendURL: fmt.Sprintf("%s/bot%s/sendMessage", cfg.BaseURL, cfg.BotToken),
		http:    hc,
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}{
		ChatID:    t.chatID,
		Text:      formatTelegram(alert),
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("notification: marshal telegram payload: %w", err)
	}

	if err := postJSON(ctx, t.http, t.sendURL, body); err != nil {
		return fmt.Errorf("notification: telegram: %w", err)
	}
	log.Printf("[notify] telegram alert delivered: %s", alert.Title)
	return nil
}

func formatTelegram(alert Alert) string {
	marker := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		marker = "⚠️"
	case AlertCritical:
		marker = "🚨"
	}
	return fmt.Sprintf("%s *%s*\n\n%s",
		marker, escapeMarkdownV2(alert.Title), escapeMarkdownV2(alert.Message))
}

// escapeMarkdownV2 backslash-escapes every character the MarkdownV2 parse
// mode reserves; an unescaped one makes the Bot API reject the message.
func escapeMarkdownV2(s string) string {
	const reserved = "_*[]()~`>#+-=|{}.!"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(reserved, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
