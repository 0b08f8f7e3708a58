package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"silvermon/internal/feed/poll"
	"silvermon/internal/model"
)

func TestOutcomeLatchedAlerts(t *testing.T) {
	win := OutcomeLatched(model.PositionSnapshot{
		Model: "gpt", IsWin: true, ActualPrice: 7550, Points: 50, Money: 750,
	})
	if win.Level != AlertInfo {
		t.Errorf("win level = %s, want INFO", win.Level)
	}

	loss := OutcomeLatched(model.PositionSnapshot{
		Model: "gpt", IsWin: false, ActualPrice: 7480, Points: -20, Money: -300,
	})
	if loss.Level != AlertWarning {
		t.Errorf("loss level = %s, want WARNING", loss.Level)
	}
}

func TestPushChannelFailedIsCritical(t *testing.T) {
	a := PushChannelFailed(model.MarketDomestic)
	if a.Level != AlertCritical {
		t.Errorf("level = %s, want CRITICAL", a.Level)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	got := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- payload
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "t", Message: "m"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	payload := <-got
	if payload["title"] != "t" || payload["level"] != "INFO" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebhookRetriesTransientOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	if err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "t"}); err != nil {
		t.Fatalf("Send after retry: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("requests = %d, want 2 (initial + one retry)", got)
	}
}

func TestWebhookPermanentFailureNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "t"})
	if !errors.Is(err, poll.ErrPermanent) {
		t.Fatalf("expected permanent classification, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestTelegramNotifierSendsEscapedMessage(t *testing.T) {
	got := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("path = %q", r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- payload
	}))
	defer srv.Close()

	n := NewTelegramNotifier(TelegramConfig{
		BotToken: "token", ChatID: "42", BaseURL: srv.URL,
	})
	err := n.Send(context.Background(), Alert{
		Level: AlertCritical, Title: "Push channel failed", Message: "domestic: out of attempts.",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	payload := <-got
	if payload["chat_id"] != "42" {
		t.Errorf("chat_id = %q", payload["chat_id"])
	}
	if payload["parse_mode"] != "MarkdownV2" {
		t.Errorf("parse_mode = %q", payload["parse_mode"])
	}
	if !strings.Contains(payload["text"], `attempts\.`) {
		t.Errorf("reserved characters not escaped: %q", payload["text"])
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	if got := escapeMarkdownV2("a.b_c!d"); got != `a\.b\_c\!d` {
		t.Errorf("escape = %q", got)
	}
	if got := escapeMarkdownV2("plain"); got != "plain" {
		t.Errorf("plain text changed: %q", got)
	}
}

func TestMultiSurvivesFailingBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewMulti(NewWebhookNotifier(WebhookConfig{URL: srv.URL}), NewLogNotifier())
	if err := m.Send(context.Background(), Alert{Level: AlertInfo, Title: "t"}); err != nil {
		t.Fatalf("Multi.Send should swallow backend errors, got %v", err)
	}
}
