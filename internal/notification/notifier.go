// Package notification delivers monitor alerts to external channels
// (Telegram, webhooks) for events worth waking someone up for: a push
// channel giving up, a position outcome latching, an executed operation.
package notification

import (
	"context"
	"fmt"
	"log"

	"silvermon/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans one alert out to several backends. Delivery failures are
// logged, not returned, so one dead backend cannot silence the rest.
type Multi struct {
	backends []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] backend delivery failed: %v", err)
		}
	}
	return nil
}

// PushChannelFailed builds the alert for a push channel that exhausted its
// reconnection budget.
func PushChannelFailed(m model.Market) Alert {
	return Alert{
		Level:   AlertCritical,
		Title:   "Push channel failed",
		Message: fmt.Sprintf("%s push channel exhausted its reconnect attempts; series is now poll-fed", m),
	}
}

// OutcomeLatched builds the alert for a position hitting its stop or target.
func OutcomeLatched(s model.PositionSnapshot) Alert {
	verdict := "stop loss hit"
	level := AlertWarning
	if s.IsWin {
		verdict = "take profit hit"
		level = AlertInfo
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("Position outcome: %s", s.Model),
		Message: fmt.Sprintf("%s at %.2f (%.1f points, %.2f money)",
			verdict, s.ActualPrice, s.Points, s.Money),
	}
}

// OperationExecuted builds the alert for an executed trading operation.
func OperationExecuted(op model.Operation) Alert {
	return Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s %s", op.Action, op.Model),
		Message: fmt.Sprintf("price %.2f: %s", op.Price, op.Rationale),
	}
}
