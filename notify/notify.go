// Package notify is the outbound event port. Publishing is fire-and-forget
// with no delivery guarantee; the healing core never owns a transport.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Notifier publishes domain events to interested listeners.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) {}

// Log writes events to a slog logger. The default notifier in development.
type Log struct {
	Logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{Logger: logger}
}

func (l *Log) Publish(_ context.Context, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l.Logger.Warn("notify: marshal failed", "topic", topic, "error", err)
		return
	}
	l.Logger.Info("notify: event", "topic", topic, "payload", string(data))
}

// Multi fans one event out to several notifiers.
type Multi []Notifier

func (m Multi) Publish(ctx context.Context, topic string, payload any) {
	for _, n := range m {
		n.Publish(ctx, topic, payload)
	}
}
