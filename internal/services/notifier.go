package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatehouse/internal/models"
)

// Notifier delivers security events to an external channel dispatcher
// (chat, email, webhook). Implementations live outside this core.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// NotificationBridge wraps a Notifier with the fire-and-forget contract:
// emission happens after the authoritative decision is committed, is bounded
// by a short timeout, and failure or slowness never blocks or alters the
// login decision. Delivery errors are logged and swallowed.
type NotificationBridge struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewNotificationBridge creates a new NotificationBridge
func NewNotificationBridge(notifier Notifier, timeout time.Duration, logger *slog.Logger) *NotificationBridge {
	return &NotificationBridge{
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
	}
}

// Emit dispatches the notification on its own goroutine. The caller's
// context is deliberately not used: the request that triggered the event
// may already be finished by the time delivery runs.
func (b *NotificationBridge) Emit(n models.Notification) {
	if b.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		if err := b.notifier.Notify(ctx, n); err != nil {
			b.logger.Error("notification delivery failed",
				slog.String("event", string(n.Event)),
				slog.String("address", n.Address),
				slog.Any("error", err))
		}
	}()
}

// SlogNotifier writes events to the structured log. It stands in for a real
// channel dispatcher in deployments that have none configured.
type SlogNotifier struct {
	logger *slog.Logger
}

// NewSlogNotifier creates a new SlogNotifier
func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	return &SlogNotifier{logger: logger}
}

func (n *SlogNotifier) Notify(_ context.Context, event models.Notification) error {
	n.logger.Info("security event",
		slog.String("event", string(event.Event)),
		slog.String("address", event.Address),
		slog.String("username", event.Username),
		slog.Time("timestamp", event.Timestamp),
		slog.Any("data", event.Data))
	return nil
}
