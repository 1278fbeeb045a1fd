package logger

import (
	"context"
	"log/slog"
	"time"
)

// GateEvent represents a security audit event emitted by the gate
type GateEvent struct {
	EventType string
	Address   string
	Username  string
	Detail    string
	Metadata  map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogGateEvent logs admission, lockout, and unlock events. These carry full
// detail (reason, escalation level, retry hints) because audit output is an
// administrative surface; end-caller responses stay generic.
func (al *AuditLogger) LogGateEvent(event GateEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "gate"),
		slog.String("event_type", event.EventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Address != "" {
		attrs = append(attrs, slog.String("address", event.Address))
	}
	if event.Username != "" {
		attrs = append(attrs, slog.String("username", event.Username))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}

// LogChallengeEvent logs two-factor challenge lifecycle events
func (al *AuditLogger) LogChallengeEvent(eventType, userID, address, result string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "two_factor"),
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if address != "" {
		attrs = append(attrs, slog.String("address", address))
	}
	if result != "" {
		attrs = append(attrs, slog.String("result", result))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}
