package models

import "time"

// EventType identifies a security event emitted to the external notifier.
type EventType string

const (
	EventLoginSucceeded EventType = "login_succeeded"
	EventLoginFailed    EventType = "login_failed"
	EventLockout        EventType = "lockout"
)

// Notification is the payload handed to the notification bridge. Delivery
// is best-effort and happens after the authoritative decision is committed.
type Notification struct {
	Event     EventType
	Address   string
	Username  string
	Timestamp time.Time
	Data      map[string]string
}
