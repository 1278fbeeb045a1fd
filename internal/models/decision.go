package models

import "time"

// DenyReason identifies why an admission check denied an address.
// Reasons are for internal logging and administrative views only; the
// response surfaced to the end caller is always generic.
type DenyReason string

const (
	DenyBlacklisted DenyReason = "blacklisted"
	DenyLocked      DenyReason = "locked"
	DenyUnavailable DenyReason = "unavailable"
)

// Decision is the result of an admission check for one address.
type Decision struct {
	Allowed    bool
	Reason     DenyReason
	RetryAfter *time.Time
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with the given reason. retryAfter may be
// nil when no retry hint applies (blacklist, storage failure).
func Deny(reason DenyReason, retryAfter *time.Time) Decision {
	return Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter}
}

// PolicyVerdict is the result of evaluating an address against the
// configured allow/deny lists.
type PolicyVerdict int

const (
	PolicyUnlisted PolicyVerdict = iota
	PolicyWhitelisted
	PolicyBlacklisted
)
