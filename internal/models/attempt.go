package models

import "time"

// Outcome is the result of primary credential verification for an attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// LoginAttempt is a single entry in the append-only attempt ledger.
// Entries are immutable once recorded; they are never updated or deduplicated.
type LoginAttempt struct {
	ID          string    `db:"id"`
	Address     string    `db:"address"`
	Username    string    `db:"username"`
	Outcome     Outcome   `db:"outcome"`
	AttemptTime time.Time `db:"attempt_time"`
}

// Failed reports whether the attempt represents a failed credential check.
func (a *LoginAttempt) Failed() bool {
	return a.Outcome == OutcomeFailure
}
