package models

import "time"

// LockoutRecord tracks failure accounting and lockout state for one address.
// There is at most one record per address; it is created on the first
// violation and logically cleared when the lockout window passes or on
// manual unlock.
type LockoutRecord struct {
	Address         string     `db:"address"`
	FailureCount    int        `db:"failure_count"`
	EscalationLevel int        `db:"escalation_level"`
	LockoutUntil    *time.Time `db:"lockout_until"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// LockedAt reports whether the record holds an active lockout at the given time.
func (r *LockoutRecord) LockedAt(now time.Time) bool {
	return r.LockoutUntil != nil && r.LockoutUntil.After(now)
}
