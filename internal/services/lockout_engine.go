package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BradenHooton/gatehouse/internal/models"
	pkglogger "github.com/BradenHooton/gatehouse/pkg/logger"
)

// AttemptLedger is the append-only record of login attempts.
type AttemptLedger interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) (string, error)
	RecentFailureStreak(ctx context.Context, address string) (int, error)
	ListRecent(ctx context.Context, limit int) ([]models.LoginAttempt, error)
}

// LockoutStore holds per-address lockout state. TryRecordFailure must be a
// single atomic read-increment-write; see the repository implementation.
type LockoutStore interface {
	Get(ctx context.Context, address string) (*models.LockoutRecord, error)
	TryRecordFailure(ctx context.Context, address string, now time.Time, maxAttempts int, duration func(level int) time.Duration) (*models.LockoutRecord, bool, error)
	RecordSuccess(ctx context.Context, address string, now time.Time) error
	Clear(ctx context.Context, address string, now time.Time) error
	ListActive(ctx context.Context, now time.Time) ([]models.LockoutRecord, error)
}

// OutcomeReport is what the credential-verification front-end tells the
// engine after the primary decision is known. Elevated marks outcomes for
// privileged roles so successful logins can be announced.
type OutcomeReport struct {
	Address  string
	Username string
	Outcome  models.Outcome
	Elevated bool
}

const (
	conflictRetries = 3
	retryBaseDelay  = 25 * time.Millisecond
)

// LockoutEngine orchestrates the address policy, the attempt ledger, and
// the lockout store into admission decisions and escalation. It holds an
// immutable SecurityConfig; saving a new configuration means constructing
// a new engine.
type LockoutEngine struct {
	cfg    models.SecurityConfig
	policy *IPPolicy
	ledger AttemptLedger
	store  LockoutStore
	bridge *NotificationBridge
	logger *slog.Logger
	audit  *pkglogger.AuditLogger
}

// NewLockoutEngine creates a new LockoutEngine
func NewLockoutEngine(
	cfg models.SecurityConfig,
	ledger AttemptLedger,
	store LockoutStore,
	bridge *NotificationBridge,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *LockoutEngine {
	return &LockoutEngine{
		cfg:    cfg,
		policy: NewIPPolicy(&cfg),
		ledger: ledger,
		store:  store,
		bridge: bridge,
		logger: logger,
		audit:  audit,
	}
}

// CheckAdmission decides whether an address may proceed to credential
// verification. Whitelisted addresses skip every further check; blacklisted
// addresses are denied outright; otherwise an open lockout window denies
// with a retry hint. Storage failures deny with a generic reason: an
// unreliable rate limiter must not degrade into unlimited attempts.
func (e *LockoutEngine) CheckAdmission(ctx context.Context, address string, now time.Time) models.Decision {
	switch e.policy.Evaluate(address) {
	case models.PolicyWhitelisted:
		return models.Allow()
	case models.PolicyBlacklisted:
		e.audit.LogGateEvent(pkglogger.GateEvent{
			EventType: "admission_denied",
			Address:   address,
			Detail:    string(models.DenyBlacklisted),
		})
		return models.Deny(models.DenyBlacklisted, nil)
	}

	if !e.cfg.LimitLoginEnabled {
		return models.Allow()
	}

	rec, err := e.getWithRetry(ctx, address)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Allow()
		}
		e.logger.Error("lockout store unavailable, failing closed",
			slog.String("address", address),
			slog.Any("error", err))
		return models.Deny(models.DenyUnavailable, nil)
	}

	if rec.LockedAt(now) {
		e.audit.LogGateEvent(pkglogger.GateEvent{
			EventType: "admission_denied",
			Address:   address,
			Detail:    string(models.DenyLocked),
			Metadata: map[string]string{
				"retry_after":      rec.LockoutUntil.Format(time.RFC3339),
				"escalation_level": strconv.Itoa(rec.EscalationLevel),
			},
		})
		return models.Deny(models.DenyLocked, rec.LockoutUntil)
	}

	return models.Allow()
}

// ReportOutcome records the result of a completed credential check and
// applies escalation. The attempt is always written to the ledger; counter
// updates and notifications depend on the policy verdict and configuration.
// Whitelisted addresses bypass counters and notifications entirely.
func (e *LockoutEngine) ReportOutcome(ctx context.Context, report OutcomeReport, now time.Time) error {
	attempt := &models.LoginAttempt{
		Address:     report.Address,
		Username:    report.Username,
		Outcome:     report.Outcome,
		AttemptTime: now,
	}

	if _, err := e.ledger.Record(ctx, attempt); err != nil {
		// A login must not silently proceed without a usable ledger.
		return fmt.Errorf("record attempt: %w", err)
	}

	if e.policy.Evaluate(report.Address) == models.PolicyWhitelisted {
		return nil
	}

	if report.Outcome == models.OutcomeSuccess {
		return e.reportSuccess(ctx, report, now)
	}
	return e.reportFailure(ctx, report, now)
}

func (e *LockoutEngine) reportSuccess(ctx context.Context, report OutcomeReport, now time.Time) error {
	if e.cfg.LimitLoginEnabled {
		if err := e.store.RecordSuccess(ctx, report.Address, now); err != nil {
			return fmt.Errorf("reset failure count: %w", err)
		}
	}

	if e.cfg.NotifyOn.Success && report.Elevated {
		e.bridge.Emit(models.Notification{
			Event:     models.EventLoginSucceeded,
			Address:   report.Address,
			Username:  report.Username,
			Timestamp: now,
		})
	}
	return nil
}

func (e *LockoutEngine) reportFailure(ctx context.Context, report OutcomeReport, now time.Time) error {
	if !e.cfg.LimitLoginEnabled {
		return nil
	}

	rec, justLocked, err := e.tryRecordFailureWithRetry(ctx, report.Address, now)
	if err != nil {
		e.logger.Error("failed to record login failure",
			slog.String("address", report.Address),
			slog.Any("error", err))
		return fmt.Errorf("record failure: %w", err)
	}

	// The failure alert fires on the Nth consecutive failure even when that
	// same failure trips the lockout, so a threshold equal to maxAttempts
	// still alerts. The store zeroes the counter on the locking attempt;
	// the count actually reached there is maxAttempts.
	failures := rec.FailureCount
	if justLocked {
		failures = e.cfg.MaxAttempts
	}
	if e.cfg.NotifyOn.Failure && failures == e.cfg.FailureAlertThreshold {
		e.bridge.Emit(models.Notification{
			Event:     models.EventLoginFailed,
			Address:   report.Address,
			Username:  report.Username,
			Timestamp: now,
			Data: map[string]string{
				"failure_count": strconv.Itoa(failures),
			},
		})
	}

	if justLocked {
		e.audit.LogGateEvent(pkglogger.GateEvent{
			EventType: "lockout_triggered",
			Address:   report.Address,
			Username:  report.Username,
			Metadata: map[string]string{
				"escalation_level": strconv.Itoa(rec.EscalationLevel),
				"lockout_until":    rec.LockoutUntil.Format(time.RFC3339),
			},
		})
		if e.cfg.NotifyOn.Lockout {
			e.bridge.Emit(models.Notification{
				Event:     models.EventLockout,
				Address:   report.Address,
				Username:  report.Username,
				Timestamp: now,
				Data: map[string]string{
					"escalation_level": strconv.Itoa(rec.EscalationLevel),
					"lockout_until":    rec.LockoutUntil.Format(time.RFC3339),
				},
			})
		}
	}
	return nil
}

// ListActiveLockouts returns all addresses with an open lockout window.
// Administrative views get full detail, unlike end callers.
func (e *LockoutEngine) ListActiveLockouts(ctx context.Context, now time.Time) ([]models.LockoutRecord, error) {
	return e.store.ListActive(ctx, now)
}

// Unlock clears an address manually: failure count, lockout window, and
// escalation level all reset.
func (e *LockoutEngine) Unlock(ctx context.Context, address string, now time.Time) error {
	if err := e.store.Clear(ctx, address, now); err != nil {
		return fmt.Errorf("unlock %s: %w", address, err)
	}

	e.audit.LogGateEvent(pkglogger.GateEvent{
		EventType: "manual_unlock",
		Address:   address,
	})
	return nil
}

// ListRecentAttempts returns the newest ledger entries for audit views.
func (e *LockoutEngine) ListRecentAttempts(ctx context.Context, limit int) ([]models.LoginAttempt, error) {
	return e.ledger.ListRecent(ctx, limit)
}

// FailureStreak reports the consecutive-failure count for an address from
// the ledger. Diagnostics only.
func (e *LockoutEngine) FailureStreak(ctx context.Context, address string) (int, error) {
	return e.ledger.RecentFailureStreak(ctx, address)
}

func (e *LockoutEngine) getWithRetry(ctx context.Context, address string) (*models.LockoutRecord, error) {
	var rec *models.LockoutRecord
	err := e.withRetry(ctx, func() error {
		var err error
		rec, err = e.store.Get(ctx, address)
		return err
	})
	return rec, err
}

func (e *LockoutEngine) tryRecordFailureWithRetry(ctx context.Context, address string, now time.Time) (*models.LockoutRecord, bool, error) {
	var rec *models.LockoutRecord
	var justLocked bool
	err := e.withRetry(ctx, func() error {
		var err error
		rec, justLocked, err = e.store.TryRecordFailure(ctx, address, now, e.cfg.MaxAttempts, e.cfg.LockoutDuration)
		return err
	})
	return rec, justLocked, err
}

// withRetry runs fn up to conflictRetries times with doubling backoff.
// ErrNotFound is not retried; it is a definitive answer.
func (e *LockoutEngine) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := retryBaseDelay
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if err = fn(); err == nil || errors.Is(err, models.ErrNotFound) {
			return err
		}
		if attempt == conflictRetries-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
