package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/gatehouse/internal/database"
	"github.com/BradenHooton/gatehouse/internal/models"
	"github.com/jackc/pgx/v5"
)

// LockoutRepository holds per-address failure counters and lockout windows.
// All mutations to a single address are serialized through a row lock so
// concurrent failures can neither undercount nor double-trip a lockout.
type LockoutRepository struct {
	db *database.DB
}

// NewLockoutRepository creates a new LockoutRepository
func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

// Get returns the lockout record for an address, or models.ErrNotFound.
func (r *LockoutRepository) Get(ctx context.Context, address string) (*models.LockoutRecord, error) {
	query := `
		SELECT address, failure_count, escalation_level, lockout_until, created_at, updated_at
		FROM lockout_records
		WHERE address = $1
	`

	var rec models.LockoutRecord
	err := r.db.Pool.QueryRow(ctx, query, address).Scan(
		&rec.Address,
		&rec.FailureCount,
		&rec.EscalationLevel,
		&rec.LockoutUntil,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &rec, nil
}

// TryRecordFailure atomically increments the failure counter for an address
// and trips a lockout when the counter reaches maxAttempts. An expired
// lockout window is treated as a fresh cycle: the counter restarts at 1 and
// the stale window is cleared. Returns the updated record and whether a
// lockout was triggered by this call.
//
// The read-increment-write runs inside a transaction holding the address
// row lock (SELECT ... FOR UPDATE), which is the serialization point for
// all mutations of one address.
func (r *LockoutRepository) TryRecordFailure(
	ctx context.Context,
	address string,
	now time.Time,
	maxAttempts int,
	duration func(level int) time.Duration,
) (*models.LockoutRecord, bool, error) {
	var rec models.LockoutRecord
	var justLocked bool

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		// Ensure the row exists before locking it.
		_, err := tx.Exec(ctx, `
			INSERT INTO lockout_records (address, failure_count, escalation_level, created_at, updated_at)
			VALUES ($1, 0, 0, $2, $2)
			ON CONFLICT (address) DO NOTHING
		`, address, now)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			SELECT address, failure_count, escalation_level, lockout_until, created_at, updated_at
			FROM lockout_records
			WHERE address = $1
			FOR UPDATE
		`, address).Scan(
			&rec.Address,
			&rec.FailureCount,
			&rec.EscalationLevel,
			&rec.LockoutUntil,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return err
		}

		// A lockout that has already passed behaves as freshly clear.
		if rec.LockoutUntil != nil && !rec.LockoutUntil.After(now) {
			rec.FailureCount = 0
			rec.LockoutUntil = nil
		}

		rec.FailureCount++
		if rec.FailureCount >= maxAttempts {
			until := now.Add(duration(rec.EscalationLevel))
			rec.LockoutUntil = &until
			rec.EscalationLevel++
			rec.FailureCount = 0
			justLocked = true
		}
		rec.UpdatedAt = now

		_, err = tx.Exec(ctx, `
			UPDATE lockout_records
			SET failure_count = $2, escalation_level = $3, lockout_until = $4, updated_at = $5
			WHERE address = $1
		`, address, rec.FailureCount, rec.EscalationLevel, rec.LockoutUntil, rec.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, false, database.MapPostgresError(err)
	}

	return &rec, justLocked, nil
}

// RecordSuccess resets the failure counter for an address. Escalation level
// and any active lockout window are left untouched; success is only
// recorded for addresses that were admitted in the first place.
func (r *LockoutRepository) RecordSuccess(ctx context.Context, address string, now time.Time) error {
	query := `
		UPDATE lockout_records
		SET failure_count = 0, updated_at = $2
		WHERE address = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, address, now)
	return database.MapPostgresError(err)
}

// Clear performs a manual unlock: failure counter, lockout window, and
// escalation level all reset.
func (r *LockoutRepository) Clear(ctx context.Context, address string, now time.Time) error {
	query := `
		UPDATE lockout_records
		SET failure_count = 0, escalation_level = 0, lockout_until = NULL, updated_at = $2
		WHERE address = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, address, now)
	return database.MapPostgresError(err)
}

// ListActive returns all records whose lockout window is still open.
func (r *LockoutRepository) ListActive(ctx context.Context, now time.Time) ([]models.LockoutRecord, error) {
	query := `
		SELECT address, failure_count, escalation_level, lockout_until, created_at, updated_at
		FROM lockout_records
		WHERE lockout_until IS NOT NULL AND lockout_until > $1
		ORDER BY lockout_until
	`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var records []models.LockoutRecord
	for rows.Next() {
		var rec models.LockoutRecord
		if err := rows.Scan(
			&rec.Address,
			&rec.FailureCount,
			&rec.EscalationLevel,
			&rec.LockoutUntil,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, database.MapPostgresError(err)
		}
		records = append(records, rec)
	}

	return records, database.MapPostgresError(rows.Err())
}

// DeleteCleared removes rows carrying no state at all: no open window, no
// failures, no escalation history. Rows with escalation history survive a
// lockout expiry because they price the next lockout.
func (r *LockoutRepository) DeleteCleared(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM lockout_records
		WHERE failure_count = 0 AND escalation_level = 0
		  AND (lockout_until IS NULL OR lockout_until <= $1)
	`

	tag, err := r.db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
