package repositories

import (
	"context"

	"github.com/BradenHooton/gatehouse/internal/database"
	"github.com/BradenHooton/gatehouse/internal/models"
)

// AttemptRepository handles database operations for the append-only login
// attempt ledger. Entries are only ever inserted, never updated.
type AttemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Record appends an attempt to the ledger and returns its id.
func (r *AttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) (string, error) {
	query := `
		INSERT INTO login_attempts (address, username, outcome, attempt_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id string
	err := r.db.Pool.QueryRow(ctx, query,
		attempt.Address,
		attempt.Username,
		attempt.Outcome,
		attempt.AttemptTime,
	).Scan(&id)
	if err != nil {
		return "", database.MapPostgresError(err)
	}

	return id, nil
}

// RecentFailureStreak returns the number of consecutive failures for an
// address since its last successful attempt. Diagnostics only; admission
// decisions use the lockout record counter, not the ledger.
func (r *AttemptRepository) RecentFailureStreak(ctx context.Context, address string) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE address = $1 AND outcome = 'failure'
		  AND attempt_time > COALESCE(
			(SELECT MAX(attempt_time) FROM login_attempts
			 WHERE address = $1 AND outcome = 'success'),
			'-infinity'::timestamptz)
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, address).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// ListRecent returns the most recent attempts, newest first.
func (r *AttemptRepository) ListRecent(ctx context.Context, limit int) ([]models.LoginAttempt, error) {
	query := `
		SELECT id, address, username, outcome, attempt_time
		FROM login_attempts
		ORDER BY attempt_time DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var attempts []models.LoginAttempt
	for rows.Next() {
		var a models.LoginAttempt
		if err := rows.Scan(&a.ID, &a.Address, &a.Username, &a.Outcome, &a.AttemptTime); err != nil {
			return nil, database.MapPostgresError(err)
		}
		attempts = append(attempts, a)
	}

	return attempts, database.MapPostgresError(rows.Err())
}
