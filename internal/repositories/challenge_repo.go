package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/gatehouse/internal/database"
	"github.com/BradenHooton/gatehouse/internal/models"
	"github.com/jackc/pgx/v5"
)

// ChallengeRepository stores two-factor challenges. Verification runs under
// a row lock so a valid code cannot be replayed by concurrent requests.
type ChallengeRepository struct {
	db *database.DB
}

// NewChallengeRepository creates a new ChallengeRepository
func NewChallengeRepository(db *database.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// Create stores a freshly issued challenge.
func (r *ChallengeRepository) Create(ctx context.Context, challenge *models.TwoFactorChallenge) error {
	query := `
		INSERT INTO two_factor_challenges (token, user_id, address, method, code_hash, expires_at, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		challenge.Token,
		challenge.UserID,
		challenge.Address,
		challenge.Method,
		challenge.CodeHash,
		challenge.ExpiresAt,
		challenge.Verified,
		challenge.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// Get returns a challenge by token, or models.ErrChallengeNotFound.
func (r *ChallengeRepository) Get(ctx context.Context, token string) (*models.TwoFactorChallenge, error) {
	query := `
		SELECT token, user_id, address, method, code_hash, expires_at, verified, created_at
		FROM two_factor_challenges
		WHERE token = $1
	`

	var c models.TwoFactorChallenge
	err := r.db.Pool.QueryRow(ctx, query, token).Scan(
		&c.Token, &c.UserID, &c.Address, &c.Method, &c.CodeHash,
		&c.ExpiresAt, &c.Verified, &c.CreatedAt,
	)
	if err != nil {
		if database.MapPostgresError(err) == models.ErrNotFound {
			return nil, models.ErrChallengeNotFound
		}
		return nil, database.MapPostgresError(err)
	}

	return &c, nil
}

// Verify runs the atomic check-and-mark-used transition. The challenge row
// is locked for the duration; the check callback only runs for a live
// (unverified, unexpired) challenge and decides whether the submitted code
// matches. The verified flag is set exactly when check returns
// VerifySuccess, so a challenge transitions to verified at most once.
// Expiry is checked before code correctness. The loaded challenge is
// returned alongside the result so callers can audit who verified from
// where.
func (r *ChallengeRepository) Verify(
	ctx context.Context,
	token string,
	now time.Time,
	check func(*models.TwoFactorChallenge) models.VerifyResult,
) (models.VerifyResult, *models.TwoFactorChallenge, error) {
	var result models.VerifyResult
	var challenge *models.TwoFactorChallenge

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var c models.TwoFactorChallenge
		err := tx.QueryRow(ctx, `
			SELECT token, user_id, address, method, code_hash, expires_at, verified, created_at
			FROM two_factor_challenges
			WHERE token = $1
			FOR UPDATE
		`, token).Scan(
			&c.Token, &c.UserID, &c.Address, &c.Method, &c.CodeHash,
			&c.ExpiresAt, &c.Verified, &c.CreatedAt,
		)
		if err != nil {
			if database.MapPostgresError(err) == models.ErrNotFound {
				return models.ErrChallengeNotFound
			}
			return err
		}
		challenge = &c

		switch {
		case c.Verified:
			result = models.VerifyAlreadyUsed
			return nil
		case c.ExpiredAt(now):
			result = models.VerifyExpired
			return nil
		}

		result = check(&c)
		if result != models.VerifySuccess {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE two_factor_challenges SET verified = TRUE WHERE token = $1
		`, token)
		return err
	})
	if err != nil {
		return "", nil, database.MapPostgresError(err)
	}

	return result, challenge, nil
}

// DeleteExpired removes expired challenges that were never verified.
func (r *ChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM two_factor_challenges WHERE expires_at <= $1 AND verified = FALSE`

	tag, err := r.db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
