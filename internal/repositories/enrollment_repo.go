package repositories

import (
	"context"

	"github.com/BradenHooton/gatehouse/internal/database"
	"github.com/BradenHooton/gatehouse/internal/models"
)

// EnrollmentRepository stores provisioned TOTP secrets, encrypted at rest.
type EnrollmentRepository struct {
	db *database.DB
}

// NewEnrollmentRepository creates a new EnrollmentRepository
func NewEnrollmentRepository(db *database.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Upsert stores or replaces a user's TOTP enrollment.
func (r *EnrollmentRepository) Upsert(ctx context.Context, enrollment *models.TOTPEnrollment) error {
	query := `
		INSERT INTO totp_enrollments (user_id, secret_encrypted, secret_nonce, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET secret_encrypted = EXCLUDED.secret_encrypted,
		    secret_nonce = EXCLUDED.secret_nonce,
		    created_at = EXCLUDED.created_at
	`

	_, err := r.db.Pool.Exec(ctx, query,
		enrollment.UserID,
		enrollment.SecretEncrypted,
		enrollment.SecretNonce,
		enrollment.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// Get returns a user's enrollment, or models.ErrNotEnrolled.
func (r *EnrollmentRepository) Get(ctx context.Context, userID string) (*models.TOTPEnrollment, error) {
	query := `
		SELECT user_id, secret_encrypted, secret_nonce, created_at
		FROM totp_enrollments
		WHERE user_id = $1
	`

	var e models.TOTPEnrollment
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&e.UserID, &e.SecretEncrypted, &e.SecretNonce, &e.CreatedAt,
	)
	if err != nil {
		if database.MapPostgresError(err) == models.ErrNotFound {
			return nil, models.ErrNotEnrolled
		}
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

// Delete removes a user's enrollment.
func (r *EnrollmentRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM totp_enrollments WHERE user_id = $1`, userID)
	return database.MapPostgresError(err)
}
