package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatehouse/internal/auth"
	"github.com/BradenHooton/gatehouse/internal/models"
	pkglogger "github.com/BradenHooton/gatehouse/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	challengeTTL    = 10 * time.Minute
	emailCodeLength = 6
)

// ChallengeStore persists two-factor challenges. Verify must hold the
// challenge exclusively while the check callback runs so a valid code
// cannot be consumed twice.
type ChallengeStore interface {
	Create(ctx context.Context, challenge *models.TwoFactorChallenge) error
	Verify(ctx context.Context, token string, now time.Time, check func(*models.TwoFactorChallenge) models.VerifyResult) (models.VerifyResult, *models.TwoFactorChallenge, error)
}

// EnrollmentStore persists provisioned TOTP secrets.
type EnrollmentStore interface {
	Upsert(ctx context.Context, enrollment *models.TOTPEnrollment) error
	Get(ctx context.Context, userID string) (*models.TOTPEnrollment, error)
}

// Mailer delivers email challenge codes. Implementations live outside this
// core; see AWSSESMailer.
type Mailer interface {
	SendChallengeCode(ctx context.Context, email, code string, expiresAt time.Time) error
}

// TwoFactorGate issues and verifies second-factor challenges for roles the
// configuration gates. Like the engine it holds an immutable SecurityConfig.
type TwoFactorGate struct {
	cfg         models.SecurityConfig
	challenges  ChallengeStore
	enrollments EnrollmentStore
	mailer      Mailer
	totpMgr     *auth.TOTPManager
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
}

// NewTwoFactorGate creates a new TwoFactorGate
func NewTwoFactorGate(
	cfg models.SecurityConfig,
	challenges ChallengeStore,
	enrollments EnrollmentStore,
	mailer Mailer,
	totpMgr *auth.TOTPManager,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *TwoFactorGate {
	return &TwoFactorGate{
		cfg:         cfg,
		challenges:  challenges,
		enrollments: enrollments,
		mailer:      mailer,
		totpMgr:     totpMgr,
		logger:      logger,
		audit:       audit,
	}
}

// RequiresChallenge reports whether a user must complete a second factor
// before their session is established.
func (g *TwoFactorGate) RequiresChallenge(user models.GateUser) bool {
	return g.cfg.RequiresTwoFactor(user.Role)
}

// Issue creates a challenge for a gated user after successful primary
// authentication. For the email method a random numeric code is generated,
// stored hashed, and handed to the mail collaborator; for TOTP the
// challenge only references the user's provisioned secret.
func (g *TwoFactorGate) Issue(ctx context.Context, user models.GateUser, address string, now time.Time) (*models.TwoFactorChallenge, error) {
	challenge := &models.TwoFactorChallenge{
		Token:     uuid.New().String(),
		UserID:    user.ID,
		Address:   address,
		Method:    g.cfg.TwoFactorMethod,
		ExpiresAt: now.Add(challengeTTL),
		CreatedAt: now,
	}

	switch g.cfg.TwoFactorMethod {
	case models.MethodEmail:
		code, err := generateNumericCode(emailCodeLength)
		if err != nil {
			g.logger.Error("failed to generate challenge code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			g.logger.Error("failed to hash challenge code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		hashStr := string(hash)
		challenge.CodeHash = &hashStr

		if err := g.challenges.Create(ctx, challenge); err != nil {
			return nil, fmt.Errorf("store challenge: %w", err)
		}

		if err := g.mailer.SendChallengeCode(ctx, user.Email, code, challenge.ExpiresAt); err != nil {
			g.logger.Error("failed to send challenge code",
				slog.String("user_id", user.ID),
				slog.Any("error", err))
			return nil, fmt.Errorf("send challenge code: %w", err)
		}

	case models.MethodTOTP:
		// No code is generated or sent; verification goes through the
		// provisioned secret.
		if _, err := g.enrollments.Get(ctx, user.ID); err != nil {
			return nil, err
		}
		if err := g.challenges.Create(ctx, challenge); err != nil {
			return nil, fmt.Errorf("store challenge: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: unknown two-factor method %q", models.ErrBadRequest, g.cfg.TwoFactorMethod)
	}

	g.audit.LogChallengeEvent("challenge_issued", user.ID, address, string(g.cfg.TwoFactorMethod))
	return challenge, nil
}

// Verify checks a submitted code against a challenge. The transition to
// verified happens at most once; a consumed challenge answers AlreadyUsed
// and expiry is checked before code correctness, so a correct code
// submitted late still answers Expired.
func (g *TwoFactorGate) Verify(ctx context.Context, token, submittedCode string, now time.Time) (models.VerifyResult, error) {
	result, challenge, err := g.challenges.Verify(ctx, token, now, func(c *models.TwoFactorChallenge) models.VerifyResult {
		switch c.Method {
		case models.MethodEmail:
			if c.CodeHash == nil {
				return models.VerifyInvalidCode
			}
			if bcrypt.CompareHashAndPassword([]byte(*c.CodeHash), []byte(submittedCode)) != nil {
				return models.VerifyInvalidCode
			}
			return models.VerifySuccess

		case models.MethodTOTP:
			enrollment, err := g.enrollments.Get(ctx, c.UserID)
			if err != nil {
				g.logger.Error("failed to load TOTP enrollment",
					slog.String("user_id", c.UserID),
					slog.Any("error", err))
				return models.VerifyInvalidCode
			}

			secret, err := g.totpMgr.DecryptSecret(enrollment.SecretEncrypted, enrollment.SecretNonce)
			if err != nil {
				g.logger.Error("failed to decrypt TOTP secret",
					slog.String("user_id", c.UserID),
					slog.Any("error", err))
				return models.VerifyInvalidCode
			}

			valid, err := g.totpMgr.Validate(secret, submittedCode, now)
			if err != nil || !valid {
				return models.VerifyInvalidCode
			}
			return models.VerifySuccess
		}

		return models.VerifyInvalidCode
	})
	if err != nil {
		return "", err
	}

	g.audit.LogChallengeEvent("challenge_verified", challenge.UserID, challenge.Address, string(result))
	return result, nil
}

// Enroll provisions a TOTP secret for a user and returns a QR data URL for
// the authenticator app. Re-enrolling replaces the previous secret.
func (g *TwoFactorGate) Enroll(ctx context.Context, user models.GateUser, now time.Time) (string, error) {
	encrypted, nonce, qrDataURL, err := g.totpMgr.Enroll(user.Email)
	if err != nil {
		g.logger.Error("failed to provision TOTP secret",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	enrollment := &models.TOTPEnrollment{
		UserID:          user.ID,
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
		CreatedAt:       now,
	}

	if err := g.enrollments.Upsert(ctx, enrollment); err != nil {
		return "", fmt.Errorf("store enrollment: %w", err)
	}

	g.audit.LogChallengeEvent("totp_enrolled", user.ID, "", "")
	return qrDataURL, nil
}

// generateNumericCode returns a random fixed-length digit string. Bytes of
// 250 and above are rejected so every digit is equally likely.
func generateNumericCode(length int) (string, error) {
	const digits = "0123456789"
	const limit = 250

	code := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			code = append(code, digits[int(b)%len(digits)])
			if len(code) == length {
				break
			}
		}
	}
	return string(code), nil
}
