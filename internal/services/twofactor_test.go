package services_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/gatehouse/internal/auth"
	"github.com/BradenHooton/gatehouse/internal/models"
	"github.com/BradenHooton/gatehouse/internal/services"
	pkglogger "github.com/BradenHooton/gatehouse/pkg/logger"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockChallengeStore implements ChallengeStore in memory. Verify holds the
// store lock while the check callback runs, mirroring the row lock the
// database repository takes.
type MockChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*models.TwoFactorChallenge
}

func NewMockChallengeStore() *MockChallengeStore {
	return &MockChallengeStore{challenges: make(map[string]*models.TwoFactorChallenge)}
}

func (m *MockChallengeStore) Create(ctx context.Context, challenge *models.TwoFactorChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *challenge
	m.challenges[challenge.Token] = &cp
	return nil
}

func (m *MockChallengeStore) Verify(
	ctx context.Context,
	token string,
	now time.Time,
	check func(*models.TwoFactorChallenge) models.VerifyResult,
) (models.VerifyResult, *models.TwoFactorChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	challenge, ok := m.challenges[token]
	if !ok {
		return "", nil, models.ErrChallengeNotFound
	}
	if challenge.Verified {
		return models.VerifyAlreadyUsed, challenge, nil
	}
	if challenge.ExpiredAt(now) {
		return models.VerifyExpired, challenge, nil
	}

	result := check(challenge)
	if result == models.VerifySuccess {
		challenge.Verified = true
	}
	return result, challenge, nil
}

// MockEnrollmentStore implements EnrollmentStore for testing
type MockEnrollmentStore struct {
	enrollments map[string]*models.TOTPEnrollment
}

func NewMockEnrollmentStore() *MockEnrollmentStore {
	return &MockEnrollmentStore{enrollments: make(map[string]*models.TOTPEnrollment)}
}

func (m *MockEnrollmentStore) Upsert(ctx context.Context, enrollment *models.TOTPEnrollment) error {
	cp := *enrollment
	m.enrollments[enrollment.UserID] = &cp
	return nil
}

func (m *MockEnrollmentStore) Get(ctx context.Context, userID string) (*models.TOTPEnrollment, error) {
	enrollment, ok := m.enrollments[userID]
	if !ok {
		return nil, models.ErrNotEnrolled
	}
	cp := *enrollment
	return &cp, nil
}

// MockMailer captures the last delivered challenge code
type MockMailer struct {
	email    string
	code     string
	failWith error
	sends    int
}

func (m *MockMailer) SendChallengeCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	m.sends++
	if m.failWith != nil {
		return m.failWith
	}
	m.email = email
	m.code = code
	return nil
}

type gateFixture struct {
	gate        *services.TwoFactorGate
	challenges  *MockChallengeStore
	enrollments *MockEnrollmentStore
	mailer      *MockMailer
	totpMgr     *auth.TOTPManager
}

func newGateFixture(t *testing.T, method models.TwoFactorMethod) *gateFixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := models.DefaultSecurityConfig()
	cfg.TwoFactorEnabled = true
	cfg.TwoFactorMethod = method
	cfg.TwoFactorRoles = []models.RoleID{"admin"}

	totpMgr, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "gatehouse-test")
	require.NoError(t, err)

	challenges := NewMockChallengeStore()
	enrollments := NewMockEnrollmentStore()
	mailer := &MockMailer{}
	audit := pkglogger.NewAuditLogger(logger)

	return &gateFixture{
		gate:        services.NewTwoFactorGate(cfg, challenges, enrollments, mailer, totpMgr, logger, audit),
		challenges:  challenges,
		enrollments: enrollments,
		mailer:      mailer,
		totpMgr:     totpMgr,
	}
}

func gatedUser() models.GateUser {
	return models.GateUser{
		ID:       "user-1",
		Username: "carol",
		Email:    "carol@example.com",
		Role:     "admin",
	}
}

func TestRequiresChallenge_RoleMembership(t *testing.T) {
	f := newGateFixture(t, models.MethodEmail)

	assert.True(t, f.gate.RequiresChallenge(gatedUser()))
	assert.False(t, f.gate.RequiresChallenge(models.GateUser{ID: "user-2", Role: "subscriber"}))
}

func TestRequiresChallenge_DisabledGate(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := models.DefaultSecurityConfig()
	cfg.TwoFactorEnabled = false
	cfg.TwoFactorRoles = []models.RoleID{"admin"}

	totpMgr, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "gatehouse-test")
	require.NoError(t, err)

	gate := services.NewTwoFactorGate(cfg, NewMockChallengeStore(), NewMockEnrollmentStore(), &MockMailer{}, totpMgr, logger, pkglogger.NewAuditLogger(logger))

	assert.False(t, gate.RequiresChallenge(gatedUser()))
}

func TestIssueAndVerify_EmailCode(t *testing.T) {
	f := newGateFixture(t, models.MethodEmail)
	ctx := context.Background()
	now := time.Now()

	challenge, err := f.gate.Issue(ctx, gatedUser(), "203.0.113.7", now)
	require.NoError(t, err)
	require.NotNil(t, challenge)

	assert.Equal(t, "carol@example.com", f.mailer.email)
	require.Len(t, f.mailer.code, 6)
	// The plaintext code never reaches storage.
	require.NotNil(t, challenge.CodeHash)
	assert.NotContains(t, *challenge.CodeHash, f.mailer.code)

	result, err := f.gate.Verify(ctx, challenge.Token, f.mailer.code, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.VerifySuccess, result)
}

func TestVerify_WrongEmailCode(t *testing.T) {
	f := newGateFixture(t, models.MethodEmail)
	ctx := context.Background()
	now := time.Now()

	challenge, err := f.gate.Issue(ctx, gatedUser(), "203.0.113.7", now)
	require.NoError(t, err)

	result, err := f.gate.Verify(ctx, challenge.Token, "000000", now)
	require.NoError(t, err)
	assert.Equal(t, models.VerifyInvalidCode, result)

	// A wrong code does not consume the challenge.
	result, err = f.gate.Verify(ctx, challenge.Token, f.mailer.code, now)
	require.NoError(t, err)
	assert.Equal(t, models.VerifySuccess, result)
}

func TestVerify_ExpiryBeatsCorrectCode(t *testing.T) {
	f := newGateFixture(t, models.MethodEmail)
	ctx := context.Background()
	now := time.Now()

	challenge, err := f.gate.Issue(ctx, gatedUser(), "203.0.113.7", now)
	require.NoError(t, err)

	// The right code submitted after expiry still answers expired.
	result, err := f.gate.Verify(ctx, challenge.Token, f.mailer.code, now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.VerifyExpired, result)
}

func TestVerify_SingleUse(t *testing.T) {
	f := newGateFixture(t, models.MethodEmail)
	ctx := context.Background()
	now := time.Now()

	challenge, err := f.gate.Issue(ctx, gatedUser(), "203.0.113.7", now)
	require.NoError(t, err)

	result, err := f.gate.Verify(ctx, challenge.Token, f.mailer.code, now)
	require.NoError(t, err)
	require.Equal(t, models.VerifySuccess, result)

	result, err = f.gate.Verify(ctx, challenge.Token, f.mailer.code, now)
	require.NoError(t, err)
	assert.Equal(t, models.VerifyAlreadyUsed, result)
}

func TestVerify_UnknownToken(t *testing.T) {
	f := newGateFixture(t, models.MethodEmail)

	_, err := f.gate.Verify(context.Background(), "missing-token", "123456", time.Now())

	assert.True(t, errors.Is(err, models.ErrChallengeNotFound))
}

func TestIssue_MailerFailureSurfaces(t *testing.T) {
	f := newGateFixture(t, models.MethodEmail)
	f.mailer.failWith = errors.New("ses unavailable")

	_, err := f.gate.Issue(context.Background(), gatedUser(), "203.0.113.7", time.Now())

	require.Error(t, err)
	assert.Equal(t, 1, f.mailer.sends)
}

func TestIssue_TOTPRequiresEnrollment(t *testing.T) {
	f := newGateFixture(t, models.MethodTOTP)

	_, err := f.gate.Issue(context.Background(), gatedUser(), "203.0.113.7", time.Now())

	assert.True(t, errors.Is(err, models.ErrNotEnrolled))
	assert.Equal(t, 0, f.mailer.sends)
}

func TestEnrollAndVerify_TOTP(t *testing.T) {
	f := newGateFixture(t, models.MethodTOTP)
	ctx := context.Background()
	now := time.Now()
	user := gatedUser()

	qrDataURL, err := f.gate.Enroll(ctx, user, now)
	require.NoError(t, err)
	assert.Contains(t, qrDataURL, "data:image/png;base64,")

	challenge, err := f.gate.Issue(ctx, user, "203.0.113.7", now)
	require.NoError(t, err)
	assert.Nil(t, challenge.CodeHash)
	assert.Equal(t, 0, f.mailer.sends)

	// Generate the code the authenticator app would show.
	enrollment, err := f.enrollments.Get(ctx, user.ID)
	require.NoError(t, err)
	secret, err := f.totpMgr.DecryptSecret(enrollment.SecretEncrypted, enrollment.SecretNonce)
	require.NoError(t, err)
	code, err := totp.GenerateCodeCustom(string(secret), now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	result, err := f.gate.Verify(ctx, challenge.Token, code, now)
	require.NoError(t, err)
	assert.Equal(t, models.VerifySuccess, result)
}

func TestVerify_TOTPWrongCode(t *testing.T) {
	f := newGateFixture(t, models.MethodTOTP)
	ctx := context.Background()
	now := time.Now()
	user := gatedUser()

	_, err := f.gate.Enroll(ctx, user, now)
	require.NoError(t, err)
	challenge, err := f.gate.Issue(ctx, user, "203.0.113.7", now)
	require.NoError(t, err)

	result, err := f.gate.Verify(ctx, challenge.Token, "000000", now)
	require.NoError(t, err)
	assert.Equal(t, models.VerifyInvalidCode, result)
}

func TestEnroll_ReplacesPreviousSecret(t *testing.T) {
	f := newGateFixture(t, models.MethodTOTP)
	ctx := context.Background()
	now := time.Now()
	user := gatedUser()

	_, err := f.gate.Enroll(ctx, user, now)
	require.NoError(t, err)
	first, err := f.enrollments.Get(ctx, user.ID)
	require.NoError(t, err)

	_, err = f.gate.Enroll(ctx, user, now)
	require.NoError(t, err)
	second, err := f.enrollments.Get(ctx, user.ID)
	require.NoError(t, err)

	assert.NotEqual(t, first.SecretEncrypted, second.SecretEncrypted)
}

func TestVerify_AuditRecordsUserAndAddress(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cfg := models.DefaultSecurityConfig()
	cfg.TwoFactorEnabled = true
	cfg.TwoFactorMethod = models.MethodEmail
	cfg.TwoFactorRoles = []models.RoleID{"admin"}

	totpMgr, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "gatehouse-test")
	require.NoError(t, err)

	mailer := &MockMailer{}
	gate := services.NewTwoFactorGate(cfg, NewMockChallengeStore(), NewMockEnrollmentStore(), mailer, totpMgr, logger, pkglogger.NewAuditLogger(logger))

	ctx := context.Background()
	now := time.Now()
	challenge, err := gate.Issue(ctx, gatedUser(), "203.0.113.7", now)
	require.NoError(t, err)

	buf.Reset()
	result, err := gate.Verify(ctx, challenge.Token, mailer.code, now)
	require.NoError(t, err)
	require.Equal(t, models.VerifySuccess, result)

	// The audit trail must identify who verified from where, matching what
	// challenge_issued records.
	assert.Contains(t, buf.String(), `"event_type":"challenge_verified"`)
	assert.Contains(t, buf.String(), `"user_id":"user-1"`)
	assert.Contains(t, buf.String(), `"address":"203.0.113.7"`)
}
