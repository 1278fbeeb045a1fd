package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/BradenHooton/gatehouse/internal/auth"
	"github.com/BradenHooton/gatehouse/internal/handlers"
	"github.com/BradenHooton/gatehouse/internal/models"
	"github.com/BradenHooton/gatehouse/internal/services"
	pkghttp "github.com/BradenHooton/gatehouse/pkg/http"
	pkglogger "github.com/BradenHooton/gatehouse/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Minimal in-memory collaborators for handler-level tests. Transition
// semantics are covered by the service and repository tests; here they
// only need to be well-behaved.

type stubLedger struct {
	attempts []models.LoginAttempt
}

func (s *stubLedger) Record(ctx context.Context, attempt *models.LoginAttempt) (string, error) {
	s.attempts = append(s.attempts, *attempt)
	return "attempt-id", nil
}

func (s *stubLedger) RecentFailureStreak(ctx context.Context, address string) (int, error) {
	return 0, nil
}

func (s *stubLedger) ListRecent(ctx context.Context, limit int) ([]models.LoginAttempt, error) {
	return s.attempts, nil
}

type stubLockoutStore struct {
	records map[string]*models.LockoutRecord
}

func newStubLockoutStore() *stubLockoutStore {
	return &stubLockoutStore{records: make(map[string]*models.LockoutRecord)}
}

func (s *stubLockoutStore) Get(ctx context.Context, address string) (*models.LockoutRecord, error) {
	rec, ok := s.records[address]
	if !ok {
		return nil, models.ErrNotFound
	}
	return rec, nil
}

func (s *stubLockoutStore) TryRecordFailure(ctx context.Context, address string, now time.Time, maxAttempts int, duration func(level int) time.Duration) (*models.LockoutRecord, bool, error) {
	rec, ok := s.records[address]
	if !ok {
		rec = &models.LockoutRecord{Address: address}
		s.records[address] = rec
	}
	rec.FailureCount++
	return rec, false, nil
}

func (s *stubLockoutStore) RecordSuccess(ctx context.Context, address string, now time.Time) error {
	return nil
}

func (s *stubLockoutStore) Clear(ctx context.Context, address string, now time.Time) error {
	delete(s.records, address)
	return nil
}

func (s *stubLockoutStore) ListActive(ctx context.Context, now time.Time) ([]models.LockoutRecord, error) {
	return nil, nil
}

type stubChallengeStore struct {
	challenges map[string]*models.TwoFactorChallenge
}

func newStubChallengeStore() *stubChallengeStore {
	return &stubChallengeStore{challenges: make(map[string]*models.TwoFactorChallenge)}
}

func (s *stubChallengeStore) Create(ctx context.Context, challenge *models.TwoFactorChallenge) error {
	cp := *challenge
	s.challenges[challenge.Token] = &cp
	return nil
}

func (s *stubChallengeStore) Verify(ctx context.Context, token string, now time.Time, check func(*models.TwoFactorChallenge) models.VerifyResult) (models.VerifyResult, *models.TwoFactorChallenge, error) {
	challenge, ok := s.challenges[token]
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

type stubEnrollmentStore struct {
	enrollments map[string]*models.TOTPEnrollment
}

func newStubEnrollmentStore() *stubEnrollmentStore {
	return &stubEnrollmentStore{enrollments: make(map[string]*models.TOTPEnrollment)}
}

func (s *stubEnrollmentStore) Upsert(ctx context.Context, enrollment *models.TOTPEnrollment) error {
	cp := *enrollment
	s.enrollments[enrollment.UserID] = &cp
	return nil
}

func (s *stubEnrollmentStore) Get(ctx context.Context, userID string) (*models.TOTPEnrollment, error) {
	enrollment, ok := s.enrollments[userID]
	if !ok {
		return nil, models.ErrNotEnrolled
	}
	return enrollment, nil
}

type stubMailer struct {
	code string
}

func (s *stubMailer) SendChallengeCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	s.code = code
	return nil
}

func newTestGateHandler(t *testing.T, mutate func(*models.SecurityConfig)) (*handlers.GateHandler, *stubMailer) {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := models.DefaultSecurityConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	totpMgr, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "gatehouse-test")
	require.NoError(t, err)

	mailer := &stubMailer{}
	provider := services.NewProvider(
		cfg,
		&stubLedger{},
		newStubLockoutStore(),
		newStubChallengeStore(),
		newStubEnrollmentStore(),
		mailer,
		services.NewNotificationBridge(nil, time.Second, logger),
		totpMgr,
		logger,
		pkglogger.NewAuditLogger(logger),
	)

	delay := auth.NewTimingDelay(auth.TimingConfig{})
	ipConfig := &pkghttp.IPConfig{}
	return handlers.NewGateHandler(provider, delay, ipConfig, logger), mailer
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestGateCheck_AllowsUnknownAddress(t *testing.T) {
	handler, _ := newTestGateHandler(t, nil)

	rec := postJSON(t, handler.Check, "/gate/check", handlers.CheckRequest{Address: "203.0.113.7"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)
}

func TestGateCheck_DenialIsGeneric(t *testing.T) {
	handler, _ := newTestGateHandler(t, func(cfg *models.SecurityConfig) {
		cfg.Blacklist = []string{"192.0.2.44"}
	})

	rec := postJSON(t, handler.Check, "/gate/check", handlers.CheckRequest{Address: "192.0.2.44"})

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "too_many_attempts", resp.Error)
	assert.Equal(t, "Too many attempts, try again later", resp.Message)
	// The body must not leak why the address was denied.
	assert.NotContains(t, rec.Body.String(), "blacklist")
}

func TestGateCheck_OmittedAddressUsesClientIP(t *testing.T) {
	handler, _ := newTestGateHandler(t, func(cfg *models.SecurityConfig) {
		cfg.Blacklist = []string{"192.0.2.44"}
	})

	req := httptest.NewRequest(http.MethodPost, "/gate/check", bytes.NewReader([]byte(`{}`)))
	req.RemoteAddr = "192.0.2.44:51234"
	rec := httptest.NewRecorder()
	handler.Check(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGateCheck_RejectsInvalidAddress(t *testing.T) {
	handler, _ := newTestGateHandler(t, nil)

	rec := postJSON(t, handler.Check, "/gate/check", handlers.CheckRequest{Address: "not-an-ip"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateReport_RecordsOutcome(t *testing.T) {
	handler, _ := newTestGateHandler(t, nil)

	rec := postJSON(t, handler.Report, "/gate/report", handlers.ReportRequest{
		Address:  "203.0.113.7",
		Username: "carol",
		Outcome:  "failure",
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGateReport_RejectsUnknownOutcome(t *testing.T) {
	handler, _ := newTestGateHandler(t, nil)

	rec := postJSON(t, handler.Report, "/gate/report", handlers.ReportRequest{
		Address:  "203.0.113.7",
		Username: "carol",
		Outcome:  "maybe",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateChallenge_EmailFlow(t *testing.T) {
	handler, mailer := newTestGateHandler(t, func(cfg *models.SecurityConfig) {
		cfg.TwoFactorEnabled = true
		cfg.TwoFactorMethod = models.MethodEmail
		cfg.TwoFactorRoles = []models.RoleID{"admin"}
	})
	user := models.GateUser{ID: "user-1", Username: "carol", Email: "carol@example.com", Role: "admin"}

	rec := postJSON(t, handler.ChallengeRequired, "/gate/2fa/required", handlers.ChallengeRequiredRequest{User: user})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"required":true}`, rec.Body.String())

	rec = postJSON(t, handler.IssueChallenge, "/gate/2fa/issue", handlers.IssueChallengeRequest{User: user, Address: "203.0.113.7"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued handlers.IssueChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	assert.Equal(t, "email", issued.Method)
	require.NotEmpty(t, mailer.code)
	// The issued code never appears in the response.
	assert.NotContains(t, rec.Body.String(), mailer.code)

	rec = postJSON(t, handler.VerifyChallenge, "/gate/2fa/verify", handlers.VerifyChallengeRequest{Token: issued.Token, Code: mailer.code})
	require.Equal(t, http.StatusOK, rec.Code)
	var verified handlers.VerifyChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	assert.Equal(t, "success", verified.Result)
}

func TestGateVerifyChallenge_UnknownToken(t *testing.T) {
	handler, _ := newTestGateHandler(t, func(cfg *models.SecurityConfig) {
		cfg.TwoFactorEnabled = true
	})

	rec := postJSON(t, handler.VerifyChallenge, "/gate/2fa/verify", handlers.VerifyChallengeRequest{
		Token: "b3e6f9a0-0000-4000-8000-000000000000",
		Code:  "123456",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateIssueChallenge_TOTPWithoutEnrollment(t *testing.T) {
	handler, _ := newTestGateHandler(t, func(cfg *models.SecurityConfig) {
		cfg.TwoFactorEnabled = true
		cfg.TwoFactorMethod = models.MethodTOTP
		cfg.TwoFactorRoles = []models.RoleID{"admin"}
	})
	user := models.GateUser{ID: "user-1", Email: "carol@example.com", Role: "admin"}

	rec := postJSON(t, handler.IssueChallenge, "/gate/2fa/issue", handlers.IssueChallengeRequest{User: user, Address: "203.0.113.7"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGateEnroll_ReturnsQRCode(t *testing.T) {
	handler, _ := newTestGateHandler(t, func(cfg *models.SecurityConfig) {
		cfg.TwoFactorEnabled = true
		cfg.TwoFactorMethod = models.MethodTOTP
	})
	user := models.GateUser{ID: "user-1", Email: "carol@example.com", Role: "admin"}

	rec := postJSON(t, handler.Enroll, "/gate/2fa/enroll", handlers.EnrollRequest{User: user})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp handlers.EnrollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.QRDataURL, "data:image/png;base64,")
}
