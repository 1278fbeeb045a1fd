package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/gatehouse/internal/auth"
	"github.com/BradenHooton/gatehouse/internal/models"
	"github.com/BradenHooton/gatehouse/internal/services"
	pkghttp "github.com/BradenHooton/gatehouse/pkg/http"
)

// GateHandler exposes the admission, outcome, and two-factor operations to
// the authentication front-end. These are server-to-server endpoints: the
// front-end passes the end user's address explicitly. When the address is
// omitted the caller's own address is used, resolved through the trusted
// proxy configuration, so direct-facing deployments work without it.
type GateHandler struct {
	provider *services.Provider
	delay    *auth.TimingDelay
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewGateHandler creates a new GateHandler
func NewGateHandler(provider *services.Provider, delay *auth.TimingDelay, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *GateHandler {
	return &GateHandler{
		provider: provider,
		delay:    delay,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// CheckRequest asks whether an address may proceed to credential verification
type CheckRequest struct {
	Address string `json:"address" validate:"omitempty,ip"`
}

// CheckResponse carries a positive admission decision. Denials are written
// as a generic 429; the reason never leaves the audit log and admin views.
type CheckResponse struct {
	Allowed bool `json:"allowed"`
}

// ReportRequest reports the outcome of a completed credential check
type ReportRequest struct {
	Address  string `json:"address" validate:"omitempty,ip"`
	Username string `json:"username" validate:"required"`
	Outcome  string `json:"outcome" validate:"required,oneof=success failure"`
	Elevated bool   `json:"elevated"`
}

// ChallengeRequiredRequest asks whether a user must complete a second factor
type ChallengeRequiredRequest struct {
	User models.GateUser `json:"user" validate:"required"`
}

// IssueChallengeRequest creates a challenge for a gated user
type IssueChallengeRequest struct {
	User    models.GateUser `json:"user" validate:"required"`
	Address string          `json:"address" validate:"required,ip"`
}

// IssueChallengeResponse returns the challenge handle for later verification
type IssueChallengeResponse struct {
	Token     string    `json:"token"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyChallengeRequest submits a code against a challenge
type VerifyChallengeRequest struct {
	Token string `json:"token" validate:"required,uuid"`
	Code  string `json:"code" validate:"required"`
}

// VerifyChallengeResponse carries the typed verification result
type VerifyChallengeResponse struct {
	Result string `json:"result"`
}

// EnrollRequest provisions a TOTP secret for a user
type EnrollRequest struct {
	User models.GateUser `json:"user" validate:"required"`
}

// EnrollResponse returns the QR data URL for the authenticator app
type EnrollResponse struct {
	QRDataURL string `json:"qr_data_url"`
}

// Check handles POST /gate/check
func (h *GateHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	address := h.resolveAddress(r, req.Address)

	decision := h.provider.Engine().CheckAdmission(r.Context(), address, time.Now())
	if !decision.Allowed {
		// Uniform delay so callers cannot distinguish denial causes by
		// response time.
		h.delay.Wait()
		pkghttp.WriteAdmissionDenied(w)
		return
	}

	writeJSON(w, http.StatusOK, CheckResponse{Allowed: true})
}

// Report handles POST /gate/report
func (h *GateHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	report := services.OutcomeReport{
		Address:  h.resolveAddress(r, req.Address),
		Username: req.Username,
		Outcome:  models.Outcome(req.Outcome),
		Elevated: req.Elevated,
	}

	if err := h.provider.Engine().ReportOutcome(r.Context(), report, time.Now()); err != nil {
		h.logger.Error("failed to report outcome", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to record outcome")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChallengeRequired handles POST /gate/2fa/required
func (h *GateHandler) ChallengeRequired(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequiredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}

	required := h.provider.Gate().RequiresChallenge(req.User)
	writeJSON(w, http.StatusOK, map[string]bool{"required": required})
}

// IssueChallenge handles POST /gate/2fa/issue
func (h *GateHandler) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	var req IssueChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	challenge, err := h.provider.Gate().Issue(r.Context(), req.User, req.Address, time.Now())
	if err != nil {
		if errors.Is(err, models.ErrNotEnrolled) {
			pkghttp.WriteConflict(w, "user has no TOTP enrollment")
			return
		}
		h.logger.Error("failed to issue challenge", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to issue challenge")
		return
	}

	writeJSON(w, http.StatusCreated, IssueChallengeResponse{
		Token:     challenge.Token,
		Method:    string(challenge.Method),
		ExpiresAt: challenge.ExpiresAt,
	})
}

// VerifyChallenge handles POST /gate/2fa/verify
func (h *GateHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req VerifyChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.provider.Gate().Verify(r.Context(), req.Token, req.Code, time.Now())
	if err != nil {
		if errors.Is(err, models.ErrChallengeNotFound) {
			pkghttp.WriteNotFound(w, "challenge not found")
			return
		}
		h.logger.Error("failed to verify challenge", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to verify challenge")
		return
	}

	writeJSON(w, http.StatusOK, VerifyChallengeResponse{Result: string(result)})
}

// Enroll handles POST /gate/2fa/enroll
func (h *GateHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}

	qrDataURL, err := h.provider.Gate().Enroll(r.Context(), req.User, time.Now())
	if err != nil {
		h.logger.Error("failed to enroll TOTP", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to enroll")
		return
	}

	writeJSON(w, http.StatusCreated, EnrollResponse{QRDataURL: qrDataURL})
}

// resolveAddress prefers the address the front-end supplied and falls back
// to the connecting client, honouring X-Forwarded-For only from trusted
// proxies.
func (h *GateHandler) resolveAddress(r *http.Request, supplied string) string {
	if supplied != "" {
		return supplied
	}
	return pkghttp.ExtractClientIP(r, h.ipConfig)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
