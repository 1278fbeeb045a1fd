package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BradenHooton/gatehouse/internal/models"
	"github.com/BradenHooton/gatehouse/internal/services"
	pkghttp "github.com/BradenHooton/gatehouse/pkg/http"
	"github.com/go-chi/chi/v5"
)

const defaultAttemptListLimit = 50

// SettingsStore loads and saves the persisted SecurityConfig.
type SettingsStore interface {
	Load(ctx context.Context) (models.SecurityConfig, error)
	Save(ctx context.Context, cfg models.SecurityConfig) error
}

// AdminHandler exposes lockout, ledger, and configuration management to
// operators. Unlike the gate endpoints, responses here carry full detail.
type AdminHandler struct {
	provider *services.Provider
	settings SettingsStore
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(provider *services.Provider, settings SettingsStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		provider: provider,
		settings: settings,
		logger:   logger,
	}
}

// LockoutResponse is the administrative view of one lockout record
type LockoutResponse struct {
	Address         string     `json:"address"`
	FailureCount    int        `json:"failure_count"`
	EscalationLevel int        `json:"escalation_level"`
	LockoutUntil    *time.Time `json:"lockout_until,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AttemptResponse is the administrative view of one ledger entry
type AttemptResponse struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Username    string    `json:"username"`
	Outcome     string    `json:"outcome"`
	AttemptTime time.Time `json:"attempt_time"`
}

// ListLockouts handles GET /admin/lockouts
func (h *AdminHandler) ListLockouts(w http.ResponseWriter, r *http.Request) {
	records, err := h.provider.Engine().ListActiveLockouts(r.Context(), time.Now())
	if err != nil {
		h.logger.Error("failed to list lockouts", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to list lockouts")
		return
	}

	resp := make([]LockoutResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, LockoutResponse{
			Address:         rec.Address,
			FailureCount:    rec.FailureCount,
			EscalationLevel: rec.EscalationLevel,
			LockoutUntil:    rec.LockoutUntil,
			CreatedAt:       rec.CreatedAt,
			UpdatedAt:       rec.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Unlock handles DELETE /admin/lockouts/{address}
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	address, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil || address == "" {
		pkghttp.WriteBadRequest(w, "invalid address")
		return
	}

	if err := h.provider.Engine().Unlock(r.Context(), address, time.Now()); err != nil {
		h.logger.Error("failed to unlock address",
			slog.String("address", address),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to unlock address")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAttempts handles GET /admin/attempts
func (h *AdminHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAttemptListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			pkghttp.WriteBadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	attempts, err := h.provider.Engine().ListRecentAttempts(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list attempts", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to list attempts")
		return
	}

	resp := make([]AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, AttemptResponse{
			ID:          a.ID,
			Address:     a.Address,
			Username:    a.Username,
			Outcome:     string(a.Outcome),
			AttemptTime: a.AttemptTime,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetFailureStreak handles GET /admin/attempts/{address}/streak
func (h *AdminHandler) GetFailureStreak(w http.ResponseWriter, r *http.Request) {
	address, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil || address == "" {
		pkghttp.WriteBadRequest(w, "invalid address")
		return
	}

	streak, err := h.provider.Engine().FailureStreak(r.Context(), address)
	if err != nil {
		h.logger.Error("failed to compute failure streak",
			slog.String("address", address),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to compute failure streak")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"streak":  streak,
	})
}

// GetConfig handles GET /admin/config
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.Load(r.Context())
	if err != nil {
		h.logger.Error("failed to load security config", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to load configuration")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// UpdateConfig handles PUT /admin/config. A successful save rebuilds the
// engine and gate so the new configuration takes effect immediately.
func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.SecurityConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(cfg); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.settings.Save(r.Context(), cfg); err != nil {
		if errors.Is(err, models.ErrBadRequest) || errors.Is(err, models.ErrInvalidAddress) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to save security config", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to save configuration")
		return
	}

	h.provider.Rebuild(cfg)

	h.logger.Info("security configuration updated",
		slog.Int("max_attempts", cfg.MaxAttempts),
		slog.Int("lockout_duration_minutes", cfg.LockoutDurationMinutes),
		slog.Bool("progressive_lockout", cfg.ProgressiveLockout))

	writeJSON(w, http.StatusOK, cfg)
}
