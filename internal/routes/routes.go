package routes

import (
	"github.com/BradenHooton/gatehouse/internal/auth"
	"github.com/BradenHooton/gatehouse/internal/handlers"
	"github.com/BradenHooton/gatehouse/internal/middleware"
	"github.com/BradenHooton/gatehouse/internal/services"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	gateHandler *handlers.GateHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	provider *services.Provider,
) {
	// Rate limiting config for the gate endpoints
	rateLimitConfig := middleware.DefaultGateRateLimit()

	// Gate routes - called by the login flow, no operator auth
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		r.Use(middleware.HideLogin(provider.Config, "/gate/check"))

		r.Post("/gate/check", gateHandler.Check)
		r.Post("/gate/report", gateHandler.Report)
		r.Post("/gate/2fa/required", gateHandler.ChallengeRequired)
		r.Post("/gate/2fa/issue", gateHandler.IssueChallenge)
		r.Post("/gate/2fa/verify", gateHandler.VerifyChallenge)
		r.Post("/gate/2fa/enroll", gateHandler.Enroll)
	})

	// Admin routes - operator token required
	router.Group(func(r chi.Router) {
		r.Use(auth.AdminMiddleware(tokenManager))

		r.Get("/admin/lockouts", adminHandler.ListLockouts)
		r.Delete("/admin/lockouts/{address}", adminHandler.Unlock)
		r.Get("/admin/attempts", adminHandler.ListAttempts)
		r.Get("/admin/attempts/{address}/streak", adminHandler.GetFailureStreak)
		r.Get("/admin/config", adminHandler.GetConfig)
		r.Put("/admin/config", adminHandler.UpdateConfig)
	})
}
