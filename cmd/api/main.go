package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/gatehouse/internal/auth"
	"github.com/BradenHooton/gatehouse/internal/background"
	"github.com/BradenHooton/gatehouse/internal/config"
	"github.com/BradenHooton/gatehouse/internal/database"
	"github.com/BradenHooton/gatehouse/internal/handlers"
	middlewareCustom "github.com/BradenHooton/gatehouse/internal/middleware"
	"github.com/BradenHooton/gatehouse/internal/repositories"
	"github.com/BradenHooton/gatehouse/internal/routes"
	"github.com/BradenHooton/gatehouse/internal/services"
	pkghttp "github.com/BradenHooton/gatehouse/pkg/http"
	pkglogger "github.com/BradenHooton/gatehouse/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	attemptRepo := repositories.NewAttemptRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	challengeRepo := repositories.NewChallengeRepository(db)
	enrollmentRepo := repositories.NewEnrollmentRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)

	// Load the persisted security policy
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	securityCfg, err := settingsRepo.Load(loadCtx)
	loadCancel()
	if err != nil {
		logger.Error("failed to load security configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(challengeRepo, lockoutRepo, logger, cfg.Gate.CleanupInterval)

	// Token manager for the admin API
	tokenManager := auth.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.TokenExpiry)

	// TOTP manager with encrypted secret storage
	totpManager, err := auth.NewTOTPManager(cfg.Gate.TOTPEncryptionKey, cfg.Gate.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Timing delay applied to denied admission checks
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Gate.TimingDelayBaseMs,
		RandomDelayMs: cfg.Gate.TimingDelayRandomMs,
	})

	// Challenge code delivery. Without a from address, codes go to the log.
	var mailer services.Mailer
	if cfg.Mail.FromAddress != "" {
		sesMailer, err := services.NewAWSSESMailer(cfg.Mail.SESRegion, cfg.Mail.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize SES mailer", slog.Any("error", err))
			os.Exit(1)
		}
		mailer = sesMailer
	} else {
		logger.Warn("MAIL_FROM_ADDRESS not set, challenge codes will be logged")
		mailer = services.NewLogMailer(logger)
	}

	bridge := services.NewNotificationBridge(services.NewSlogNotifier(logger), cfg.Gate.NotifyTimeout, logger)

	// Build the engine and gate from the loaded policy
	provider := services.NewProvider(
		securityCfg,
		attemptRepo,
		lockoutRepo,
		challengeRepo,
		enrollmentRepo,
		mailer,
		bridge,
		totpManager,
		logger,
		auditLogger,
	)

	// Initialize handlers
	gateHandler := handlers.NewGateHandler(provider, timingDelay, &pkghttp.IPConfig{TrustedProxies: cfg.Gate.TrustedProxies}, logger)
	adminHandler := handlers.NewAdminHandler(provider, settingsRepo, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, gateHandler, adminHandler, tokenManager, provider)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
