package services

import (
	"log/slog"
	"sync/atomic"

	"github.com/BradenHooton/gatehouse/internal/auth"
	"github.com/BradenHooton/gatehouse/internal/models"
	pkglogger "github.com/BradenHooton/gatehouse/pkg/logger"
)

// Provider owns the current engine and gate instances. Both hold an
// immutable SecurityConfig, so applying a newly saved configuration means
// rebuilding them; Rebuild swaps the pair atomically and in-flight requests
// finish against the configuration they started with.
type Provider struct {
	ledger      AttemptLedger
	store       LockoutStore
	challenges  ChallengeStore
	enrollments EnrollmentStore
	mailer      Mailer
	bridge      *NotificationBridge
	totpMgr     *auth.TOTPManager
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger

	current atomic.Pointer[gatePair]
}

type gatePair struct {
	cfg    models.SecurityConfig
	engine *LockoutEngine
	gate   *TwoFactorGate
}

// NewProvider creates a Provider and builds the initial engine and gate
// from the given configuration.
func NewProvider(
	cfg models.SecurityConfig,
	ledger AttemptLedger,
	store LockoutStore,
	challenges ChallengeStore,
	enrollments EnrollmentStore,
	mailer Mailer,
	bridge *NotificationBridge,
	totpMgr *auth.TOTPManager,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *Provider {
	p := &Provider{
		ledger:      ledger,
		store:       store,
		challenges:  challenges,
		enrollments: enrollments,
		mailer:      mailer,
		bridge:      bridge,
		totpMgr:     totpMgr,
		logger:      logger,
		audit:       audit,
	}
	p.Rebuild(cfg)
	return p
}

// Rebuild constructs a fresh engine and gate from cfg and swaps them in.
func (p *Provider) Rebuild(cfg models.SecurityConfig) {
	pair := &gatePair{
		cfg:    cfg,
		engine: NewLockoutEngine(cfg, p.ledger, p.store, p.bridge, p.logger, p.audit),
		gate:   NewTwoFactorGate(cfg, p.challenges, p.enrollments, p.mailer, p.totpMgr, p.logger, p.audit),
	}
	p.current.Store(pair)
}

// Config returns the configuration the current pair was built from.
func (p *Provider) Config() models.SecurityConfig {
	return p.current.Load().cfg
}

// Engine returns the current lockout engine.
func (p *Provider) Engine() *LockoutEngine {
	return p.current.Load().engine
}

// Gate returns the current two-factor gate.
func (p *Provider) Gate() *TwoFactorGate {
	return p.current.Load().gate
}
