package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatehouse/internal/repositories"
)

// CleanupManager periodically removes expired unverified challenges and
// lockout rows that hold no remaining state
type CleanupManager struct {
	challengeRepo *repositories.ChallengeRepository
	lockoutRepo   *repositories.LockoutRepository
	logger        *slog.Logger
	interval      time.Duration
	stopCh        chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	challengeRepo *repositories.ChallengeRepository,
	lockoutRepo *repositories.LockoutRepository,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		challengeRepo: challengeRepo,
		lockoutRepo:   lockoutRepo,
		logger:        logger,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now()

	challenges, err := cm.challengeRepo.DeleteExpired(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to cleanup expired challenges", slog.Any("error", err))
	}

	lockouts, err := cm.lockoutRepo.DeleteCleared(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to cleanup cleared lockouts", slog.Any("error", err))
	}

	if challenges > 0 || lockouts > 0 {
		cm.logger.Info("cleanup completed",
			slog.Int64("challenges_deleted", challenges),
			slog.Int64("lockouts_deleted", lockouts))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
