package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BradenHooton/gatehouse/internal/database"
	"github.com/BradenHooton/gatehouse/internal/models"
	"github.com/lib/pq"
)

// SettingsRepository persists the single SecurityConfig record. The address
// lists live in text[] columns so operators can inspect and patch them with
// plain SQL; everything else is one JSONB document.
type SettingsRepository struct {
	db *database.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Load returns the stored configuration, or the defaults when none has
// been saved yet.
func (r *SettingsRepository) Load(ctx context.Context) (models.SecurityConfig, error) {
	query := `SELECT config, whitelist, blacklist FROM security_settings WHERE id = 1`

	// pgx decodes text[] result columns into []string natively (the pool's
	// default exec mode uses the binary wire format, which pq.Array cannot
	// parse), so pq.Array is only used on the write path.
	var raw []byte
	var whitelist, blacklist []string
	err := r.db.Pool.QueryRow(ctx, query).Scan(&raw, &whitelist, &blacklist)
	if err != nil {
		if database.MapPostgresError(err) == models.ErrNotFound {
			return models.DefaultSecurityConfig(), nil
		}
		return models.SecurityConfig{}, database.MapPostgresError(err)
	}

	var cfg models.SecurityConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return models.SecurityConfig{}, fmt.Errorf("corrupt security settings: %w", err)
	}
	cfg.Whitelist = whitelist
	cfg.Blacklist = blacklist

	return cfg, nil
}

// Save validates and upserts the configuration. Invalid configurations are
// rejected here so they can never reach evaluation time.
func (r *SettingsRepository) Save(ctx context.Context, cfg models.SecurityConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Lists are carried in their own columns; blank them in the document
	// so there is a single source of truth.
	whitelist, blacklist := cfg.Whitelist, cfg.Blacklist
	cfg.Whitelist, cfg.Blacklist = nil, nil

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal security settings: %w", err)
	}

	query := `
		INSERT INTO security_settings (id, config, whitelist, blacklist, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET config = EXCLUDED.config,
		    whitelist = EXCLUDED.whitelist,
		    blacklist = EXCLUDED.blacklist,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.Pool.Exec(ctx, query, raw, pq.Array(whitelist), pq.Array(blacklist), time.Now())
	return database.MapPostgresError(err)
}
