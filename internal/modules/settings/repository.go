// Package settings persists the small set of mutable runtime values.
// The trading configuration itself is immutable (see internal/config);
// only the virtual-equity budget ceiling changes between runs, and it is
// isolated behind this narrow load/store interface.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/database"
)

// VirtualEquityKey is the persisted budget ceiling used for sizing decisions.
const VirtualEquityKey = "virtual_equity"

// Repository is a key/value store in the state database.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a settings repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// InitSchema creates the settings table if it does not exist.
func (r *Repository) InitSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create settings schema: %w", err)
	}
	return nil
}

// GetFloat returns the stored value for key, or fallback when the key is
// missing or unparseable (missing state is "first run", not an error).
func (r *Repository) GetFloat(key string, fallback float64) (float64, error) {
	var raw string
	err := r.db.QueryRow(`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to load setting %s: %w", key, err)
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.log.Warn().Str("key", key).Str("value", raw).Msg("Unparseable setting, using fallback")
		return fallback, nil
	}
	return value, nil
}

// SetFloat stores a value for key (upsert).
func (r *Repository) SetFloat(key string, value float64) error {
	_, err := r.db.Exec(`
		INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, strconv.FormatFloat(value, 'f', -1, 64),
	)
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}
