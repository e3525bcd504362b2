package repositories

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// SystemSettingsRepository is a key/JSONB-value store over
// system_settings, backing runtime-tunable policy such as
// the versioning pruning overrides without requiring a
// redeploy to change them.
type SystemSettingsRepository struct {
	db *sqlx.DB
}

func NewSystemSettingsRepository(db *sqlx.DB) *SystemSettingsRepository {
	return &SystemSettingsRepository{db: db}
}

type settingRow struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

// Get loads a single setting's raw JSON value. Returns a NotFound
// error when the key has never been set, so callers can fall back to
// a static config default.
func (r *SystemSettingsRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var row settingRow
	err := r.db.GetContext(ctx, &row, `SELECT key, value FROM system_settings WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, rerrors.NotFound("system_setting", key)
	}
	if err != nil {
		return nil, rerrors.Database("failed to load system setting", err)
	}
	return row.Value, nil
}

// GetInt loads a setting and decodes it as a JSON integer, returning
// (nil, nil) when the key is unset rather than an error, matching the
// *int "unset means fall back to static config" convention
// config.VersioningConfig already uses.
func (r *SystemSettingsRepository) GetInt(ctx context.Context, key string) (*int, error) {
	raw, err := r.Get(ctx, key)
	if err != nil {
		if rerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, rerrors.Database("corrupt system setting value", err)
	}
	return &n, nil
}

// Set upserts a setting's JSON value.
func (r *SystemSettingsRepository) Set(ctx context.Context, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return rerrors.Validation("invalid system setting value")
	}

	const query = `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	if _, err := r.db.ExecContext(ctx, query, key, payload); err != nil {
		return rerrors.Database("failed to set system setting", err)
	}
	return nil
}

// List returns every stored setting key/value pair, for an
// administrative settings listing.
func (r *SystemSettingsRepository) List(ctx context.Context) (map[string]json.RawMessage, error) {
	var rows []settingRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT key, value FROM system_settings ORDER BY key`); err != nil {
		return nil, rerrors.Database("failed to list system settings", err)
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		out[row.Key] = json.RawMessage(row.Value)
	}
	return out, nil
}

// Keys used by the versioning pruning policy, overriding
// config.VersioningConfig's static defaults when present.
const (
	SettingVersioningMaxAgeDays  = "versioning.max_age_days"
	SettingVersioningMaxVersions = "versioning.max_versions"
)
