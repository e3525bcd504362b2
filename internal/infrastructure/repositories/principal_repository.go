package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/token"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// HumanUserRepository is the Postgres-backed CRUD store for admin_users
// (its HumanUser variant), using the same raw-SQL/sqlx idiom as the
// other repositories in this package.
type HumanUserRepository struct {
	db *sqlx.DB
}

func NewHumanUserRepository(db *sqlx.DB) *HumanUserRepository {
	return &HumanUserRepository{db: db}
}

type humanUserRow struct {
	UUID             string       `db:"uuid"`
	Username         string       `db:"username"`
	Email            string       `db:"email"`
	PasswordHash     string       `db:"password_hash"`
	RoleName         string       `db:"role_name"`
	IsSuperAdminRole bool         `db:"is_superadmin_role"`
	IsActive         bool         `db:"is_active"`
	IsSuperAdmin     bool         `db:"is_superadmin"`
	FailedLoginCount int          `db:"failed_login_count"`
	LockedUntil      sql.NullTime `db:"locked_until"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

func (r humanUserRow) toEntity() *entities.HumanUser {
	u := &entities.HumanUser{
		UUID:             r.UUID,
		Username:         r.Username,
		Email:            r.Email,
		PasswordHash:     r.PasswordHash,
		IsActive:         r.IsActive,
		IsSuperAdmin:     r.IsSuperAdmin,
		FailedLoginCount: r.FailedLoginCount,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.IsSuperAdminRole {
		u.Role = entities.SuperAdminRole()
	} else {
		u.Role = entities.CustomRole(r.RoleName)
	}
	if r.LockedUntil.Valid {
		u.LockedUntil = &r.LockedUntil.Time
	}
	return u
}

const humanUserColumns = `uuid, username, email, password_hash, role_name, is_superadmin_role,
	is_active, is_superadmin, failed_login_count, locked_until, created_at, updated_at`

func (r *HumanUserRepository) GetByUUID(ctx context.Context, id string) (*entities.HumanUser, error) {
	query := `SELECT ` + humanUserColumns + ` FROM admin_users WHERE uuid = $1`
	var row humanUserRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("admin_user", id)
		}
		return nil, rerrors.Database("failed to load admin user", err)
	}
	return row.toEntity(), nil
}

func (r *HumanUserRepository) GetByUsername(ctx context.Context, username string) (*entities.HumanUser, error) {
	query := `SELECT ` + humanUserColumns + ` FROM admin_users WHERE username = $1`
	var row humanUserRow
	if err := r.db.GetContext(ctx, &row, query, username); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("admin_user", username)
		}
		return nil, rerrors.Database("failed to load admin user", err)
	}
	return row.toEntity(), nil
}

func (r *HumanUserRepository) Create(ctx context.Context, u *entities.HumanUser) error {
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	query := `
		INSERT INTO admin_users (uuid, username, email, password_hash, role_name, is_superadmin_role, is_active, is_superadmin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query, u.UUID, u.Username, u.Email, u.PasswordHash,
		u.Role.Name, u.Role.IsSuperAdmin, u.IsActive, u.IsSuperAdmin)
	if err != nil {
		return rerrors.Database("failed to create admin user", err)
	}
	return nil
}

func (r *HumanUserRepository) RecordFailedLogin(ctx context.Context, id string, lockedUntil *time.Time) error {
	query := `UPDATE admin_users SET failed_login_count = failed_login_count + 1, locked_until = $2 WHERE uuid = $1`
	if _, err := r.db.ExecContext(ctx, query, id, lockedUntil); err != nil {
		return rerrors.Database("failed to record failed login", err)
	}
	return nil
}

func (r *HumanUserRepository) ResetFailedLogins(ctx context.Context, id string) error {
	query := `UPDATE admin_users SET failed_login_count = 0, locked_until = NULL WHERE uuid = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return rerrors.Database("failed to reset failed logins", err)
	}
	return nil
}

func (r *HumanUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE admin_users SET password_hash = $2, updated_at = now() WHERE uuid = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash); err != nil {
		return rerrors.Database("failed to update password", err)
	}
	return nil
}

// APIKeyRepository is the Postgres-backed CRUD store for api_keys
// (its APIKey variant). Only the SHA-256 digest is ever stored.
type APIKeyRepository struct {
	db *sqlx.DB
}

func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

type apiKeyRow struct {
	UUID               string       `db:"uuid"`
	OwnerPrincipalUUID string       `db:"owner_principal_uuid"`
	Name               string       `db:"name"`
	KeyHash            string       `db:"key_hash"`
	ExpiresAt          sql.NullTime `db:"expires_at"`
	CreatedAt          time.Time    `db:"created_at"`
	Revoked            bool         `db:"revoked"`
}

func (r apiKeyRow) toEntity() *entities.APIKey {
	k := &entities.APIKey{
		UUID:               r.UUID,
		OwnerPrincipalUUID: r.OwnerPrincipalUUID,
		Name:               r.Name,
		KeyHash:            r.KeyHash,
		CreatedAt:          r.CreatedAt,
		Revoked:            r.Revoked,
	}
	if r.ExpiresAt.Valid {
		k.ExpiresAt = &r.ExpiresAt.Time
	}
	return k
}

const apiKeyColumns = `uuid, owner_principal_uuid, name, key_hash, expires_at, created_at, revoked`

func (r *APIKeyRepository) GetByUUID(ctx context.Context, id string) (*entities.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE uuid = $1`
	var row apiKeyRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("api_key", id)
		}
		return nil, rerrors.Database("failed to load api key", err)
	}
	return row.toEntity(), nil
}

func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*entities.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`
	var row apiKeyRow
	if err := r.db.GetContext(ctx, &row, query, hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("api_key", hash)
		}
		return nil, rerrors.Database("failed to load api key", err)
	}
	return row.toEntity(), nil
}

func (r *APIKeyRepository) Create(ctx context.Context, k *entities.APIKey) error {
	if k.UUID == "" {
		k.UUID = uuid.NewString()
	}
	query := `
		INSERT INTO api_keys (uuid, owner_principal_uuid, name, key_hash, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, false)`
	_, err := r.db.ExecContext(ctx, query, k.UUID, k.OwnerPrincipalUUID, k.Name, k.KeyHash, k.ExpiresAt)
	if err != nil {
		return rerrors.Database("failed to create api key", err)
	}
	return nil
}

func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET revoked = true WHERE uuid = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return rerrors.Database("failed to revoke api key", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rerrors.NotFound("api_key", id)
	}
	return nil
}

func (r *APIKeyRepository) List(ctx context.Context, ownerPrincipalUUID string) ([]*entities.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE owner_principal_uuid = $1 ORDER BY created_at DESC`
	var rows []apiKeyRow
	if err := r.db.SelectContext(ctx, &rows, query, ownerPrincipalUUID); err != nil {
		return nil, rerrors.Database("failed to list api keys", err)
	}
	out := make([]*entities.APIKey, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

// RefreshTokenRepository implements token.RefreshTokenStore over
// Postgres.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

type refreshTokenRow struct {
	UUID               string       `db:"uuid"`
	OwnerPrincipalUUID string       `db:"owner_principal_uuid"`
	TokenHash          string       `db:"token_hash"`
	ExpiresAt          time.Time    `db:"expires_at"`
	CreatedAt          time.Time    `db:"created_at"`
	LastUsedAt         sql.NullTime `db:"last_used_at"`
	Revoked            bool         `db:"revoked"`
	DeviceInfo         string       `db:"device_info"`
}

func (r refreshTokenRow) toEntity() *entities.RefreshToken {
	t := &entities.RefreshToken{
		UUID:               r.UUID,
		OwnerPrincipalUUID: r.OwnerPrincipalUUID,
		TokenHash:          r.TokenHash,
		ExpiresAt:          r.ExpiresAt,
		CreatedAt:          r.CreatedAt,
		Revoked:            r.Revoked,
		DeviceInfo:         r.DeviceInfo,
	}
	if r.LastUsedAt.Valid {
		t.LastUsedAt = &r.LastUsedAt.Time
	}
	return t
}

func (r *RefreshTokenRepository) Create(ctx context.Context, exec token.Execer, t *entities.RefreshToken) error {
	if exec == nil {
		exec = r.db
	}
	query := `
		INSERT INTO refresh_tokens (uuid, owner_principal_uuid, token_hash, expires_at, device_info)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := exec.ExecContext(ctx, query, t.UUID, t.OwnerPrincipalUUID, t.TokenHash, t.ExpiresAt, t.DeviceInfo)
	if err != nil {
		return rerrors.Database("failed to create refresh token", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*entities.RefreshToken, error) {
	query := `
		SELECT uuid, owner_principal_uuid, token_hash, expires_at, created_at, last_used_at, revoked, device_info
		FROM refresh_tokens WHERE token_hash = $1`
	var row refreshTokenRow
	if err := r.db.GetContext(ctx, &row, query, hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("refresh_token", hash)
		}
		return nil, rerrors.Database("failed to load refresh token", err)
	}
	return row.toEntity(), nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, exec token.Execer, id string) error {
	if exec == nil {
		exec = r.db
	}
	query := `UPDATE refresh_tokens SET revoked = true WHERE uuid = $1`
	if _, err := exec.ExecContext(ctx, query, id); err != nil {
		return rerrors.Database("failed to revoke refresh token", err)
	}
	return nil
}

// BeginTx starts a transaction Refresh can run Revoke and Create
// through atomically during refresh-token rotation.
func (r *RefreshTokenRepository) BeginTx(ctx context.Context) (token.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, rerrors.Database("failed to begin transaction", err)
	}
	return tx, nil
}

func (r *RefreshTokenRepository) RevokeAllForPrincipal(ctx context.Context, principalUUID string) (int, error) {
	query := `UPDATE refresh_tokens SET revoked = true WHERE owner_principal_uuid = $1 AND revoked = false`
	res, err := r.db.ExecContext(ctx, query, principalUUID)
	if err != nil {
		return 0, rerrors.Database("failed to revoke refresh tokens", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *RefreshTokenRepository) Touch(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE refresh_tokens SET last_used_at = $2 WHERE uuid = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return rerrors.Database("failed to touch refresh token", err)
	}
	return nil
}
