package permission

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// Store is the PermissionSchemeStore: Postgres-backed CRUD
// over permission_schemes plus the user/api-key assignment tables,
// fanning out cache invalidation on every mutation, using the same
// raw-SQL/sqlx idiom as the other repositories in this codebase.
type Store struct {
	db    *sqlx.DB
	cache *Cache
}

func NewStore(db *sqlx.DB, cache *Cache) *Store {
	return &Store{db: db, cache: cache}
}

// SetCache wires the cache fan-out after construction, for callers
// that must build the Store before the Cache exists (the Cache's own
// constructor takes a SchemeStore, so the two cannot both be
// constructed cache-first).
func (s *Store) SetCache(cache *Cache) {
	s.cache = cache
}

type schemeRow struct {
	UUID        string `db:"uuid"`
	Name        string `db:"name"`
	Description string `db:"description"`
	IsSystem    bool   `db:"is_system"`
	Roles       []byte `db:"roles"`
}

func (row *schemeRow) toEntity() (*entities.PermissionScheme, error) {
	roles := map[string][]entities.Permission{}
	if len(row.Roles) > 0 {
		if err := json.Unmarshal(row.Roles, &roles); err != nil {
			return nil, rerrors.Database("corrupt permission scheme roles payload", err)
		}
	}
	return &entities.PermissionScheme{
		UUID:        row.UUID,
		Name:        row.Name,
		Description: row.Description,
		IsSystem:    row.IsSystem,
		Roles:       roles,
	}, nil
}

// GetScheme loads a single scheme by UUID.
func (s *Store) GetScheme(ctx context.Context, id string) (*entities.PermissionScheme, error) {
	const query = `
		SELECT uuid, name, description, is_system, roles
		FROM permission_schemes
		WHERE uuid = $1`

	var row schemeRow
	err := s.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, rerrors.NotFound("permission_scheme", id)
	}
	if err != nil {
		return nil, rerrors.Database("failed to load permission scheme", err)
	}
	return row.toEntity()
}

// SchemesForUser loads every scheme assigned to a human user via
// user_permission_schemes.
func (s *Store) SchemesForUser(ctx context.Context, userUUID string) ([]*entities.PermissionScheme, error) {
	const query = `
		SELECT ps.uuid, ps.name, ps.description, ps.is_system, ps.roles
		FROM permission_schemes ps
		JOIN user_permission_schemes ups ON ups.scheme_uuid = ps.uuid
		WHERE ups.user_uuid = $1`

	var rows []schemeRow
	if err := s.db.SelectContext(ctx, &rows, query, userUUID); err != nil {
		return nil, rerrors.Database("failed to load user permission schemes", err)
	}
	return toEntities(rows)
}

// SchemesForAPIKey loads every scheme assigned to an API key via
// api_key_permission_schemes.
func (s *Store) SchemesForAPIKey(ctx context.Context, apiKeyUUID string) ([]*entities.PermissionScheme, error) {
	const query = `
		SELECT ps.uuid, ps.name, ps.description, ps.is_system, ps.roles
		FROM permission_schemes ps
		JOIN api_key_permission_schemes akps ON akps.scheme_uuid = ps.uuid
		WHERE akps.api_key_uuid = $1`

	var rows []schemeRow
	if err := s.db.SelectContext(ctx, &rows, query, apiKeyUUID); err != nil {
		return nil, rerrors.Database("failed to load api key permission schemes", err)
	}
	return toEntities(rows)
}

func toEntities(rows []schemeRow) ([]*entities.PermissionScheme, error) {
	out := make([]*entities.PermissionScheme, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Create inserts a new permission scheme. is_system schemes can only be
// seeded by migrations, never through this path.
func (s *Store) Create(ctx context.Context, scheme *entities.PermissionScheme) (*entities.PermissionScheme, error) {
	if scheme.UUID == "" {
		scheme.UUID = uuid.NewString()
	}
	rolesJSON, err := json.Marshal(scheme.Roles)
	if err != nil {
		return nil, rerrors.Validation("invalid roles payload")
	}

	const query = `
		INSERT INTO permission_schemes (uuid, name, description, is_system, roles)
		VALUES ($1, $2, $3, false, $4)`

	if _, err := s.db.ExecContext(ctx, query, scheme.UUID, scheme.Name, scheme.Description, rolesJSON); err != nil {
		return nil, rerrors.Database("failed to create permission scheme", err)
	}
	return scheme, nil
}

// Update replaces the roles/name/description of an existing, non-system
// scheme and invalidates its cache fan-out.
func (s *Store) Update(ctx context.Context, scheme *entities.PermissionScheme) error {
	existing, err := s.GetScheme(ctx, scheme.UUID)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return rerrors.Validation("system permission schemes are immutable")
	}

	rolesJSON, err := json.Marshal(scheme.Roles)
	if err != nil {
		return rerrors.Validation("invalid roles payload")
	}

	const query = `
		UPDATE permission_schemes
		SET name = $2, description = $3, roles = $4
		WHERE uuid = $1 AND is_system = false`

	res, err := s.db.ExecContext(ctx, query, scheme.UUID, scheme.Name, scheme.Description, rolesJSON)
	if err != nil {
		return rerrors.Database("failed to update permission scheme", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rerrors.NotFound("permission_scheme", scheme.UUID)
	}

	if s.cache != nil {
		s.cache.InvalidateScheme(ctx, scheme.UUID)
	}
	return nil
}

// Delete removes a non-system scheme and invalidates every principal
// that referenced it.
func (s *Store) Delete(ctx context.Context, id string) error {
	existing, err := s.GetScheme(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return rerrors.Validation("system permission schemes are immutable")
	}

	const query = `DELETE FROM permission_schemes WHERE uuid = $1 AND is_system = false`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return rerrors.Database("failed to delete permission scheme", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rerrors.NotFound("permission_scheme", id)
	}

	if s.cache != nil {
		s.cache.InvalidateSchemeDeleted(ctx, id, existing.Roles)
	}
	return nil
}

// AssignToUser attaches a scheme to a human user and invalidates that
// user's cached assignment set.
func (s *Store) AssignToUser(ctx context.Context, userUUID, schemeUUID string) error {
	const query = `
		INSERT INTO user_permission_schemes (user_uuid, scheme_uuid)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, userUUID, schemeUUID); err != nil {
		return rerrors.Database("failed to assign permission scheme to user", err)
	}
	if s.cache != nil {
		s.cache.InvalidateUser(ctx, userUUID)
	}
	return nil
}

// UnassignFromUser detaches a scheme from a human user.
func (s *Store) UnassignFromUser(ctx context.Context, userUUID, schemeUUID string) error {
	const query = `DELETE FROM user_permission_schemes WHERE user_uuid = $1 AND scheme_uuid = $2`
	if _, err := s.db.ExecContext(ctx, query, userUUID, schemeUUID); err != nil {
		return rerrors.Database("failed to unassign permission scheme from user", err)
	}
	if s.cache != nil {
		s.cache.InvalidateUser(ctx, userUUID)
	}
	return nil
}

// AssignToAPIKey attaches a scheme to an API key and invalidates its
// cached assignment set.
func (s *Store) AssignToAPIKey(ctx context.Context, apiKeyUUID, schemeUUID string) error {
	const query = `
		INSERT INTO api_key_permission_schemes (api_key_uuid, scheme_uuid)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, apiKeyUUID, schemeUUID); err != nil {
		return rerrors.Database("failed to assign permission scheme to api key", err)
	}
	if s.cache != nil {
		s.cache.InvalidateAPIKey(ctx, apiKeyUUID)
	}
	return nil
}

// UnassignFromAPIKey detaches a scheme from an API key.
func (s *Store) UnassignFromAPIKey(ctx context.Context, apiKeyUUID, schemeUUID string) error {
	const query = `DELETE FROM api_key_permission_schemes WHERE api_key_uuid = $1 AND scheme_uuid = $2`
	if _, err := s.db.ExecContext(ctx, query, apiKeyUUID, schemeUUID); err != nil {
		return rerrors.Database("failed to unassign permission scheme from api key", err)
	}
	if s.cache != nil {
		s.cache.InvalidateAPIKey(ctx, apiKeyUUID)
	}
	return nil
}

// List returns every permission scheme, for the administrative listing
// endpoint.
func (s *Store) List(ctx context.Context) ([]*entities.PermissionScheme, error) {
	const query = `SELECT uuid, name, description, is_system, roles FROM permission_schemes ORDER BY name`

	var rows []schemeRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, rerrors.Database("failed to list permission schemes", err)
	}
	return toEntities(rows)
}
