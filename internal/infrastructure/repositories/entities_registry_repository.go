package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// RegistryEntry is one row of the entities_registry table:
// the virtual-path index shared across every entity_<type> table,
// letting a caller resolve path-based lookups and type listings
// without knowing which concrete table an entity lives in.
type RegistryEntry struct {
	UUID       string
	EntityType string
	Path       string
	EntityKey  string
	ParentUUID string
}

type registryRow struct {
	UUID       string         `db:"uuid"`
	EntityType string         `db:"entity_type"`
	Path       string         `db:"path"`
	EntityKey  string         `db:"entity_key"`
	ParentUUID sql.NullString `db:"parent_uuid"`
}

func (r registryRow) toEntry() RegistryEntry {
	return RegistryEntry{
		UUID:       r.UUID,
		EntityType: r.EntityType,
		Path:       r.Path,
		EntityKey:  r.EntityKey,
		ParentUUID: r.ParentUUID.String,
	}
}

// EntitiesRegistryRepository is the read-side query layer over
// entities_registry: the entity_<type> tables
// themselves carry full field data, so cross-type listing and
// path-prefix lookups go through this index instead.
type EntitiesRegistryRepository struct {
	db *sqlx.DB
}

func NewEntitiesRegistryRepository(db *sqlx.DB) *EntitiesRegistryRepository {
	return &EntitiesRegistryRepository{db: db}
}

// ListByType returns a page of registry entries for one entity type,
// ordered by path, along with the total count across all pages.
func (r *EntitiesRegistryRepository) ListByType(ctx context.Context, entityType string, limit, offset int) ([]RegistryEntry, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM entities_registry WHERE entity_type = $1`, entityType); err != nil {
		return nil, 0, rerrors.Database("failed to count registry entries", err)
	}

	var rows []registryRow
	query := `SELECT uuid, entity_type, path, entity_key, parent_uuid FROM entities_registry
		WHERE entity_type = $1 ORDER BY path LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &rows, query, entityType, limit, offset); err != nil {
		return nil, 0, rerrors.Database("failed to list registry entries", err)
	}

	out := make([]RegistryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntry())
	}
	return out, total, nil
}

// ListByPathPrefix returns every registry entry whose path starts with
// prefix (its hierarchical path addressing), ordered by path.
func (r *EntitiesRegistryRepository) ListByPathPrefix(ctx context.Context, entityType, prefix string, limit, offset int) ([]RegistryEntry, int, error) {
	like := prefix + "%"
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM entities_registry WHERE entity_type = $1 AND path LIKE $2`, entityType, like); err != nil {
		return nil, 0, rerrors.Database("failed to count registry entries", err)
	}

	var rows []registryRow
	query := `SELECT uuid, entity_type, path, entity_key, parent_uuid FROM entities_registry
		WHERE entity_type = $1 AND path LIKE $2 ORDER BY path LIMIT $3 OFFSET $4`
	if err := r.db.SelectContext(ctx, &rows, query, entityType, like, limit, offset); err != nil {
		return nil, 0, rerrors.Database("failed to list registry entries", err)
	}

	out := make([]RegistryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntry())
	}
	return out, total, nil
}

// GetByUUID looks up a single registry entry, used to resolve a
// parent_uuid's path/entity_key without knowing its concrete table.
func (r *EntitiesRegistryRepository) GetByUUID(ctx context.Context, id string) (*RegistryEntry, error) {
	var row registryRow
	err := r.db.GetContext(ctx, &row, `SELECT uuid, entity_type, path, entity_key, parent_uuid FROM entities_registry WHERE uuid = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("entity", id)
		}
		return nil, rerrors.Database("failed to look up registry entry", err)
	}
	entry := row.toEntry()
	return &entry, nil
}

// Children returns the immediate registry children of a parent uuid.
func (r *EntitiesRegistryRepository) Children(ctx context.Context, parentUUID string) ([]RegistryEntry, error) {
	var rows []registryRow
	query := `SELECT uuid, entity_type, path, entity_key, parent_uuid FROM entities_registry WHERE parent_uuid = $1 ORDER BY path`
	if err := r.db.SelectContext(ctx, &rows, query, parentUUID); err != nil {
		return nil, rerrors.Database("failed to list registry children", err)
	}
	out := make([]RegistryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntry())
	}
	return out, nil
}
