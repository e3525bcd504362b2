package entitydef

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/versioning"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// Store is the repository for entity_definitions metadata rows,
// distinct from DDL's per-type physical tables. It owns the
// publish/update lifecycle: validate, snapshot the pre-image, mutate,
// then (on publish) apply schema.
type Store struct {
	db      *sqlx.DB
	ddl     *DDL
	version *versioning.Store
	log     *logger.Logger
}

func NewStore(db *sqlx.DB, ddl *DDL, version *versioning.Store, log *logger.Logger) *Store {
	return &Store{db: db, ddl: ddl, version: version, log: log}
}

type entityDefRow struct {
	UUID          string         `db:"uuid"`
	EntityType    string         `db:"entity_type"`
	DisplayName   string         `db:"display_name"`
	AllowChildren bool           `db:"allow_children"`
	Fields        []byte         `db:"fields"`
	Version       int            `db:"version"`
	Published     bool           `db:"published"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	CreatedBy     sql.NullString `db:"created_by"`
	UpdatedBy     sql.NullString `db:"updated_by"`
}

func (r entityDefRow) toEntity() (*entities.EntityDefinition, error) {
	var fields []entities.FieldDefinition
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &fields); err != nil {
			return nil, rerrors.Database("failed to decode entity definition fields", err)
		}
	}
	return &entities.EntityDefinition{
		UUID:          r.UUID,
		EntityType:    r.EntityType,
		DisplayName:   r.DisplayName,
		AllowChildren: r.AllowChildren,
		Fields:        fields,
		Version:       r.Version,
		Published:     r.Published,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		CreatedBy:     r.CreatedBy.String,
		UpdatedBy:     r.UpdatedBy.String,
	}, nil
}

const entityDefColumns = `uuid, entity_type, display_name, allow_children, fields, version, published, created_at, updated_at, created_by, updated_by`

// GetByUUID loads a definition by primary key.
func (s *Store) GetByUUID(ctx context.Context, id string) (*entities.EntityDefinition, error) {
	var row entityDefRow
	query := `SELECT ` + entityDefColumns + ` FROM entity_definitions WHERE uuid = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("entity_definition", id)
		}
		return nil, rerrors.Database("failed to load entity definition", err)
	}
	return row.toEntity()
}

// GetByType loads a definition by its entity_type.
func (s *Store) GetByType(ctx context.Context, entityType string) (*entities.EntityDefinition, error) {
	var row entityDefRow
	query := `SELECT ` + entityDefColumns + ` FROM entity_definitions WHERE entity_type = $1`
	if err := s.db.GetContext(ctx, &row, query, entityType); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("entity_definition", entityType)
		}
		return nil, rerrors.Database("failed to load entity definition", err)
	}
	return row.toEntity()
}

// List returns every known definition, ordered by entity_type.
func (s *Store) List(ctx context.Context) ([]*entities.EntityDefinition, error) {
	var rows []entityDefRow
	query := `SELECT ` + entityDefColumns + ` FROM entity_definitions ORDER BY entity_type`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, rerrors.Database("failed to list entity definitions", err)
	}
	out := make([]*entities.EntityDefinition, 0, len(rows))
	for _, row := range rows {
		def, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// Create validates and inserts a new definition. If def.Published is
// true, the per-type schema is applied immediately.
func (s *Store) Create(ctx context.Context, def *entities.EntityDefinition, actor string) error {
	if err := Validate(def); err != nil {
		return err
	}
	if def.UUID == "" {
		def.UUID = uuid.NewString()
	}
	def.Version = 1
	def.CreatedBy = actor
	def.UpdatedBy = actor

	fieldsJSON, err := json.Marshal(def.Fields)
	if err != nil {
		return rerrors.Validation("failed to encode entity definition fields")
	}

	query := `
		INSERT INTO entity_definitions (uuid, entity_type, display_name, allow_children, fields, version, published, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`
	row := s.db.QueryRowxContext(ctx, query, def.UUID, def.EntityType, def.DisplayName, def.AllowChildren,
		fieldsJSON, def.Version, def.Published, actor, actor)
	if err := row.Scan(&def.CreatedAt, &def.UpdatedAt); err != nil {
		return rerrors.Database("failed to create entity definition", err)
	}

	if def.Published {
		if err := s.ddl.Apply(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// Update validates the new field set, then snapshots the pre-image,
// increments the version and persists within one transaction; once
// that commits it (if published) reapplies schema outside the
// transaction.
func (s *Store) Update(ctx context.Context, def *entities.EntityDefinition, actor string) error {
	if err := Validate(def); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return rerrors.Database("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var row entityDefRow
	selectQuery := `SELECT ` + entityDefColumns + ` FROM entity_definitions WHERE uuid = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &row, selectQuery, def.UUID); err != nil {
		if err == sql.ErrNoRows {
			return rerrors.NotFound("entity_definition", def.UUID)
		}
		return rerrors.Database("failed to load entity definition for update", err)
	}

	priorEntity, err := row.toEntity()
	if err != nil {
		return err
	}
	priorJSON, err := json.Marshal(priorEntity)
	if err != nil {
		return rerrors.Database("failed to encode prior entity definition", err)
	}
	if err := s.version.Snapshot(ctx, tx, entities.TargetEntityDefinition, def.UUID, row.Version, priorJSON, actor); err != nil {
		return err
	}

	newVersion := row.Version + 1
	fieldsJSON, err := json.Marshal(def.Fields)
	if err != nil {
		return rerrors.Validation("failed to encode entity definition fields")
	}

	updateQuery := `
		UPDATE entity_definitions
		SET display_name = $1, allow_children = $2, fields = $3, version = $4, published = $5, updated_by = $6, updated_at = now()
		WHERE uuid = $7
		RETURNING updated_at`
	if err := tx.GetContext(ctx, &def.UpdatedAt, updateQuery, def.DisplayName, def.AllowChildren, fieldsJSON, newVersion, def.Published, actor, def.UUID); err != nil {
		return rerrors.Database("failed to update entity definition", err)
	}
	def.Version = newVersion
	def.CreatedAt = row.CreatedAt
	def.CreatedBy = row.CreatedBy.String
	def.UpdatedBy = actor

	if err := tx.Commit(); err != nil {
		return rerrors.Database("failed to commit entity definition update", err)
	}

	if def.Published {
		if err := s.ddl.Apply(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
