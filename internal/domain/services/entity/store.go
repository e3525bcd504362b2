package entity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/versioning"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// WriteMode is the closed set a Workflow or an HTTP caller selects for
// a Store write: Create, Update, or CreateOrUpdate (upsert).
type WriteMode string

const (
	WriteCreate         WriteMode = "Create"
	WriteUpdate         WriteMode = "Update"
	WriteCreateOrUpdate WriteMode = "CreateOrUpdate"
)

// Store is the DynamicEntity CRUD layer: validation
// against the owning EntityDefinition, path derivation from parent,
// audit-field defaulting, entity_key generation, and pre-image
// versioning on every mutating write.
type Store struct {
	db      *sqlx.DB
	version *versioning.Store
	log     *logger.Logger
}

func NewStore(db *sqlx.DB, version *versioning.Store, log *logger.Logger) *Store {
	return &Store{db: db, version: version, log: log}
}

// WriteRequest carries everything a Create/Update/CreateOrUpdate call
// needs: the owning definition, the candidate field data, optional
// identity hints, and the acting principal/run.
type WriteRequest struct {
	Definition  *entities.EntityDefinition
	UUID        string // present => look up by UUID
	UpdateKey   string // configured lookup field name, if any
	EntityKey   string
	ParentUUID  string
	Path        string // only consulted when ParentUUID is empty
	FieldData   map[string]interface{}
	Published   bool
	Actor       string
	SkipVersioning bool
}

func fieldColumn(f entities.FieldDefinition) string {
	if f.Type == entities.FieldManyToOne {
		return f.Name + "_uuid"
	}
	return f.Name
}

// resolveExisting finds the current row for an Update/CreateOrUpdate,
// using the precedence: UUID, then update_key, then
// entity_key.
func (s *Store) resolveExisting(ctx context.Context, req *WriteRequest) (*entities.Entity, error) {
	table := req.Definition.TableName()

	if req.UUID != "" {
		return s.getByColumn(ctx, table, req.Definition, "uuid", req.UUID)
	}
	if req.UpdateKey != "" {
		if v, ok := req.FieldData[req.UpdateKey]; ok {
			col := req.UpdateKey
			for _, f := range req.Definition.Fields {
				if f.Name == req.UpdateKey {
					col = fieldColumn(f)
					break
				}
			}
			return s.getByColumn(ctx, table, req.Definition, col, v)
		}
	}
	if req.EntityKey != "" {
		return s.getByColumn(ctx, table, req.Definition, "entity_key", req.EntityKey)
	}
	return nil, rerrors.NotFound("entity", "")
}

func (s *Store) getByColumn(ctx context.Context, table string, def *entities.EntityDefinition, column string, value interface{}) (*entities.Entity, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = $1`, quoteIdentEntity(table), quoteIdentEntity(column))
	rows, err := s.db.QueryxContext(ctx, query, value)
	if err != nil {
		return nil, rerrors.Database("failed to look up entity", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rerrors.NotFound("entity", fmt.Sprintf("%v", value))
	}
	raw := make(map[string]interface{})
	if err := rows.MapScan(raw); err != nil {
		return nil, rerrors.Database("failed to scan entity row", err)
	}
	return rowToEntity(def, raw), nil
}

func rowToEntity(def *entities.EntityDefinition, raw map[string]interface{}) *entities.Entity {
	e := &entities.Entity{FieldData: make(map[string]interface{})}
	if v, ok := raw["uuid"]; ok {
		e.UUID = fmt.Sprintf("%v", v)
	}
	if v, ok := raw["entity_key"]; ok {
		e.EntityKey = fmt.Sprintf("%v", v)
	}
	if v, ok := raw["path"]; ok {
		e.Path = fmt.Sprintf("%v", v)
	}
	if v, ok := raw["parent_uuid"]; ok && v != nil {
		e.ParentUUID = fmt.Sprintf("%v", v)
	}
	if v, ok := raw["published"].(bool); ok {
		e.Published = v
	}
	if v, ok := raw["version"]; ok {
		switch n := v.(type) {
		case int64:
			e.Version = int(n)
		case int32:
			e.Version = int(n)
		}
	}
	if v, ok := raw["created_by"]; ok && v != nil {
		e.CreatedBy = fmt.Sprintf("%v", v)
	}
	if v, ok := raw["updated_by"]; ok && v != nil {
		e.UpdatedBy = fmt.Sprintf("%v", v)
	}
	e.EntityType = def.EntityType

	for _, f := range def.Fields {
		col := fieldColumn(f)
		if v, ok := raw[col]; ok {
			e.FieldData[f.Name] = v
		}
	}
	return e
}

// generateEntityKey implements's
// "<entity_type>-<count+1>-<8hex>" format.
func (s *Store) generateEntityKey(ctx context.Context, def *entities.EntityDefinition) (string, error) {
	var count int
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, quoteIdentEntity(def.TableName()))
	if err := s.db.GetContext(ctx, &count, query); err != nil {
		return "", rerrors.Database("failed to count entities for key generation", err)
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", rerrors.Unknown("failed to generate entity key suffix", err)
	}
	return fmt.Sprintf("%s-%d-%s", def.EntityType, count+1, hex.EncodeToString(buf)), nil
}

// resolvePath derives the path: when parent_uuid is
// set, the path is always recomputed from the parent, ignoring any
// client-supplied value; otherwise the caller-supplied path is
// required.
func (s *Store) resolvePath(ctx context.Context, req *WriteRequest) (string, error) {
	if req.ParentUUID == "" {
		if req.Path == "" {
			return "", rerrors.Validation("path is required when parent_uuid is not set")
		}
		return req.Path, nil
	}

	var parentPath, parentEntityKey string
	query := `SELECT path, entity_key FROM entities_registry WHERE uuid = $1`
	row := s.db.QueryRowxContext(ctx, query, req.ParentUUID)
	if err := row.Scan(&parentPath, &parentEntityKey); err != nil {
		if err == sql.ErrNoRows {
			return "", rerrors.Validation("parent_uuid does not reference a known entity")
		}
		return "", rerrors.Database("failed to resolve parent path", err)
	}

	derived := entities.ChildPath(parentPath, parentEntityKey)
	if req.Path != "" && req.Path != derived {
		s.log.Warn("ignoring client-supplied path that conflicts with parent", "supplied", req.Path, "derived", derived)
	}
	return derived, nil
}

// Create inserts a new entity row, validating, deriving its path and
// entity_key, and registering it in entities_registry.
func (s *Store) Create(ctx context.Context, req *WriteRequest) (*entities.Entity, error) {
	if err := Validate(req.Definition, req.FieldData); err != nil {
		return nil, err
	}

	path, err := s.resolvePath(ctx, req)
	if err != nil {
		return nil, err
	}

	entityKey := req.EntityKey
	if entityKey == "" {
		entityKey, err = s.generateEntityKey(ctx, req.Definition)
		if err != nil {
			return nil, err
		}
	}

	id := req.UUID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, rerrors.Database("failed to begin transaction", err)
	}
	defer tx.Rollback()

	cols := []string{"uuid", "entity_key", "path", "parent_uuid", "created_by", "updated_by", "published", "version"}
	placeholders := []string{"$1", "$2", "$3", "$4", "$5", "$6", "$7", "$8"}
	args := []interface{}{id, entityKey, path, nullableString(req.ParentUUID), req.Actor, req.Actor, req.Published, 1}

	i := len(args)
	for _, f := range req.Definition.Fields {
		if f.Type == entities.FieldManyToMany {
			continue
		}
		v, present := req.FieldData[f.Name]
		if !present {
			continue
		}
		i++
		cols = append(cols, fieldColumn(f))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		args = append(args, encodeFieldValue(f, v))
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdentEntity(req.Definition.TableName()), quoteColumns(cols), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, rerrors.Database("failed to insert entity", err)
	}

	regQuery := `INSERT INTO entities_registry (uuid, entity_type, path, entity_key, parent_uuid) VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, regQuery, id, req.Definition.EntityType, path, entityKey, nullableString(req.ParentUUID)); err != nil {
		return nil, rerrors.Database("failed to register entity path", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, rerrors.Database("failed to commit entity creation", err)
	}

	return s.GetByUUID(ctx, req.Definition, id)
}

// Update mutates an existing row located via resolveExisting,
// snapshotting its pre-image first unless req.SkipVersioning is set.
func (s *Store) Update(ctx context.Context, req *WriteRequest) (*entities.Entity, error) {
	if err := Validate(req.Definition, req.FieldData); err != nil {
		return nil, err
	}

	existing, err := s.resolveExisting(ctx, req)
	if err != nil {
		return nil, err
	}

	var path string
	if req.ParentUUID != "" {
		path, err = s.resolvePath(ctx, req)
		if err != nil {
			return nil, err
		}
	} else {
		path = existing.Path
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, rerrors.Database("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if !req.SkipVersioning {
		priorJSON, err := json.Marshal(existing)
		if err != nil {
			return nil, rerrors.Database("failed to encode prior entity", err)
		}
		if err := s.version.Snapshot(ctx, tx, entities.TargetEntity, existing.UUID, existing.Version, priorJSON, req.Actor); err != nil {
			return nil, err
		}
	}

	sets := []string{"path = $1", "updated_by = $2", "updated_at = now()", "version = version + 1"}
	args := []interface{}{path, req.Actor}
	i := len(args)
	for _, f := range req.Definition.Fields {
		if f.Type == entities.FieldManyToMany {
			continue
		}
		v, present := req.FieldData[f.Name]
		if !present {
			continue
		}
		i++
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdentEntity(fieldColumn(f)), i))
		args = append(args, encodeFieldValue(f, v))
	}
	i++
	args = append(args, existing.UUID)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE uuid = $%d`, quoteIdentEntity(req.Definition.TableName()), strings.Join(sets, ", "), i)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, rerrors.Database("failed to update entity", err)
	}

	if req.ParentUUID != "" {
		regUpdate := `UPDATE entities_registry SET path = $1, parent_uuid = $2 WHERE uuid = $3`
		if _, err := tx.ExecContext(ctx, regUpdate, path, req.ParentUUID, existing.UUID); err != nil {
			return nil, rerrors.Database("failed to update entity registry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, rerrors.Database("failed to commit entity update", err)
	}

	return s.GetByUUID(ctx, req.Definition, existing.UUID)
}

// CreateOrUpdate upserts: if resolveExisting finds a row, it updates;
// otherwise it creates.
func (s *Store) CreateOrUpdate(ctx context.Context, req *WriteRequest) (*entities.Entity, error) {
	_, err := s.resolveExisting(ctx, req)
	if err == nil {
		return s.Update(ctx, req)
	}
	if rerrors.IsNotFound(err) {
		return s.Create(ctx, req)
	}
	return nil, err
}

// GetByUUID loads a full entity row by primary key.
func (s *Store) GetByUUID(ctx context.Context, def *entities.EntityDefinition, id string) (*entities.Entity, error) {
	return s.getByColumn(ctx, def.TableName(), def, "uuid", id)
}

// GetByField loads a full entity row by an arbitrary field's value,
// used e.g. by the authenticate transform to look an entity up by its
// configured identifier field rather than by UUID.
func (s *Store) GetByField(ctx context.Context, def *entities.EntityDefinition, fieldName string, value interface{}) (*entities.Entity, error) {
	col := fieldName
	for _, f := range def.Fields {
		if f.Name == fieldName {
			col = fieldColumn(f)
			break
		}
	}
	return s.getByColumn(ctx, def.TableName(), def, col, value)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeFieldValue(f entities.FieldDefinition, v interface{}) interface{} {
	switch f.Type {
	case entities.FieldArray, entities.FieldObject, entities.FieldJSON, entities.FieldMultiSelect:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return b
	default:
		return v
	}
}

func quoteColumns(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdentEntity(c)
	}
	return strings.Join(out, ", ")
}

func quoteIdentEntity(ident string) string { return `"` + ident + `"` }
