package entitydef

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// DDL generates and applies the idempotent schema for a
// published EntityDefinition: the base table, relation join tables,
// indexes, and the read-view.
type DDL struct {
	db  *sqlx.DB
	log *logger.Logger
}

func NewDDL(db *sqlx.DB, log *logger.Logger) *DDL {
	return &DDL{db: db, log: log}
}

// enumTypeName derives the named Postgres enum type for a Select
// field with configured options: <table>_<field>_enum.
func enumTypeName(table string, f entities.FieldDefinition) string {
	return table + "_" + strings.ToLower(f.Name) + "_enum"
}

// hasEnumOptions reports whether a Select field is backed by a named
// enum type rather than plain TEXT: it has at least one configured
// option to enumerate.
func hasEnumOptions(f entities.FieldDefinition) bool {
	return f.Type == entities.FieldSelect && f.Validation != nil && len(f.Validation.Options) > 0
}

// columnType maps a FieldType to its Postgres column type. A Select
// field without configured options maps to plain TEXT; one with
// options maps to its named enum type, created/extended by
// ensureEnumType before this is used in a DDL statement.
func columnType(table string, f entities.FieldDefinition) string {
	switch f.Type {
	case entities.FieldSelect:
		if hasEnumOptions(f) {
			return quoteIdent(enumTypeName(table, f))
		}
		return "TEXT"
	case entities.FieldString, entities.FieldText, entities.FieldWysiwyg,
		entities.FieldImage, entities.FieldFile, entities.FieldPassword:
		return "TEXT"
	case entities.FieldInteger:
		return "INTEGER"
	case entities.FieldFloat:
		return "DOUBLE PRECISION"
	case entities.FieldBoolean:
		return "BOOLEAN"
	case entities.FieldDate:
		return "DATE"
	case entities.FieldDateTime:
		return "TIMESTAMP WITH TIME ZONE"
	case entities.FieldUUID:
		return "UUID"
	case entities.FieldMultiSelect:
		return "TEXT[]"
	case entities.FieldArray, entities.FieldObject, entities.FieldJSON:
		return "JSONB"
	case entities.FieldManyToOne:
		return "UUID"
	default:
		return "TEXT"
	}
}

// Apply ensures the database schema for def matches its current field
// set: base table, one column per non-relational field, M2O FK
// columns, M2M relation tables, and declared indexes. Safe to call
// repeatedly (: "generating and applying schema twice yields
// the same database state").
func (d *DDL) Apply(ctx context.Context, def *entities.EntityDefinition) error {
	table := def.TableName()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			uuid UUID PRIMARY KEY,
			entity_key TEXT NOT NULL,
			path TEXT NOT NULL,
			parent_uuid UUID,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			created_by TEXT,
			updated_by TEXT,
			published BOOLEAN NOT NULL DEFAULT false,
			version INTEGER NOT NULL DEFAULT 1
		)`, quoteIdent(table))
	if _, err := d.db.ExecContext(ctx, createTable); err != nil {
		return rerrors.Database("failed to create entity table", err)
	}

	for _, f := range def.Fields {
		if f.Type == entities.FieldManyToMany {
			if err := d.applyRelationTable(ctx, def, f); err != nil {
				return err
			}
			continue
		}

		colName := f.Name
		if f.Type == entities.FieldManyToOne {
			colName = f.Name + "_uuid"
		}

		if hasEnumOptions(f) {
			if err := d.ensureEnumType(ctx, enumTypeName(table, f), f.Validation.Options); err != nil {
				return err
			}
		}

		addColumn := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`,
			quoteIdent(table), quoteIdent(colName), columnType(table, f))
		if _, err := d.db.ExecContext(ctx, addColumn); err != nil {
			return rerrors.Database("failed to add entity column", err)
		}

		if err := d.applyIndex(ctx, table, colName, f.Indexed, f.Unique); err != nil {
			return err
		}
	}

	if err := d.applyView(ctx, def); err != nil {
		return err
	}

	return nil
}

// ensureEnumType creates enumName as a Postgres enum type over values
// if it doesn't exist yet, or adds any values missing from an existing
// one. Existing labels are never removed or reordered: Select options
// only grow a live enum, matching Apply's "never destroy data" posture
// for every other column-level DDL change.
func (d *DDL) ensureEnumType(ctx context.Context, enumName string, values []string) error {
	var exists bool
	existsQuery := `SELECT EXISTS (SELECT 1 FROM pg_type WHERE typname = $1 AND typtype = 'e')`
	if err := d.db.GetContext(ctx, &exists, existsQuery, enumName); err != nil {
		return rerrors.Database("failed to check enum type existence", err)
	}

	if !exists {
		labels := values
		if len(labels) == 0 {
			labels = []string{"__placeholder__"}
		}
		quoted := make([]string, len(labels))
		for i, v := range labels {
			quoted[i] = quoteEnumLabel(v)
		}
		create := fmt.Sprintf(`CREATE TYPE %s AS ENUM (%s)`, quoteIdent(enumName), strings.Join(quoted, ", "))
		if _, err := d.db.ExecContext(ctx, create); err != nil {
			return rerrors.Database("failed to create enum type", err)
		}
		return nil
	}

	for _, v := range values {
		var valueExists bool
		valueQuery := `
			SELECT EXISTS (
				SELECT 1 FROM pg_enum
				JOIN pg_type ON pg_enum.enumtypid = pg_type.oid
				WHERE pg_type.typname = $1 AND pg_enum.enumlabel = $2
			)`
		if err := d.db.GetContext(ctx, &valueExists, valueQuery, enumName, v); err != nil {
			return rerrors.Database("failed to check enum label existence", err)
		}
		if valueExists {
			continue
		}
		alter := fmt.Sprintf(`ALTER TYPE %s ADD VALUE %s`, quoteIdent(enumName), quoteEnumLabel(v))
		if _, err := d.db.ExecContext(ctx, alter); err != nil {
			return rerrors.Database("failed to add enum label", err)
		}
	}
	return nil
}

// quoteEnumLabel single-quotes an enum label for CREATE TYPE/ALTER
// TYPE, which don't accept bind parameters for literal values in DDL
// position; embedded quotes are doubled per Postgres string-literal
// escaping.
func quoteEnumLabel(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func (d *DDL) applyRelationTable(ctx context.Context, def *entities.EntityDefinition, f entities.FieldDefinition) error {
	relTable := fmt.Sprintf("entity_%s_%s_relation", strings.ToLower(def.EntityType), strings.ToLower(f.RelationTarget))
	create := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			source_uuid UUID NOT NULL,
			target_uuid UUID NOT NULL,
			PRIMARY KEY (source_uuid, target_uuid)
		)`, quoteIdent(relTable))
	if _, err := d.db.ExecContext(ctx, create); err != nil {
		return rerrors.Database("failed to create relation table", err)
	}

	srcIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_uuid)`,
		quoteIdent(relTable+"_source_idx"), quoteIdent(relTable))
	tgtIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (target_uuid)`,
		quoteIdent(relTable+"_target_idx"), quoteIdent(relTable))
	if _, err := d.db.ExecContext(ctx, srcIdx); err != nil {
		return rerrors.Database("failed to create relation source index", err)
	}
	if _, err := d.db.ExecContext(ctx, tgtIdx); err != nil {
		return rerrors.Database("failed to create relation target index", err)
	}
	return nil
}

func (d *DDL) applyIndex(ctx context.Context, table, column string, indexed, unique bool) error {
	idxName := table + "_" + column + "_idx"
	uniqueIdxName := table + "_" + column + "_unique_idx"

	if indexed {
		create := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
			quoteIdent(idxName), quoteIdent(table), quoteIdent(column))
		if _, err := d.db.ExecContext(ctx, create); err != nil {
			return rerrors.Database("failed to create field index", err)
		}
	} else {
		drop := fmt.Sprintf(`DROP INDEX IF EXISTS %s`, quoteIdent(idxName))
		if _, err := d.db.ExecContext(ctx, drop); err != nil {
			return rerrors.Database("failed to drop field index", err)
		}
	}

	if unique {
		create := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)`,
			quoteIdent(uniqueIdxName), quoteIdent(table), quoteIdent(column))
		if _, err := d.db.ExecContext(ctx, create); err != nil {
			return rerrors.Database("failed to create unique field index", err)
		}
	} else {
		drop := fmt.Sprintf(`DROP INDEX IF EXISTS %s`, quoteIdent(uniqueIdxName))
		if _, err := d.db.ExecContext(ctx, drop); err != nil {
			return rerrors.Database("failed to drop unique field index", err)
		}
	}
	return nil
}

// applyView (re)creates the read-view for def. Postgres
// requires dropping a view before changing its projected column set,
// so this always drops and recreates rather than attempting
// CREATE OR REPLACE (which disallows column removal).
func (d *DDL) applyView(ctx context.Context, def *entities.EntityDefinition) error {
	view := def.ViewName()
	table := def.TableName()

	cols := []string{"uuid", "entity_key", "path", "parent_uuid", "created_at", "updated_at", "created_by", "updated_by", "published", "version"}
	for _, f := range def.Fields {
		if f.Type == entities.FieldManyToMany {
			continue
		}
		colName := f.Name
		if f.Type == entities.FieldManyToOne {
			colName = f.Name + "_uuid"
		}
		cols = append(cols, colName)
	}

	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = quoteIdent(c)
	}

	if _, err := d.db.ExecContext(ctx, fmt.Sprintf(`DROP VIEW IF EXISTS %s`, quoteIdent(view))); err != nil {
		return rerrors.Database("failed to drop entity view", err)
	}

	create := fmt.Sprintf(`CREATE VIEW %s AS SELECT %s FROM %s`,
		quoteIdent(view), strings.Join(quotedCols, ", "), quoteIdent(table))
	if _, err := d.db.ExecContext(ctx, create); err != nil {
		return rerrors.Database("failed to create entity view", err)
	}

	var actualCount int
	countQuery := `SELECT count(*) FROM information_schema.columns WHERE table_name = $1`
	if err := d.db.GetContext(ctx, &actualCount, countQuery, view); err != nil {
		return rerrors.Database("failed to validate entity view columns", err)
	}
	if actualCount != len(cols) {
		d.log.Warn("entity view column count mismatch after recreation", "view", view, "expected", len(cols), "actual", actualCount)
	}

	return nil
}

// quoteIdent double-quotes a Postgres identifier. Identifiers reaching
// here are always derived from entity_type/field names, which Validate
// already constrains to ^[A-Za-z0-9_]+$, so no escaping beyond
// quoting is required.
func quoteIdent(ident string) string {
	return `"` + ident + `"`
}
