// Package entitydef implements the EntityDefinition Engine: definition
// validation, idempotent DDL generation, and read-view materialization.
// Validation follows the same validate-then-collect-violations idiom
// as pkg/validation, generalized from go-playground/validator struct
// tags (which don't fit a runtime-declared schema) to direct
// field-by-field checks.
package entitydef

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

var entityTypePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// reservedSQLKeywords is the subset of reserved words calls
// out as illegal field names ("select, from, where, …").
var reservedSQLKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "insert": true, "update": true,
	"delete": true, "table": true, "drop": true, "alter": true, "join": true,
	"order": true, "group": true, "having": true, "union": true, "grant": true,
	"index": true, "primary": true, "foreign": true, "references": true,
	"default": true, "null": true, "not": true, "and": true, "or": true,
	"as": true, "on": true, "into": true, "values": true, "set": true,
}

// Validate enforces its structural invariants over a
// definition: entity_type format, unique/non-reserved field names, and
// per-type constraint sanity (regex compiles, min ≤ max, dates parse).
func Validate(def *entities.EntityDefinition) error {
	var violations []rerrors.Violation

	if def.EntityType == "" || !entityTypePattern.MatchString(def.EntityType) {
		violations = append(violations, rerrors.Violation{
			Field: "entity_type", Message: "must be non-empty and match ^[A-Za-z0-9_]+$", Code: "invalid_format",
		})
	}
	if def.DisplayName == "" {
		violations = append(violations, rerrors.Violation{
			Field: "display_name", Message: "must be non-empty", Code: "required",
		})
	}

	seen := map[string]bool{}
	for i, f := range def.Fields {
		fieldPath := "fields[" + strconv.Itoa(i) + "]"

		if f.Name == "" {
			violations = append(violations, rerrors.Violation{Field: fieldPath + ".name", Message: "must be non-empty", Code: "required"})
			continue
		}
		if entities.SystemFields[f.Name] {
			violations = append(violations, rerrors.Violation{
				Field: fieldPath + ".name", Message: "collides with a reserved system field", Code: "reserved",
			})
		}
		if reservedSQLKeywords[lower(f.Name)] {
			violations = append(violations, rerrors.Violation{
				Field: fieldPath + ".name", Message: "is a reserved SQL keyword", Code: "reserved",
			})
		}
		if seen[f.Name] {
			violations = append(violations, rerrors.Violation{
				Field: fieldPath + ".name", Message: "duplicate field name", Code: "duplicate",
			})
		}
		seen[f.Name] = true

		if !validFieldType(f.Type) {
			violations = append(violations, rerrors.Violation{
				Field: fieldPath + ".type", Message: "unknown field type", Code: "invalid_type",
			})
			continue
		}

		if (f.Type == entities.FieldManyToOne || f.Type == entities.FieldManyToMany) && f.RelationTarget == "" {
			violations = append(violations, rerrors.Violation{
				Field: fieldPath + ".relation_target", Message: "required for relation fields", Code: "required",
			})
		}

		if f.Validation != nil {
			violations = append(violations, validateConstraints(fieldPath, f)...)
		}
	}

	if len(violations) > 0 {
		return rerrors.Validation("entity definition failed validation", violations...)
	}
	return nil
}

func validateConstraints(fieldPath string, f entities.FieldDefinition) []rerrors.Violation {
	var violations []rerrors.Violation
	v := f.Validation

	if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
		violations = append(violations, rerrors.Violation{
			Field: fieldPath + ".validation", Message: "min must be <= max", Code: "invalid_range",
		})
	}
	if v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength {
		violations = append(violations, rerrors.Violation{
			Field: fieldPath + ".validation", Message: "min_length must be <= max_length", Code: "invalid_range",
		})
	}
	if v.Pattern != "" {
		if _, err := regexp.Compile(v.Pattern); err != nil {
			violations = append(violations, rerrors.Violation{
				Field: fieldPath + ".validation.pattern", Message: "must be a valid regular expression", Code: "invalid_pattern",
			})
		}
	}
	if v.MinDate != "" && v.MinDate != "now" {
		if _, err := time.Parse(time.RFC3339, v.MinDate); err != nil {
			violations = append(violations, rerrors.Violation{
				Field: fieldPath + ".validation.min_date", Message: "must be RFC3339 or \"now\"", Code: "invalid_date",
			})
		}
	}
	if v.MaxDate != "" && v.MaxDate != "now" {
		if _, err := time.Parse(time.RFC3339, v.MaxDate); err != nil {
			violations = append(violations, rerrors.Violation{
				Field: fieldPath + ".validation.max_date", Message: "must be RFC3339 or \"now\"", Code: "invalid_date",
			})
		}
	}
	if (f.Type == entities.FieldSelect || f.Type == entities.FieldMultiSelect) && len(v.Options) == 0 {
		violations = append(violations, rerrors.Violation{
			Field: fieldPath + ".validation.options", Message: "required for Select/MultiSelect fields", Code: "required",
		})
	}
	return violations
}

func validFieldType(t entities.FieldType) bool {
	switch t {
	case entities.FieldString, entities.FieldText, entities.FieldWysiwyg, entities.FieldInteger,
		entities.FieldFloat, entities.FieldBoolean, entities.FieldDate, entities.FieldDateTime,
		entities.FieldUUID, entities.FieldSelect, entities.FieldMultiSelect, entities.FieldArray,
		entities.FieldObject, entities.FieldJSON, entities.FieldManyToOne, entities.FieldManyToMany,
		entities.FieldImage, entities.FieldFile, entities.FieldPassword:
		return true
	default:
		return false
	}
}

func lower(s string) string {
	return strings.ToLower(s)
}
