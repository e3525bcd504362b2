// Package entity implements the DynamicEntity Validator & Store of
//: typed per-field validation against an EntityDefinition,
// and CRUD over the generated entity_<type> tables.
package entity

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// Validate walks def's fields against inst.FieldData and returns a
// Violation-carrying rerrors.Validation error if any field fails,
// nil otherwise.
func Validate(def *entities.EntityDefinition, fieldData map[string]interface{}) error {
	var violations []rerrors.Violation

	declared := make(map[string]entities.FieldDefinition, len(def.Fields))
	for _, f := range def.Fields {
		declared[f.Name] = f
	}

	for name := range fieldData {
		if _, ok := declared[name]; ok {
			continue
		}
		if entities.SystemFields[name] {
			continue
		}
		violations = append(violations, rerrors.Violation{Field: name, Message: "unknown field"})
	}

	for _, f := range def.Fields {
		value, present := fieldData[f.Name]
		if !present || value == nil {
			if f.Required {
				violations = append(violations, rerrors.Violation{Field: f.Name, Message: "required"})
			}
			continue
		}
		if s, ok := value.(string); ok && f.Required && f.Type == entities.FieldString && s == "" {
			violations = append(violations, rerrors.Violation{Field: f.Name, Message: "required"})
			continue
		}
		if msg := validateValue(f, value); msg != "" {
			violations = append(violations, rerrors.Violation{Field: f.Name, Message: msg})
		}
	}

	if len(violations) > 0 {
		return rerrors.Validation("entity validation failed", violations...)
	}
	return nil
}

func validateValue(f entities.FieldDefinition, value interface{}) string {
	switch f.Type {
	case entities.FieldInteger:
		n, ok := asFloat(value)
		if !ok || n != float64(int64(n)) {
			return "must be an integer"
		}
		return checkRange(f, n)
	case entities.FieldFloat:
		n, ok := asFloat(value)
		if !ok {
			return "must be a number"
		}
		return checkRange(f, n)
	case entities.FieldBoolean:
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
	case entities.FieldUUID:
		s, ok := value.(string)
		if !ok || !uuidPattern.MatchString(s) {
			return "must be a valid uuid"
		}
	case entities.FieldDate:
		s, ok := value.(string)
		if !ok {
			return "must be a date string"
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return "must be in YYYY-MM-DD format"
		}
		return checkDateRange(f, t)
	case entities.FieldDateTime:
		s, ok := value.(string)
		if !ok {
			return "must be a datetime string"
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return "must be in RFC3339 format"
		}
		return checkDateRange(f, t)
	case entities.FieldString, entities.FieldText, entities.FieldWysiwyg, entities.FieldPassword:
		s, ok := value.(string)
		if !ok {
			return "must be a string"
		}
		return checkStringConstraints(f, s)
	case entities.FieldSelect:
		s, ok := value.(string)
		if !ok {
			return "must be a string"
		}
		if f.Validation != nil && len(f.Validation.Options) > 0 && !contains(f.Validation.Options, s) {
			return "must be one of the configured options"
		}
	case entities.FieldMultiSelect:
		list, ok := value.([]interface{})
		if !ok {
			return "must be an array"
		}
		for _, el := range list {
			s, ok := el.(string)
			if !ok {
				return "every element must be a string"
			}
			if f.Validation != nil && len(f.Validation.Options) > 0 && !contains(f.Validation.Options, s) {
				return "must contain only configured options"
			}
		}
	case entities.FieldArray:
		if _, ok := value.([]interface{}); !ok {
			return "must be an array"
		}
	case entities.FieldObject:
		if _, ok := value.(map[string]interface{}); !ok {
			return "must be an object"
		}
	case entities.FieldJSON:
		// any JSON-decoded value is accepted.
	case entities.FieldManyToOne:
		s, ok := value.(string)
		if !ok || !uuidPattern.MatchString(s) {
			return "must be a valid uuid"
		}
	case entities.FieldManyToMany:
		list, ok := value.([]interface{})
		if !ok {
			return "must be an array of uuids"
		}
		for _, el := range list {
			s, ok := el.(string)
			if !ok || !uuidPattern.MatchString(s) {
				return "every element must be a valid uuid"
			}
		}
	case entities.FieldImage, entities.FieldFile:
		if _, ok := value.(string); !ok {
			return "must be a string path or uri"
		}
	}
	return ""
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func checkRange(f entities.FieldDefinition, n float64) string {
	if f.Validation == nil {
		return ""
	}
	if f.Validation.PositiveOnly && n <= 0 {
		return "must be positive"
	}
	if f.Validation.Min != nil && n < *f.Validation.Min {
		return fmt.Sprintf("must be >= %v", *f.Validation.Min)
	}
	if f.Validation.Max != nil && n > *f.Validation.Max {
		return fmt.Sprintf("must be <= %v", *f.Validation.Max)
	}
	return ""
}

func checkStringConstraints(f entities.FieldDefinition, s string) string {
	if f.Validation == nil {
		return ""
	}
	if f.Validation.MinLength != nil && len(s) < *f.Validation.MinLength {
		return fmt.Sprintf("must be at least %d characters", *f.Validation.MinLength)
	}
	if f.Validation.MaxLength != nil && len(s) > *f.Validation.MaxLength {
		return fmt.Sprintf("must be at most %d characters", *f.Validation.MaxLength)
	}
	if f.Validation.Pattern != "" {
		re, err := regexp.Compile(f.Validation.Pattern)
		if err == nil && !re.MatchString(s) {
			return "does not match the required pattern"
		}
	}
	return ""
}

func checkDateRange(f entities.FieldDefinition, t time.Time) string {
	if f.Validation == nil {
		return ""
	}
	if bound := f.Validation.MinDate; bound != "" {
		min, ok := resolveDateBound(bound)
		if ok && t.Before(min) {
			return "is before the minimum allowed date"
		}
	}
	if bound := f.Validation.MaxDate; bound != "" {
		max, ok := resolveDateBound(bound)
		if ok && t.After(max) {
			return "is after the maximum allowed date"
		}
	}
	return ""
}

// resolveDateBound supports the literal "now" in addition to RFC3339
// timestamps
func resolveDateBound(bound string) (time.Time, bool) {
	if bound == "now" {
		return time.Now(), true
	}
	t, err := time.Parse(time.RFC3339, bound)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func contains(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}
