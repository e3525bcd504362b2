package entities

import (
	"strings"
	"time"
)

// FieldType is the closed set of field types a FieldDefinition may
// declare.
type FieldType string

const (
	FieldString      FieldType = "String"
	FieldText        FieldType = "Text"
	FieldWysiwyg     FieldType = "Wysiwyg"
	FieldInteger     FieldType = "Integer"
	FieldFloat       FieldType = "Float"
	FieldBoolean     FieldType = "Boolean"
	FieldDate        FieldType = "Date"
	FieldDateTime    FieldType = "DateTime"
	FieldUUID        FieldType = "Uuid"
	FieldSelect      FieldType = "Select"
	FieldMultiSelect FieldType = "MultiSelect"
	FieldArray       FieldType = "Array"
	FieldObject      FieldType = "Object"
	FieldJSON        FieldType = "Json"
	FieldManyToOne   FieldType = "ManyToOne"
	FieldManyToMany  FieldType = "ManyToMany"
	FieldImage       FieldType = "Image"
	FieldFile        FieldType = "File"
	FieldPassword    FieldType = "Password"
)

// FieldValidation carries the optional per-type constraints
type FieldValidation struct {
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	MinLength    *int     `json:"min_length,omitempty"`
	MaxLength    *int     `json:"max_length,omitempty"`
	Pattern      string   `json:"pattern,omitempty"`
	PositiveOnly bool     `json:"positive_only,omitempty"`
	MinDate      string   `json:"min_date,omitempty"` // RFC3339 or literal "now"
	MaxDate      string   `json:"max_date,omitempty"`
	Options      []string `json:"options,omitempty"` // Select / MultiSelect
}

// FieldDefinition is the (name, display_name, type, required, indexed,
// unique, filterable, default, validation, ui, constraints) tuple of
//
type FieldDefinition struct {
	Name         string           `json:"name"`
	DisplayName  string           `json:"display_name"`
	Type         FieldType        `json:"type"`
	Required     bool             `json:"required"`
	Indexed      bool             `json:"indexed"`
	Unique       bool             `json:"unique"`
	Filterable   bool             `json:"filterable"`
	Default      interface{}      `json:"default,omitempty"`
	Validation   *FieldValidation `json:"validation,omitempty"`
	UI           map[string]any   `json:"ui,omitempty"`
	RelationTarget string         `json:"relation_target,omitempty"` // ManyToOne / ManyToMany
}

// EntityDefinition is the (uuid, entity_type, display_name,
// allow_children, fields[], version, published, audit) tuple.
type EntityDefinition struct {
	UUID          string
	EntityType    string
	DisplayName   string
	AllowChildren bool
	Fields        []FieldDefinition
	Version       int
	Published     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CreatedBy     string
	UpdatedBy     string
}

// SystemFields is the set of implicit columns every entity_<type>
// table carries, and thus names that never collide
// with a validation "unknown field" error and are never themselves
// declared as a FieldDefinition.
var SystemFields = map[string]bool{
	"uuid":       true,
	"entity_key": true,
	"path":       true,
	"created_at": true,
	"updated_at": true,
	"created_by": true,
	"updated_by": true,
	"published":  true,
	"version":    true,
	"parent_uuid": true,
}

// TableName returns the physical table name for this definition's
// entity_type (: `entity_<lowered_entity_type>`).
func (d *EntityDefinition) TableName() string {
	return "entity_" + strings.ToLower(d.EntityType)
}

// ViewName returns the read-view name materialized for this
// definition.
func (d *EntityDefinition) ViewName() string {
	return "entity_" + strings.ToLower(d.EntityType) + "_view"
}
