package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/credential"
	"github.com/bentbr/r_data_core_go/internal/domain/services/entity"
	"github.com/bentbr/r_data_core_go/internal/domain/services/token"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// defaultEntityTokenTTL mirrors the admin access token lifetime when a
// workflow's authenticate transform doesn't specify ttl_minutes.
const defaultEntityTokenTTL = 30 * time.Minute

// Record is the normalized, mutable row a step's transform chain
// operates on ( step 2: "reads from the normalized record,
// writes back to it").
type Record map[string]interface{}

// EntityLookup is the subset of entity.Store a transform needs to
// resolve entity paths, get-or-create rows, and authenticate.
type EntityLookup interface {
	GetByUUID(ctx context.Context, def *entities.EntityDefinition, id string) (*entities.Entity, error)
	GetByField(ctx context.Context, def *entities.EntityDefinition, fieldName string, value interface{}) (*entities.Entity, error)
	CreateOrUpdate(ctx context.Context, req *entity.WriteRequest) (*entities.Entity, error)
}

// DefinitionLookup resolves an EntityDefinition by type, needed by
// entity-targeting transforms.
type DefinitionLookup interface {
	GetByType(ctx context.Context, entityType string) (*entities.EntityDefinition, error)
}

// Executor runs a DslStep's transform chain against one Record.
type Executor struct {
	entities    EntityLookup
	definitions DefinitionLookup
	tokens      *token.Service
}

func NewExecutor(entities EntityLookup, definitions DefinitionLookup, tokens *token.Service) *Executor {
	return &Executor{entities: entities, definitions: definitions, tokens: tokens}
}

// Apply runs every transform in order, short-circuiting on the first
// failure ( step 2: "may fail the row").
func (x *Executor) Apply(ctx context.Context, transforms []entities.Transform, rec Record) error {
	for _, t := range transforms {
		var err error
		switch t.Kind {
		case entities.TransformArithmetic:
			err = applyArithmetic(t.Params, rec)
		case entities.TransformStringOp:
			err = applyStringOp(t.Params, rec)
		case entities.TransformFieldMove:
			err = applyFieldMove(t.Params, rec)
		case entities.TransformResolveEntityPath:
			err = x.resolveEntityPath(ctx, t.Params, rec)
		case entities.TransformGetOrCreateEntity:
			err = x.getOrCreateEntity(ctx, t.Params, rec)
		case entities.TransformAuthenticate:
			err = x.authenticate(ctx, t.Params, rec)
		default:
			err = rerrors.Validation(fmt.Sprintf("unknown transform kind: %s", t.Kind))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func paramString(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// applyArithmetic computes params["op"] over two operands, each read
// from the record field named by params["left"] / params["right"] or,
// when that is unset, from the literal params["left_value"] /
// params["right_value"], storing the result in rec[params["target"]].
func applyArithmetic(params map[string]interface{}, rec Record) error {
	left, err := numericValue(rec, params, "left")
	if err != nil {
		return err
	}
	right, err := numericValue(rec, params, "right")
	if err != nil {
		return err
	}
	target := paramString(params, "target")
	if target == "" {
		return rerrors.Validation("arithmetic transform requires a target field")
	}

	var result float64
	switch paramString(params, "op") {
	case "add":
		result = left + right
	case "subtract":
		result = left - right
	case "multiply":
		result = left * right
	case "divide":
		if right == 0 {
			return rerrors.Validation("arithmetic transform division by zero")
		}
		result = left / right
	default:
		return rerrors.Validation("arithmetic transform requires op in {add,subtract,multiply,divide}")
	}
	rec[target] = result
	return nil
}

func numericValue(rec Record, params map[string]interface{}, key string) (float64, error) {
	if field := paramString(params, key); field != "" {
		v, ok := rec[field]
		if !ok {
			return 0, rerrors.Validation(fmt.Sprintf("arithmetic transform: field %q is missing", field))
		}
		return toFloat(v)
	}
	if lit, ok := params[key+"_value"]; ok {
		return toFloat(lit)
	}
	return 0, rerrors.Validation(fmt.Sprintf("arithmetic transform requires %s or %s_value", key, key))
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, rerrors.Validation("arithmetic transform: value is not numeric")
		}
		return f, nil
	default:
		return 0, rerrors.Validation("arithmetic transform: value is not numeric")
	}
}

// applyStringOp supports upper/lower/trim/concat/replace over a source
// field, writing the result to target.
func applyStringOp(params map[string]interface{}, rec Record) error {
	source := paramString(params, "field")
	target := paramString(params, "target")
	if target == "" {
		target = source
	}
	s, _ := rec[source].(string)

	switch paramString(params, "op") {
	case "upper":
		rec[target] = strings.ToUpper(s)
	case "lower":
		rec[target] = strings.ToLower(s)
	case "trim":
		rec[target] = strings.TrimSpace(s)
	case "concat":
		rec[target] = s + paramString(params, "suffix")
	case "replace":
		rec[target] = strings.ReplaceAll(s, paramString(params, "old"), paramString(params, "new"))
	default:
		return rerrors.Validation("string_op transform requires op in {upper,lower,trim,concat,replace}")
	}
	return nil
}

// applyFieldMove renames rec[from] to rec[to], removing the source key.
func applyFieldMove(params map[string]interface{}, rec Record) error {
	from := paramString(params, "from")
	to := paramString(params, "to")
	if from == "" || to == "" {
		return rerrors.Validation("field_move transform requires from and to")
	}
	v, ok := rec[from]
	if !ok {
		return rerrors.Validation(fmt.Sprintf("field_move transform: field %q is missing", from))
	}
	delete(rec, from)
	rec[to] = v
	return nil
}

// resolveEntityPath looks up the entity named by params["uuid_field"]
// and writes its virtual path to params["target"] (used to stitch a
// parent reference into a normalized record before an entity write).
func (x *Executor) resolveEntityPath(ctx context.Context, params map[string]interface{}, rec Record) error {
	entityType := paramString(params, "entity_type")
	uuidField := paramString(params, "uuid_field")
	target := paramString(params, "target")
	if entityType == "" || uuidField == "" || target == "" {
		return rerrors.Validation("resolve_entity_path transform requires entity_type, uuid_field, and target")
	}
	id, _ := rec[uuidField].(string)
	if id == "" {
		return rerrors.Validation(fmt.Sprintf("resolve_entity_path transform: field %q is missing", uuidField))
	}
	def, err := x.definitions.GetByType(ctx, entityType)
	if err != nil {
		return err
	}
	ent, err := x.entities.GetByUUID(ctx, def, id)
	if err != nil {
		return err
	}
	rec[target] = ent.Path
	return nil
}

// getOrCreateEntity upserts a row keyed by params["identify"], writing
// its UUID back to params["target"].
func (x *Executor) getOrCreateEntity(ctx context.Context, params map[string]interface{}, rec Record) error {
	entityType := paramString(params, "entity_type")
	identify := paramString(params, "identify")
	target := paramString(params, "target")
	if entityType == "" || identify == "" || target == "" {
		return rerrors.Validation("get_or_create_entity transform requires entity_type, identify, and target")
	}
	def, err := x.definitions.GetByType(ctx, entityType)
	if err != nil {
		return err
	}

	req := &entity.WriteRequest{
		Definition: def,
		UpdateKey:  identify,
		FieldData:  map[string]interface{}(rec),
		Path:       "/",
	}
	ent, err := x.entities.CreateOrUpdate(ctx, req)
	if err != nil {
		return err
	}
	rec[target] = ent.UUID
	return nil
}

// authenticate is the login primitive for entity-origin tokens: look
// up an entity by identifier_field, verify its password hash, and
// mint an entity JWT carrying the configured extra claims.
func (x *Executor) authenticate(ctx context.Context, params map[string]interface{}, rec Record) error {
	entityType := paramString(params, "entity_type")
	identifierField := paramString(params, "identifier_field")
	passwordField := paramString(params, "password_field")
	passwordHashField := paramString(params, "password_hash_field")
	if passwordHashField == "" {
		passwordHashField = "password_hash"
	}
	target := paramString(params, "target")
	if entityType == "" || identifierField == "" || passwordField == "" || target == "" {
		return rerrors.Validation("authenticate transform requires entity_type, identifier_field, password_field, and target")
	}

	identifier, _ := rec[identifierField].(string)
	password, _ := rec[passwordField].(string)
	if identifier == "" || password == "" {
		return rerrors.Auth("invalid credentials")
	}

	def, err := x.definitions.GetByType(ctx, entityType)
	if err != nil {
		return err
	}
	ent, err := x.entities.GetByField(ctx, def, identifierField, identifier)
	if err != nil {
		return rerrors.Auth("invalid credentials")
	}

	storedHash, _ := ent.FieldData[passwordHashField].(string)
	ok, err := credential.VerifyPassword(password, storedHash)
	if err != nil || !ok {
		return rerrors.Auth("invalid credentials")
	}

	extra := make(map[string]interface{})
	if claims, ok := params["extra_claims"].([]interface{}); ok {
		for _, c := range claims {
			if name, ok := c.(string); ok {
				if v, present := ent.FieldData[name]; present {
					extra[name] = v
				}
			}
		}
	}

	ttl := defaultEntityTokenTTL
	if minutes, ok := params["ttl_minutes"].(float64); ok && minutes > 0 {
		ttl = time.Duration(minutes) * time.Minute
	}

	tokenString, _, err := x.tokens.IssueEntityToken(ent.UUID, entityType, extra, ttl)
	if err != nil {
		return err
	}
	rec[target] = tokenString
	return nil
}
