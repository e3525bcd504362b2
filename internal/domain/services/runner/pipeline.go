// Package runner implements the Run Orchestrator: it
// stages and claims work items, drives each through the Workflow DSL,
// and records the outcome.
package runner

import (
	"context"
	"strconv"
	"strings"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/entity"
	"github.com/bentbr/r_data_core_go/internal/domain/services/entitydef"
	"github.com/bentbr/r_data_core_go/internal/domain/services/workflow"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// Pipeline executes a DslProgram against one Record at a time,
// carrying it through every step's mapping, transform chain, and
// destination write.
type Pipeline struct {
	definitions *entitydef.Store
	entities    *entity.Store
	executor    *workflow.Executor
	pusher      *workflow.Pusher
}

func NewPipeline(definitions *entitydef.Store, entities *entity.Store, executor *workflow.Executor, pusher *workflow.Pusher) *Pipeline {
	return &Pipeline{definitions: definitions, entities: entities, executor: executor, pusher: pusher}
}

// Result is what running a program against one record produced: the
// final record state and the serialized bytes of the first Format
// output any step wrote (returned to the caller by the inline
// execution path).
type Result struct {
	Record workflow.Record
	Output []byte
}

// Run drives rec through every step of program in order. skipVersioning
// is threaded onto every Entity destination write in this run (a
// Workflow's versioning_disabled flag), suppressing the pre-image
// snapshot that Entity Store.Update would otherwise take.
func (p *Pipeline) Run(ctx context.Context, program *entities.DslProgram, rec workflow.Record, skipVersioning bool) (*Result, error) {
	var output []byte
	for _, step := range program.Steps {
		if err := p.applyFrom(ctx, step.From, rec); err != nil {
			return nil, err
		}
		if len(step.Transforms) > 0 {
			if err := p.executor.Apply(ctx, step.Transforms, rec); err != nil {
				return nil, err
			}
		}
		data, err := p.applyTo(ctx, step.To, rec, skipVersioning)
		if err != nil {
			return nil, err
		}
		if data != nil && output == nil {
			output = data
		}
	}
	return &Result{Record: rec, Output: output}, nil
}

// applyFrom applies a step's source mapping in place. Format sources
// have already been fetched and parsed before the pipeline runs
//; this remaps source field paths onto normalized
// field names. Entity sources pull an existing row's field data into
// the record.
func (p *Pipeline) applyFrom(ctx context.Context, from entities.FromDef, rec workflow.Record) error {
	switch from.Kind {
	case entities.FromFormat:
		if len(from.Mapping) == 0 {
			return nil
		}
		mapped := make(workflow.Record, len(from.Mapping))
		for normalized, path := range from.Mapping {
			mapped[normalized] = getPath(rec, path)
		}
		for k, v := range mapped {
			rec[k] = v
		}
		return nil
	case entities.FromEntity:
		id, _ := rec["uuid"].(string)
		if id == "" {
			return rerrors.Validation("entity source requires a uuid field on the record")
		}
		def, err := p.definitions.GetByType(ctx, from.EntityType)
		if err != nil {
			return err
		}
		ent, err := p.entities.GetByUUID(ctx, def, id)
		if err != nil {
			return err
		}
		for k, v := range ent.FieldData {
			rec[k] = v
		}
		return nil
	default:
		return rerrors.Validation("unknown from kind")
	}
}

// applyTo dispatches a step's destination. Entity destinations write
// through the DynamicEntity Store; Format destinations serialize the
// record and, for Push outputs, hand the bytes to the destination
// adapter. It returns the serialized bytes when one was produced, for
// the inline path to surface as its response.
func (p *Pipeline) applyTo(ctx context.Context, to entities.ToDef, rec workflow.Record, skipVersioning bool) ([]byte, error) {
	switch to.Kind {
	case entities.ToEntity:
		return nil, p.writeEntity(ctx, to, rec, skipVersioning)
	case entities.ToFormat:
		out := rec
		if len(to.Mapping) > 0 {
			out = make(workflow.Record, len(to.Mapping))
			for source, destPath := range to.Mapping {
				setPath(out, destPath, rec[source])
			}
		}
		data, err := workflow.Encode(to.Format, []workflow.Record{out})
		if err != nil {
			return nil, err
		}
		if to.Output.Kind == entities.OutputPush {
			if err := p.pusher.Push(ctx, to.Output.Destination, data); err != nil {
				return nil, err
			}
		}
		return data, nil
	default:
		return nil, rerrors.Validation("unknown to kind")
	}
}

func (p *Pipeline) writeEntity(ctx context.Context, to entities.ToDef, rec workflow.Record, skipVersioning bool) error {
	def, err := p.definitions.GetByType(ctx, to.EntityType)
	if err != nil {
		return err
	}
	req := &entity.WriteRequest{
		Definition:     def,
		UpdateKey:      to.UpdateKey,
		FieldData:      map[string]interface{}(rec),
		SkipVersioning: skipVersioning,
	}
	if uuidVal, ok := rec["uuid"].(string); ok {
		req.UUID = uuidVal
	}
	if to.Identify != "" {
		if v, ok := rec[to.Identify]; ok {
			req.EntityKey = stringify(v)
		}
	}
	if parent, ok := rec["parent_uuid"].(string); ok {
		req.ParentUUID = parent
	}
	if path, ok := rec["path"].(string); ok {
		req.Path = path
	}

	switch to.Mode {
	case entities.WriteModeCreate:
		_, err = p.entities.Create(ctx, req)
	case entities.WriteModeUpdate:
		_, err = p.entities.Update(ctx, req)
	case entities.WriteModeCreateOrUpdate:
		_, err = p.entities.CreateOrUpdate(ctx, req)
	default:
		return rerrors.Validation("unknown entity write mode")
	}
	return err
}

func stringify(v interface{}) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return ""
	}
}

// getPath reads a dot-separated path out of a nested record.
func getPath(rec workflow.Record, path string) interface{} {
	parts := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(rec)
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// setPath writes value at a dot-separated path, creating intermediate
// maps as needed.
func setPath(rec workflow.Record, path string, value interface{}) {
	parts := strings.Split(path, ".")
	cur := map[string]interface{}(rec)
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[part] = next
		}
		cur = next
	}
}
