// Package workflow implements the Workflow DSL & Planner: validating
// a stored DSL program and executing it one row at a time against the
// transform chain each step declares.
package workflow

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

var safeFieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

var validFormats = map[entities.FormatKind]bool{
	entities.FormatCSV:  true,
	entities.FormatJSON: true,
}

// ValidateProgram checks a DslProgram against its rules,
// returning a single rerrors.Validation error carrying every violation
// found.
func ValidateProgram(p *entities.DslProgram) error {
	var violations []rerrors.Violation
	add := func(field, msg string) {
		violations = append(violations, rerrors.Violation{Field: field, Message: msg})
	}

	if len(p.Steps) == 0 {
		add("steps", "a workflow must declare at least one step")
	}

	for i, step := range p.Steps {
		prefix := "steps[" + strconv.Itoa(i) + "]"
		validateFrom(prefix+".from", step.From, add)
		validateMapping(prefix+".from.mapping", step.From.Mapping, add)
		validateTo(prefix+".to", step.To, add)
		validateMapping(prefix+".to.mapping", step.To.Mapping, add)
	}

	if len(violations) > 0 {
		return rerrors.Validation("workflow dsl validation failed", violations...)
	}
	return nil
}

func validateMapping(field string, mapping map[string]string, add func(string, string)) {
	for k, v := range mapping {
		if !safeFieldPattern.MatchString(k) {
			add(field, "mapping key '"+k+"' must be an alphanumeric, dot-separated path")
		}
		if !safeFieldPattern.MatchString(v) {
			add(field, "mapping value '"+v+"' must be an alphanumeric, dot-separated path")
		}
	}
}

func validateFrom(field string, from entities.FromDef, add func(string, string)) {
	switch from.Kind {
	case entities.FromFormat:
		validateSource(field+".source", from.Source, add)
	case entities.FromEntity:
		if from.EntityType == "" {
			add(field+".entity_type", "required when from.kind is Entity")
		}
	default:
		add(field+".kind", "must be Format or Entity")
	}
}

func validateSource(field string, src entities.SourceConfig, add func(string, string)) {
	switch src.Type {
	case entities.SourceURI:
		if !strings.HasPrefix(src.URI, "http://") && !strings.HasPrefix(src.URI, "https://") {
			add(field+".uri", "must start with http:// or https://")
		}
	case entities.SourceFile:
		if src.Path == "" {
			add(field+".path", "required for file sources")
		}
	case entities.SourceAPI:
		if !strings.HasPrefix(src.Endpoint, "/") {
			add(field+".endpoint", "must start with /")
		}
	default:
		add(field+".type", "unknown source type")
	}
	if !validFormats[src.Format.Type] {
		add(field+".format.type", "unknown format type")
	}
	validateCSVConfig(field+".format", src.Format, add)
	validateAuth(field+".auth", src.Auth, add)
}

func validateCSVConfig(field string, f entities.FormatConfig, add func(string, string)) {
	if f.Type != entities.FormatCSV {
		return
	}
	if len(f.Delimiter) > 1 {
		add(field+".delimiter", "must be at most one character")
	}
	if len(f.Quote) > 1 {
		add(field+".quote", "must be at most one character")
	}
	if len(f.Escape) > 1 {
		add(field+".escape", "must be at most one character")
	}
}

func validateAuth(field string, auth entities.AuthConfig, add func(string, string)) {
	switch auth.Kind {
	case entities.AuthNone:
	case entities.AuthAPIKey:
		if auth.Key == "" {
			add(field+".key", "required for ApiKey auth")
		}
		if auth.Header == "" {
			add(field+".header", "required for ApiKey auth")
		}
	case entities.AuthBasic:
		if auth.User == "" {
			add(field+".user", "required for BasicAuth")
		}
		if auth.Pass == "" {
			add(field+".pass", "required for BasicAuth")
		}
	case entities.AuthPreSharedKey:
		if auth.Key == "" {
			add(field+".key", "required for PreSharedKey auth")
		}
		if auth.Location == "" {
			add(field+".location", "required for PreSharedKey auth")
		}
		if auth.Field == "" {
			add(field+".field", "required for PreSharedKey auth")
		}
	default:
		add(field+".kind", "unknown auth kind")
	}
}

func validateTo(field string, to entities.ToDef, add func(string, string)) {
	switch to.Kind {
	case entities.ToFormat:
		validateOutput(field+".output", to.Output, add)
		if !validFormats[to.Format.Type] {
			add(field+".format.type", "unknown format type")
		}
		validateCSVConfig(field+".format", to.Format, add)
	case entities.ToEntity:
		if to.EntityType == "" {
			add(field+".entity_type", "required when to.kind is Entity")
		}
		switch to.Mode {
		case entities.WriteModeCreate:
		case entities.WriteModeUpdate, entities.WriteModeCreateOrUpdate:
			if to.Identify == "" && to.UpdateKey == "" {
				add(field+".identify", "update/createOrUpdate requires a discoverable key via identify or update_key")
			}
		default:
			add(field+".mode", "must be Create, Update, or CreateOrUpdate")
		}
	default:
		add(field+".kind", "must be Format or Entity")
	}
}

func validateOutput(field string, out entities.OutputMode, add func(string, string)) {
	switch out.Kind {
	case entities.OutputDownload, entities.OutputAPI:
	case entities.OutputPush:
		if out.Destination.URI == "" {
			add(field+".destination.uri", "required for Push output")
		}
		switch out.Destination.Method {
		case entities.MethodGet, entities.MethodPost, entities.MethodPut, entities.MethodPatch, entities.MethodDelete:
		default:
			add(field+".destination.method", "must be one of GET, POST, PUT, PATCH, DELETE")
		}
		validateAuth(field+".destination.auth", out.Destination.Auth, add)
	default:
		add(field+".kind", "must be Download, Api, or Push")
	}
}
