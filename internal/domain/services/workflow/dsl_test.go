package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

func validEntityToEntityProgram() *entities.DslProgram {
	return &entities.DslProgram{
		Steps: []entities.DslStep{
			{
				From: entities.FromDef{Kind: entities.FromEntity, EntityType: "source_widget"},
				To: entities.ToDef{
					Kind:       entities.ToEntity,
					EntityType: "dest_widget",
					Mode:       entities.WriteModeCreate,
				},
			},
		},
	}
}

func TestValidateProgram_RejectsEmptySteps(t *testing.T) {
	err := ValidateProgram(&entities.DslProgram{})
	require.Error(t, err)
	ve, ok := rerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, rerrors.KindValidation, ve.Kind)
	assert.Contains(t, violationFields(ve), "steps")
}

func TestValidateProgram_AcceptsMinimalEntityToEntityStep(t *testing.T) {
	err := ValidateProgram(validEntityToEntityProgram())
	assert.NoError(t, err)
}

func TestValidateProgram_RejectsUnsafeMappingKey(t *testing.T) {
	p := validEntityToEntityProgram()
	p.Steps[0].From.Mapping = map[string]string{"bad key!": "dest.field"}

	err := ValidateProgram(p)
	require.Error(t, err)
	ve, _ := rerrors.As(err)
	assert.Contains(t, violationFields(ve), "steps[0].from.mapping")
}

func TestValidateProgram_AcceptsDottedMappingPath(t *testing.T) {
	p := validEntityToEntityProgram()
	p.Steps[0].From.Mapping = map[string]string{"nested.field_1": "dest.other_field"}

	err := ValidateProgram(p)
	assert.NoError(t, err)
}

func TestValidateProgram_RequiresEntityTypeForEntitySource(t *testing.T) {
	p := validEntityToEntityProgram()
	p.Steps[0].From.EntityType = ""

	err := ValidateProgram(p)
	require.Error(t, err)
	ve, _ := rerrors.As(err)
	assert.Contains(t, violationFields(ve), "steps[0].from.entity_type")
}

func TestValidateProgram_RequiresIdentifyOrUpdateKeyOnUpdateMode(t *testing.T) {
	p := validEntityToEntityProgram()
	p.Steps[0].To.Mode = entities.WriteModeUpdate

	err := ValidateProgram(p)
	require.Error(t, err)
	ve, _ := rerrors.As(err)
	assert.Contains(t, violationFields(ve), "steps[0].to.identify")
}

func TestValidateProgram_UpdateModeSatisfiedByUpdateKey(t *testing.T) {
	p := validEntityToEntityProgram()
	p.Steps[0].To.Mode = entities.WriteModeUpdate
	p.Steps[0].To.UpdateKey = "external_id"

	err := ValidateProgram(p)
	assert.NoError(t, err)
}

func TestValidateProgram_ValidatesURISourceScheme(t *testing.T) {
	p := &entities.DslProgram{
		Steps: []entities.DslStep{
			{
				From: entities.FromDef{
					Kind: entities.FromFormat,
					Source: entities.SourceConfig{
						Type:   entities.SourceURI,
						URI:    "ftp://example.com/feed.csv",
						Format: entities.FormatConfig{Type: entities.FormatCSV},
						Auth:   entities.AuthConfig{Kind: entities.AuthNone},
					},
				},
				To: entities.ToDef{
					Kind:       entities.ToEntity,
					EntityType: "dest_widget",
					Mode:       entities.WriteModeCreate,
				},
			},
		},
	}

	err := ValidateProgram(p)
	require.Error(t, err)
	ve, _ := rerrors.As(err)
	assert.Contains(t, violationFields(ve), "steps[0].from.source.uri")
}

func TestValidateProgram_ValidatesPushDestinationMethod(t *testing.T) {
	p := &entities.DslProgram{
		Steps: []entities.DslStep{
			{
				From: entities.FromDef{Kind: entities.FromEntity, EntityType: "source_widget"},
				To: entities.ToDef{
					Kind:   entities.ToFormat,
					Format: entities.FormatConfig{Type: entities.FormatJSON},
					Output: entities.OutputMode{
						Kind: entities.OutputPush,
						Destination: entities.DestinationConfig{
							URI:    "https://example.com/sink",
							Method: "TRACE",
							Auth:   entities.AuthConfig{Kind: entities.AuthNone},
						},
					},
				},
			},
		},
	}

	err := ValidateProgram(p)
	require.Error(t, err)
	ve, _ := rerrors.As(err)
	assert.Contains(t, violationFields(ve), "steps[0].to.output.destination.method")
}

func TestValidateProgram_ValidatesAPIKeyAuthRequiresKeyAndHeader(t *testing.T) {
	p := &entities.DslProgram{
		Steps: []entities.DslStep{
			{
				From: entities.FromDef{
					Kind: entities.FromFormat,
					Source: entities.SourceConfig{
						Type:   entities.SourceAPI,
						Endpoint: "/feed",
						Format: entities.FormatConfig{Type: entities.FormatJSON},
						Auth:   entities.AuthConfig{Kind: entities.AuthAPIKey},
					},
				},
				To: entities.ToDef{
					Kind:       entities.ToEntity,
					EntityType: "dest_widget",
					Mode:       entities.WriteModeCreate,
				},
			},
		},
	}

	err := ValidateProgram(p)
	require.Error(t, err)
	fields := violationFields(mustError(t, err))
	assert.Contains(t, fields, "steps[0].from.source.auth.key")
	assert.Contains(t, fields, "steps[0].from.source.auth.header")
}

func violationFields(ve *rerrors.Error) []string {
	fields := make([]string, 0, len(ve.Violations))
	for _, v := range ve.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

func mustError(t *testing.T, err error) *rerrors.Error {
	t.Helper()
	ve, ok := rerrors.As(err)
	require.True(t, ok)
	return ve
}
