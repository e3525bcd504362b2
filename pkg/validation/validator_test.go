package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

type sampleRequest struct {
	Name     string `validate:"required,safe_string"`
	Password string `validate:"required,strong_password"`
	Path     string `validate:"omitempty,field_path"`
	Cron     string `validate:"omitempty,cron_expr"`
}

func TestStruct_PassesValidRequest(t *testing.T) {
	req := sampleRequest{Name: "widgets", Password: "Str0ng!Pass", Path: "customer.address.city", Cron: "*/5 * * * *"}
	assert.NoError(t, Struct(req))
}

func TestStruct_RejectsDangerousString(t *testing.T) {
	req := sampleRequest{Name: "<script>alert(1)</script>", Password: "Str0ng!Pass"}
	err := Struct(req)
	require.Error(t, err)
	ve, ok := rerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, rerrors.KindValidation, ve.Kind)
}

func TestStruct_RejectsWeakPassword(t *testing.T) {
	req := sampleRequest{Name: "widgets", Password: "short"}
	err := Struct(req)
	require.Error(t, err)
}

func TestStruct_RejectsUnsafeFieldPath(t *testing.T) {
	req := sampleRequest{Name: "widgets", Password: "Str0ng!Pass", Path: "bad path!"}
	err := Struct(req)
	require.Error(t, err)
}

func TestStruct_RejectsMalformedCronExpression(t *testing.T) {
	req := sampleRequest{Name: "widgets", Password: "Str0ng!Pass", Cron: "not a cron expression"}
	err := Struct(req)
	require.Error(t, err)
}

func TestStruct_EmptyCronIsValid(t *testing.T) {
	req := sampleRequest{Name: "widgets", Password: "Str0ng!Pass", Cron: ""}
	assert.NoError(t, Struct(req))
}
