// Package validation wraps go-playground/validator/v10 with the
// custom field rules this engine's request DTOs need beyond gin's
// built-in "binding" tags: a package-level *validator.Validate with
// RegisterValidation custom rules, translated into the shared error
// taxonomy rather than returned raw.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("strong_password", validateStrongPassword)
	v.RegisterValidation("safe_string", validateSafeString)
	v.RegisterValidation("field_path", validateFieldPath)
	v.RegisterValidation("cron_expr", validateCronExpr)
	return v
}

// Struct runs the "validate" struct tags over obj, translating every
// go-playground/validator failure into a rerrors.Violation so a
// failing request gets its {message, violations} shape without
// each handler hand-rolling its own field checks.
func Struct(obj interface{}) error {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return rerrors.Validation(err.Error())
	}
	violations := make([]rerrors.Violation, 0, len(verrs))
	for _, fe := range verrs {
		violations = append(violations, rerrors.Violation{
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed '%s' validation", fe.Tag()),
			Code:    fe.Tag(),
		})
	}
	return rerrors.Validation("request validation failed", violations...)
}

// validateStrongPassword requires length 8+ and a mix of upper, lower,
// digit and symbol characters.
func validateStrongPassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()
	if len(password) < 8 {
		return false
	}
	hasUpper := regexp.MustCompile(`[A-Z]`).MatchString(password)
	hasLower := regexp.MustCompile(`[a-z]`).MatchString(password)
	hasNumber := regexp.MustCompile(`[0-9]`).MatchString(password)
	hasSpecial := regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`).MatchString(password)
	return hasUpper && hasLower && hasNumber && hasSpecial
}

var dangerousStringPatterns = []string{
	"<script", "</script>", "javascript:", "vbscript:",
	"onload=", "onerror=", "onclick=", "onmouseover=",
	"eval(", "alert(", "confirm(", "prompt(",
	"SELECT ", "INSERT ", "UPDATE ", "DELETE ", "DROP ",
	"UNION ", "EXEC ", "EXECUTE ", "--",
	"<", ">", "\"", "'", "&",
}

// validateSafeString rejects free-text fields (names, descriptions)
// that carry markup or SQL-injection-shaped substrings. Every write
// path already parameterizes its queries; this is a belt-and-braces
// check on what ends up rendered back to an admin UI.
func validateSafeString(fl validator.FieldLevel) bool {
	lower := strings.ToLower(fl.Field().String())
	for _, pattern := range dangerousStringPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return false
		}
	}
	return true
}

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// validateFieldPath checks the same alphanumeric dot-separated shape
// the workflow DSL's own mapping keys/values require,
// for any request field that names an entity field path directly
// (e.g. a sort field or an identify key) rather than through a DSL
// program.
func validateFieldPath(fl validator.FieldLevel) bool {
	return fieldPathPattern.MatchString(fl.Field().String())
}

// validateCronExpr accepts the empty string (no schedule) or a
// standard five-field cron expression, using the same
// robfig/cron/v3.ParseStandard the scheduling preview endpoint and the
// pruning scheduler both parse with.
func validateCronExpr(fl validator.FieldLevel) bool {
	expr := fl.Field().String()
	if expr == "" {
		return true
	}
	_, err := cron.ParseStandard(expr)
	return err == nil
}
