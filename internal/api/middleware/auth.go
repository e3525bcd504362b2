package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bentbr/r_data_core_go/internal/api/handlers/common"
	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/permission"
	"github.com/bentbr/r_data_core_go/internal/domain/services/token"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

const (
	contextPrincipal = "principal"
)

// PrincipalResolver loads the full Principal a verified access token's
// subject refers to, so downstream handlers get a live row rather than
// the JWT's point-in-time claims.
type PrincipalResolver interface {
	ResolvePrincipal(ctx *gin.Context, subjectUUID, role string) (entities.Principal, error)
}

// RequireAuth verifies the bearer access token and attaches the
// resolved Principal to the request context. Missing/invalid tokens
// are rejected with 401's response envelope.
func RequireAuth(tokens *token.Service, resolver PrincipalResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			respondAuthError(c, rerrors.Auth("missing or malformed Authorization header"))
			return
		}

		claims, err := tokens.VerifyAccess(parts[1])
		if err != nil {
			respondAuthError(c, err)
			return
		}

		principal, err := resolver.ResolvePrincipal(c, claims.Subject, claims.Role)
		if err != nil {
			respondAuthError(c, rerrors.Auth("principal no longer valid"))
			return
		}

		c.Set(contextPrincipal, principal)
		c.Set("permissions", claims.Permissions)
		c.Next()
	}
}

// PrincipalFromContext reads the Principal RequireAuth attached.
func PrincipalFromContext(c *gin.Context) (entities.Principal, bool) {
	v, ok := c.Get(contextPrincipal)
	if !ok {
		return entities.Principal{}, false
	}
	p, ok := v.(entities.Principal)
	return p, ok
}

// RequirePermission checks the authenticated principal against the
// PermissionEvaluator for (namespace, op), optionally against a path
// derived from a route parameter.
func RequirePermission(evaluator *permission.Evaluator, namespace entities.Namespace, op entities.Op, pathParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			respondAuthError(c, rerrors.Auth("authentication required"))
			return
		}

		var path *string
		if pathParam != "" {
			if v := c.Param(pathParam); v != "" {
				path = &v
			}
		}

		allowed, err := evaluator.Allowed(c, principal, namespace, op, path)
		if err != nil {
			common.RespondError(c, err)
			c.Abort()
			return
		}
		if !allowed {
			common.RespondError(c, rerrors.Forbidden("insufficient permissions"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func respondAuthError(c *gin.Context, err error) {
	common.RespondError(c, err)
	c.Abort()
}
