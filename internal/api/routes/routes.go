// Package routes wires each handler package onto a gin router group:
// one RegisterXRoutes function per resource family, middleware
// attached per-group rather than globally.
package routes

import (
	"github.com/gin-gonic/gin"
	ginswagger "github.com/swaggo/gin-swagger"
	swaggerfiles "github.com/swaggo/files"

	authhandlers "github.com/bentbr/r_data_core_go/internal/api/handlers/auth"
	entitydefhandlers "github.com/bentbr/r_data_core_go/internal/api/handlers/entitydefs"
	entityhandlers "github.com/bentbr/r_data_core_go/internal/api/handlers/entities"
	permissionschemehandlers "github.com/bentbr/r_data_core_go/internal/api/handlers/permissionschemes"
	workflowhandlers "github.com/bentbr/r_data_core_go/internal/api/handlers/workflows"
	"github.com/bentbr/r_data_core_go/internal/api/middleware"
	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/permission"
	"github.com/bentbr/r_data_core_go/internal/domain/services/token"
	_ "github.com/bentbr/r_data_core_go/internal/docs"
)

// Handlers bundles every handler package's Handlers value so
// RegisterRoutes has a single argument to accept from app wiring.
type Handlers struct {
	Auth              *authhandlers.Handlers
	Workflows         *workflowhandlers.Handlers
	Entities          *entityhandlers.Handlers
	EntityDefinitions *entitydefhandlers.Handlers
	PermissionSchemes *permissionschemehandlers.Handlers
}

// RegisterRoutes mounts every admin API route under /admin/api/v1,
// matching the path layout it names. Auth-protected groups run
// middleware.RequireAuth first, then a resource-scoped
// middleware.RequirePermission check with the namespace/op's
// PermissionScheme model expects for that route.
func RegisterRoutes(router *gin.Engine, h Handlers, tokens *token.Service, resolver middleware.PrincipalResolver, evaluator *permission.Evaluator, authRateLimit int) {
	router.GET("/swagger/*any", ginswagger.WrapHandler(swaggerfiles.Handler))

	v1 := router.Group("/admin/api/v1")

	authGroup := v1.Group("/auth")
	authGroup.Use(middleware.AuthRateLimit(authRateLimit))
	{
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/refresh", h.Auth.Refresh)
		authGroup.POST("/logout", h.Auth.Logout)
		authGroup.POST("/register", h.Auth.Register)
	}

	authed := v1.Group("")
	authed.Use(middleware.RequireAuth(tokens, resolver))
	{
		authed.POST("/auth/revoke-all", h.Auth.RevokeAll)

		workflows := authed.Group("/workflows")
		{
			workflows.GET("", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpRead, ""), h.Workflows.List)
			workflows.POST("", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpCreate, ""), h.Workflows.Create)
			workflows.GET("/:uuid", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpRead, "uuid"), h.Workflows.Get)
			workflows.PUT("/:uuid", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpUpdate, "uuid"), h.Workflows.Update)
			workflows.DELETE("/:uuid", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpDelete, "uuid"), h.Workflows.Delete)
			workflows.POST("/:uuid/run", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpExecute, "uuid"), h.Workflows.Run)
			workflows.POST("/:uuid/run/upload", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpExecute, "uuid"), h.Workflows.RunUpload)
			workflows.GET("/:uuid/runs", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpRead, "uuid"), h.Workflows.Runs)
			workflows.GET("/:uuid/versions", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpRead, "uuid"), h.Workflows.Versions)
			workflows.GET("/:uuid/versions/:n", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpRead, "uuid"), h.Workflows.Version)
		}
		authed.GET("/runs/:run/logs", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpRead, ""), h.Workflows.RunLogs)
		authed.POST("/runs/:run/cancel", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpExecute, ""), h.Workflows.CancelRun)
		authed.GET("/cron/preview", middleware.RequirePermission(evaluator, entities.NamespaceWorkflows, entities.OpRead, ""), h.Workflows.CronPreview)

		entityDefs := authed.Group("/entity_definitions")
		{
			entityDefs.GET("", middleware.RequirePermission(evaluator, entities.NamespaceEntityDefinitions, entities.OpRead, ""), h.EntityDefinitions.List)
			entityDefs.POST("", middleware.RequirePermission(evaluator, entities.NamespaceEntityDefinitions, entities.OpCreate, ""), h.EntityDefinitions.Create)
			entityDefs.GET("/:uuid", middleware.RequirePermission(evaluator, entities.NamespaceEntityDefinitions, entities.OpRead, "uuid"), h.EntityDefinitions.Get)
			entityDefs.PUT("/:uuid", middleware.RequirePermission(evaluator, entities.NamespaceEntityDefinitions, entities.OpUpdate, "uuid"), h.EntityDefinitions.Update)
			entityDefs.GET("/by_type/:type", middleware.RequirePermission(evaluator, entities.NamespaceEntityDefinitions, entities.OpRead, ""), h.EntityDefinitions.GetByType)
		}

		entitiesGroup := authed.Group("/entities")
		{
			entitiesGroup.GET("/:type", middleware.RequirePermission(evaluator, entities.NamespaceEntities, entities.OpRead, ""), h.Entities.List)
			entitiesGroup.POST("/:type", middleware.RequirePermission(evaluator, entities.NamespaceEntities, entities.OpCreate, ""), h.Entities.Create)
			entitiesGroup.GET("/:type/:uuid", middleware.RequirePermission(evaluator, entities.NamespaceEntities, entities.OpRead, "uuid"), h.Entities.Get)
			entitiesGroup.PUT("/:type/:uuid", middleware.RequirePermission(evaluator, entities.NamespaceEntities, entities.OpUpdate, "uuid"), h.Entities.Update)
			entitiesGroup.GET("/:type/:uuid/versions", middleware.RequirePermission(evaluator, entities.NamespaceEntities, entities.OpRead, "uuid"), h.Entities.Versions)
			entitiesGroup.GET("/:type/:uuid/versions/:n", middleware.RequirePermission(evaluator, entities.NamespaceEntities, entities.OpRead, "uuid"), h.Entities.Version)
			entitiesGroup.GET("/:type/:uuid/children", middleware.RequirePermission(evaluator, entities.NamespaceEntities, entities.OpRead, "uuid"), h.Entities.Children)
		}

		schemes := authed.Group("/permission_schemes")
		{
			schemes.GET("", middleware.RequirePermission(evaluator, entities.NamespacePermissionSchemes, entities.OpRead, ""), h.PermissionSchemes.List)
			schemes.POST("", middleware.RequirePermission(evaluator, entities.NamespacePermissionSchemes, entities.OpCreate, ""), h.PermissionSchemes.Create)
			schemes.GET("/:uuid", middleware.RequirePermission(evaluator, entities.NamespacePermissionSchemes, entities.OpRead, "uuid"), h.PermissionSchemes.Get)
			schemes.PUT("/:uuid", middleware.RequirePermission(evaluator, entities.NamespacePermissionSchemes, entities.OpUpdate, "uuid"), h.PermissionSchemes.Update)
			schemes.DELETE("/:uuid", middleware.RequirePermission(evaluator, entities.NamespacePermissionSchemes, entities.OpDelete, "uuid"), h.PermissionSchemes.Delete)
		}
		authed.POST("/users/:uuid/permission_schemes", middleware.RequirePermission(evaluator, entities.NamespacePermissionSchemes, entities.OpUpdate, ""), h.PermissionSchemes.AssignToUser)
		authed.DELETE("/users/:uuid/permission_schemes/:scheme", middleware.RequirePermission(evaluator, entities.NamespacePermissionSchemes, entities.OpUpdate, ""), h.PermissionSchemes.UnassignFromUser)
		authed.POST("/api_keys/:uuid/permission_schemes", middleware.RequirePermission(evaluator, entities.NamespacePermissionSchemes, entities.OpUpdate, ""), h.PermissionSchemes.AssignToAPIKey)
		authed.DELETE("/api_keys/:uuid/permission_schemes/:scheme", middleware.RequirePermission(evaluator, entities.NamespacePermissionSchemes, entities.OpUpdate, ""), h.PermissionSchemes.UnassignFromAPIKey)
	}
}
