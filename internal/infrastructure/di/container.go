// Package di assembles every repository, domain service, and HTTP
// handler into a single wiring point: one struct field per component,
// a constructor that wires them bottom-up — repositories first, then
// the services that depend on them, then handlers.
package di

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	entitydefhandlers "github.com/bentbr/r_data_core_go/internal/api/handlers/entitydefs"
	entityhandlers "github.com/bentbr/r_data_core_go/internal/api/handlers/entities"
	permissionschemehandlers "github.com/bentbr/r_data_core_go/internal/api/handlers/permissionschemes"
	workflowhandlers "github.com/bentbr/r_data_core_go/internal/api/handlers/workflows"

	authhandlers "github.com/bentbr/r_data_core_go/internal/api/handlers/auth"
	"github.com/bentbr/r_data_core_go/internal/api/middleware"
	"github.com/bentbr/r_data_core_go/internal/api/routes"
	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/entity"
	"github.com/bentbr/r_data_core_go/internal/domain/services/entitydef"
	"github.com/bentbr/r_data_core_go/internal/domain/services/permission"
	"github.com/bentbr/r_data_core_go/internal/domain/services/runner"
	"github.com/bentbr/r_data_core_go/internal/domain/services/token"
	"github.com/bentbr/r_data_core_go/internal/domain/services/versioning"
	"github.com/bentbr/r_data_core_go/internal/domain/services/workflow"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/config"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/repositories"
	"github.com/bentbr/r_data_core_go/pkg/circuitbreaker"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// Container holds every wired component the application needs.
type Container struct {
	DB    *sqlx.DB
	Redis *redis.Client
	Log   *logger.Logger

	// Repositories
	HumanUsers    *repositories.HumanUserRepository
	APIKeys       *repositories.APIKeyRepository
	RefreshTokens *repositories.RefreshTokenRepository
	Workflows     *repositories.WorkflowRepository
	Runs          *repositories.RunRepository
	Registry      *repositories.EntitiesRegistryRepository
	Settings      *repositories.SystemSettingsRepository

	// Domain services
	Versioning     *versioning.Store
	EntityDDL      *entitydef.DDL
	EntityDefs     *entitydef.Store
	Entities       *entity.Store
	SchemeStore    *permission.Store
	SchemeCache    *permission.Cache
	Evaluator      *permission.Evaluator
	Tokens         *token.Service
	Fetcher        *workflow.Fetcher
	Pusher         *workflow.Pusher
	Executor       *workflow.Executor
	Pipeline       *runner.Pipeline
	Orchestrator   *runner.Orchestrator

	// HTTP handlers
	Handlers routes.Handlers
}

// NewContainer builds the full dependency graph bottom-up: repositories,
// then the services that wrap them, then the HTTP handlers that expose
// those services, so each layer only ever depends on the one below it.
func NewContainer(cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	redisOpts.DB = cfg.Redis.DB
	redisClient := redis.NewClient(redisOpts)

	c := &Container{DB: db, Redis: redisClient, Log: log}

	c.HumanUsers = repositories.NewHumanUserRepository(db)
	c.APIKeys = repositories.NewAPIKeyRepository(db)
	c.RefreshTokens = repositories.NewRefreshTokenRepository(db)
	c.Workflows = repositories.NewWorkflowRepository(db)
	c.Runs = repositories.NewRunRepository(db)
	c.Registry = repositories.NewEntitiesRegistryRepository(db)
	c.Settings = repositories.NewSystemSettingsRepository(db)

	c.Versioning = versioning.NewStore(db, log)
	c.EntityDDL = entitydef.NewDDL(db, log)
	c.EntityDefs = entitydef.NewStore(db, c.EntityDDL, c.Versioning, log)
	c.Entities = entity.NewStore(db, c.Versioning, log)

	c.SchemeStore = permission.NewStore(db, nil)
	c.SchemeCache = permission.NewCache(redisClient, c.SchemeStore, 10*time.Minute, log)
	c.SchemeStore.SetCache(c.SchemeCache)
	c.Evaluator = permission.NewEvaluator(c.SchemeCache)

	c.Tokens = token.NewService(cfg.Auth.JWTSecret, cfg.Auth.EntitySecretSuffix, cfg.Auth.RefreshTokenTTL, c.RefreshTokens)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	})
	c.Fetcher = workflow.NewFetcher(httpClient, breaker)
	c.Pusher = workflow.NewPusher(httpClient, breaker)
	c.Executor = workflow.NewExecutor(c.Entities, c.EntityDefs, c.Tokens)
	c.Pipeline = runner.NewPipeline(c.EntityDefs, c.Entities, c.Executor, c.Pusher)
	c.Orchestrator = runner.NewOrchestrator(c.Runs, c.Workflows, c.Fetcher, c.Pipeline, log)

	authHandlers := authhandlers.NewHandlers(c.HumanUsers, c.Tokens, c.SchemeCache, log)
	workflowHandlers := workflowhandlers.NewHandlers(c.Workflows, c.Runs, c.Orchestrator, c.Versioning, log)
	entityDefHandlers := entitydefhandlers.NewHandlers(c.EntityDefs, c.EntityDDL, log)
	entityHandlers := entityhandlers.NewHandlers(c.Entities, c.EntityDefs, c.Registry, c.Versioning, log)
	permissionSchemeHandlers := permissionschemehandlers.NewHandlers(c.SchemeStore, c.SchemeCache)

	c.Handlers = routes.Handlers{
		Auth:              authHandlers,
		Workflows:         workflowHandlers,
		Entities:          entityHandlers,
		EntityDefinitions: entityDefHandlers,
		PermissionSchemes: permissionSchemeHandlers,
	}

	return c, nil
}

// PrincipalResolver re-derives a fresh Principal from the subject UUID
// and role embedded in a verified access token, so a revoked/deactivated
// user or API key loses access on the very next request rather than
// only once its token expires.
type PrincipalResolver struct {
	users *repositories.HumanUserRepository
	keys  *repositories.APIKeyRepository
}

func NewPrincipalResolver(users *repositories.HumanUserRepository, keys *repositories.APIKeyRepository) *PrincipalResolver {
	return &PrincipalResolver{users: users, keys: keys}
}

func (r *PrincipalResolver) ResolvePrincipal(c *gin.Context, subjectUUID, role string) (entities.Principal, error) {
	ctx := c.Request.Context()
	if role == entities.APIKeyRoleName {
		key, err := r.keys.GetByUUID(ctx, subjectUUID)
		if err != nil {
			return entities.Principal{}, err
		}
		if !key.Valid(time.Now()) {
			return entities.Principal{}, rerrors.Forbidden("api key is revoked or expired")
		}
		return entities.Principal{Kind: entities.PrincipalAPIKey, Key: key}, nil
	}
	user, err := r.users.GetByUUID(ctx, subjectUUID)
	if err != nil {
		return entities.Principal{}, err
	}
	if !user.IsActive {
		return entities.Principal{}, rerrors.Forbidden("account is inactive")
	}
	return entities.Principal{Kind: entities.PrincipalHumanUser, User: user}, nil
}
