// Package entitydefs implements the entity-definition management
// endpoints: an EntityDefinition declares the schema for one
// dynamic entity type, and creating/publishing one drives the DDL
// layer (internal/domain/services/entitydef) into materializing or
// migrating its backing table. Grounded on the existing per-resource
// handler shape, same as internal/api/handlers/workflows.
package entitydefs

import (
	"github.com/gin-gonic/gin"

	"github.com/bentbr/r_data_core_go/internal/api/handlers/common"
	mw "github.com/bentbr/r_data_core_go/internal/api/middleware"
	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/entitydef"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// Handlers implements the entity_definitions CRUD surface
type Handlers struct {
	defs *entitydef.Store
	ddl  *entitydef.DDL
	log  *logger.Logger
}

func NewHandlers(defs *entitydef.Store, ddl *entitydef.DDL, log *logger.Logger) *Handlers {
	return &Handlers{defs: defs, ddl: ddl, log: log}
}

type definitionDTO struct {
	UUID          string                     `json:"uuid"`
	EntityType    string                     `json:"entity_type"`
	DisplayName   string                     `json:"display_name"`
	AllowChildren bool                       `json:"allow_children"`
	Fields        []entities.FieldDefinition `json:"fields"`
	Version       int                        `json:"version"`
	Published     bool                       `json:"published"`
	CreatedBy     string                     `json:"created_by,omitempty"`
	UpdatedBy     string                     `json:"updated_by,omitempty"`
}

func toDTO(def *entities.EntityDefinition) definitionDTO {
	return definitionDTO{
		UUID:          def.UUID,
		EntityType:    def.EntityType,
		DisplayName:   def.DisplayName,
		AllowChildren: def.AllowChildren,
		Fields:        def.Fields,
		Version:       def.Version,
		Published:     def.Published,
		CreatedBy:     def.CreatedBy,
		UpdatedBy:     def.UpdatedBy,
	}
}

type definitionRequest struct {
	EntityType    string                     `json:"entity_type" binding:"required" validate:"required,field_path"`
	DisplayName   string                     `json:"display_name" binding:"required" validate:"required,safe_string"`
	AllowChildren bool                       `json:"allow_children"`
	Fields        []entities.FieldDefinition `json:"fields"`
	Published     bool                       `json:"published"`
}

// List godoc
// @Summary List entity definitions
// @Tags entity_definitions
// @Produce json
// @Success 200 {array} definitionDTO
// @Security BearerAuth
// @Router /entity_definitions [get]
func (h *Handlers) List(c *gin.Context) {
	all, err := h.defs.List(c.Request.Context())
	if err != nil {
		common.RespondError(c, err)
		return
	}
	out := make([]definitionDTO, 0, len(all))
	for _, def := range all {
		out = append(out, toDTO(def))
	}
	common.RespondOK(c, out)
}

// Get godoc
// @Summary Get an entity definition by UUID
// @Tags entity_definitions
// @Produce json
// @Param uuid path string true "Entity definition UUID"
// @Success 200 {object} definitionDTO
// @Security BearerAuth
// @Router /entity_definitions/{uuid} [get]
func (h *Handlers) Get(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	def, err := h.defs.GetByUUID(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, toDTO(def))
}

// GetByType godoc
// @Summary Get an entity definition by its entity_type
// @Tags entity_definitions
// @Produce json
// @Param type path string true "Entity type"
// @Success 200 {object} definitionDTO
// @Security BearerAuth
// @Router /entity_definitions/by_type/{type} [get]
func (h *Handlers) GetByType(c *gin.Context) {
	entityType, ok := common.ParsePathParam(c, "type")
	if !ok {
		return
	}
	def, err := h.defs.GetByType(c.Request.Context(), entityType)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, toDTO(def))
}

// Create godoc
// @Summary Create an entity definition
// @Description Persists the definition and, if submitted published, immediately materializes its backing table via the DDL layer.
// @Tags entity_definitions
// @Accept json
// @Produce json
// @Param body body definitionRequest true "Entity definition"
// @Success 201 {object} definitionDTO
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /entity_definitions [post]
func (h *Handlers) Create(c *gin.Context) {
	var req definitionRequest
	if !common.BindJSON(c, &req) {
		return
	}

	def := &entities.EntityDefinition{
		EntityType:    req.EntityType,
		DisplayName:   req.DisplayName,
		AllowChildren: req.AllowChildren,
		Fields:        req.Fields,
		Published:     req.Published,
	}

	ctx := c.Request.Context()
	actor := actorFrom(c)
	if err := h.defs.Create(ctx, def, actor); err != nil {
		common.RespondError(c, err)
		return
	}
	if def.Published {
		if err := h.ddl.Apply(ctx, def); err != nil {
			common.RespondError(c, err)
			return
		}
	}
	common.RespondCreated(c, toDTO(def))
}

// Update godoc
// @Summary Update an entity definition
// @Description A published update re-applies the DDL, which migrates the backing table additively (new columns/indexes) rather than recreating it.
// @Tags entity_definitions
// @Accept json
// @Produce json
// @Param uuid path string true "Entity definition UUID"
// @Param body body definitionRequest true "Entity definition"
// @Success 200 {object} definitionDTO
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /entity_definitions/{uuid} [put]
func (h *Handlers) Update(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	var req definitionRequest
	if !common.BindJSON(c, &req) {
		return
	}

	def := &entities.EntityDefinition{
		UUID:          id,
		EntityType:    req.EntityType,
		DisplayName:   req.DisplayName,
		AllowChildren: req.AllowChildren,
		Fields:        req.Fields,
		Published:     req.Published,
	}

	ctx := c.Request.Context()
	if err := h.defs.Update(ctx, def, actorFrom(c)); err != nil {
		common.RespondError(c, err)
		return
	}
	if def.Published {
		if err := h.ddl.Apply(ctx, def); err != nil {
			common.RespondError(c, err)
			return
		}
	}
	common.RespondOK(c, toDTO(def))
}

func actorFrom(c *gin.Context) string {
	if principal, ok := mw.PrincipalFromContext(c); ok {
		return principal.UUID()
	}
	return ""
}
