// Package entities implements the dynamic entity CRUD and listing
// endpoints: every operation is scoped to one entity type,
// whose EntityDefinition (internal/domain/services/entitydef) supplies
// the field schema entity.Store validates against. Grounded on the
// teacher's per-resource handler shape, same as internal/api/handlers/workflows.
package entities

import (
	"github.com/gin-gonic/gin"

	"github.com/bentbr/r_data_core_go/internal/api/handlers/common"
	mw "github.com/bentbr/r_data_core_go/internal/api/middleware"
	domainentities "github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/entity"
	"github.com/bentbr/r_data_core_go/internal/domain/services/entitydef"
	"github.com/bentbr/r_data_core_go/internal/domain/services/versioning"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/repositories"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// Handlers implements the entities/{type}[/{uuid}] CRUD surface,
// plus the version-history endpoints over the same pre-image
// snapshots entity.Store.Update takes on every write.
type Handlers struct {
	entities *entity.Store
	defs     *entitydef.Store
	registry *repositories.EntitiesRegistryRepository
	versions *versioning.Store
	log      *logger.Logger
}

func NewHandlers(entities *entity.Store, defs *entitydef.Store, registry *repositories.EntitiesRegistryRepository, versions *versioning.Store, log *logger.Logger) *Handlers {
	return &Handlers{entities: entities, defs: defs, registry: registry, versions: versions, log: log}
}

type entityDTO struct {
	UUID       string                 `json:"uuid"`
	EntityType string                 `json:"entity_type"`
	EntityKey  string                 `json:"entity_key"`
	Path       string                 `json:"path"`
	ParentUUID string                 `json:"parent_uuid,omitempty"`
	FieldData  map[string]interface{} `json:"field_data"`
	Published  bool                   `json:"published"`
	Version    int                    `json:"version"`
	CreatedBy  string                 `json:"created_by,omitempty"`
	UpdatedBy  string                 `json:"updated_by,omitempty"`
}

func toEntityDTO(e *domainentities.Entity) entityDTO {
	return entityDTO{
		UUID:       e.UUID,
		EntityType: e.EntityType,
		EntityKey:  e.EntityKey,
		Path:       e.Path,
		ParentUUID: e.ParentUUID,
		FieldData:  e.FieldData,
		Published:  e.Published,
		Version:    e.Version,
		CreatedBy:  e.CreatedBy,
		UpdatedBy:  e.UpdatedBy,
	}
}

type writeRequest struct {
	UUID       string                 `json:"uuid"`
	UpdateKey  string                 `json:"update_key"`
	EntityKey  string                 `json:"entity_key"`
	ParentUUID string                 `json:"parent_uuid"`
	Path       string                 `json:"path"`
	FieldData  map[string]interface{} `json:"field_data"`
	Published  bool                   `json:"published"`
}

// definitionFor loads the EntityDefinition named by the {type} path
// parameter, the scoping every entities/ route shares.
func (h *Handlers) definitionFor(c *gin.Context) (*domainentities.EntityDefinition, bool) {
	entityType, ok := common.ParsePathParam(c, "type")
	if !ok {
		return nil, false
	}
	def, err := h.defs.GetByType(c.Request.Context(), entityType)
	if err != nil {
		common.RespondError(c, err)
		return nil, false
	}
	return def, true
}

// List godoc
// @Summary List entities of a type
// @Tags entities
// @Produce json
// @Param type path string true "Entity type"
// @Param path_prefix query string false "Restrict to descendants of this path"
// @Param page query int false "Page number"
// @Param per_page query int false "Page size"
// @Success 200 {array} entityDTO
// @Security BearerAuth
// @Router /entities/{type} [get]
func (h *Handlers) List(c *gin.Context) {
	def, ok := h.definitionFor(c)
	if !ok {
		return
	}
	page := common.ExtractPagination(c)

	var (
		rows  []repositories.RegistryEntry
		total int
		err   error
	)
	if prefix := c.Query("path_prefix"); prefix != "" {
		rows, total, err = h.registry.ListByPathPrefix(c.Request.Context(), def.EntityType, prefix, page.Limit, page.Offset)
	} else {
		rows, total, err = h.registry.ListByType(c.Request.Context(), def.EntityType, page.Limit, page.Offset)
	}
	if err != nil {
		common.RespondError(c, err)
		return
	}

	out := make([]entityDTO, 0, len(rows))
	for _, row := range rows {
		e, err := h.entities.GetByUUID(c.Request.Context(), def, row.UUID)
		if err != nil {
			continue
		}
		out = append(out, toEntityDTO(e))
	}
	common.RespondPage(c, out, total, page.Page, page.Limit)
}

// Get godoc
// @Summary Get an entity by UUID
// @Tags entities
// @Produce json
// @Param type path string true "Entity type"
// @Param uuid path string true "Entity UUID"
// @Success 200 {object} entityDTO
// @Security BearerAuth
// @Router /entities/{type}/{uuid} [get]
func (h *Handlers) Get(c *gin.Context) {
	def, ok := h.definitionFor(c)
	if !ok {
		return
	}
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	e, err := h.entities.GetByUUID(c.Request.Context(), def, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, toEntityDTO(e))
}

// Create godoc
// @Summary Create an entity
// @Tags entities
// @Accept json
// @Produce json
// @Param type path string true "Entity type"
// @Param body body writeRequest true "Entity field data"
// @Success 201 {object} entityDTO
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /entities/{type} [post]
func (h *Handlers) Create(c *gin.Context) {
	def, ok := h.definitionFor(c)
	if !ok {
		return
	}
	var req writeRequest
	if !common.BindJSON(c, &req) {
		return
	}

	e, err := h.entities.Create(c.Request.Context(), &entity.WriteRequest{
		Definition: def,
		UUID:       req.UUID,
		EntityKey:  req.EntityKey,
		ParentUUID: req.ParentUUID,
		Path:       req.Path,
		FieldData:  req.FieldData,
		Published:  req.Published,
		Actor:      actorFrom(c),
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondCreated(c, toEntityDTO(e))
}

// Update godoc
// @Summary Update an entity
// @Tags entities
// @Accept json
// @Produce json
// @Param type path string true "Entity type"
// @Param uuid path string true "Entity UUID"
// @Param body body writeRequest true "Entity field data"
// @Success 200 {object} entityDTO
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /entities/{type}/{uuid} [put]
func (h *Handlers) Update(c *gin.Context) {
	def, ok := h.definitionFor(c)
	if !ok {
		return
	}
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	var req writeRequest
	if !common.BindJSON(c, &req) {
		return
	}

	e, err := h.entities.Update(c.Request.Context(), &entity.WriteRequest{
		Definition: def,
		UUID:       id,
		UpdateKey:  req.UpdateKey,
		ParentUUID: req.ParentUUID,
		Path:       req.Path,
		FieldData:  req.FieldData,
		Published:  req.Published,
		Actor:      actorFrom(c),
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, toEntityDTO(e))
}

// Versions godoc
// @Summary List an entity's version history
// @Tags entities
// @Produce json
// @Param type path string true "Entity type"
// @Param uuid path string true "Entity UUID"
// @Success 200 {array} domainentities.VersionedSnapshot
// @Security BearerAuth
// @Router /entities/{type}/{uuid}/versions [get]
func (h *Handlers) Versions(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	snapshots, err := h.versions.List(c.Request.Context(), domainentities.TargetEntity, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, snapshots)
}

// Version godoc
// @Summary Get one numbered version of an entity
// @Tags entities
// @Produce json
// @Param type path string true "Entity type"
// @Param uuid path string true "Entity UUID"
// @Param n path int true "Version number"
// @Success 200 {object} domainentities.VersionedSnapshot
// @Security BearerAuth
// @Router /entities/{type}/{uuid}/versions/{n} [get]
func (h *Handlers) Version(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	n, ok := common.ParsePathParam(c, "n")
	if !ok {
		return
	}
	num := parsePositiveInt(n)
	if num <= 0 {
		common.RespondBadRequest(c, "version number must be a positive integer")
		return
	}
	snapshot, err := h.versions.Get(c.Request.Context(), domainentities.TargetEntity, id, num)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, snapshot)
}

// Children godoc
// @Summary List an entity's direct children
// @Description Reads the registry's materialized path index rather than the entity table directly.
// @Tags entities
// @Produce json
// @Param type path string true "Entity type"
// @Param uuid path string true "Entity UUID"
// @Success 200 {array} repositories.RegistryEntry
// @Security BearerAuth
// @Router /entities/{type}/{uuid}/children [get]
func (h *Handlers) Children(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	children, err := h.registry.Children(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, children)
}

func actorFrom(c *gin.Context) string {
	if principal, ok := mw.PrincipalFromContext(c); ok {
		return principal.UUID()
	}
	return ""
}

func parsePositiveInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return -1
	}
	return n
}
