// Package permissionschemes implements the permission-scheme
// management endpoints: scheme CRUD, plus the
// assign/unassign-to-principal actions that the PermissionEvaluator's
// cache layer (internal/domain/services/permission) must be told about
// so a grant or revoke takes effect on the next request rather than at
// the end of the cache's TTL. Grounded on the existing per-resource
// handler shape, same as internal/api/handlers/workflows.
package permissionschemes

import (
	"github.com/gin-gonic/gin"

	"github.com/bentbr/r_data_core_go/internal/api/handlers/common"
	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/permission"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// Handlers implements the permission_schemes CRUD and
// assign/unassign surface
type Handlers struct {
	store *permission.Store
	cache *permission.Cache
}

func NewHandlers(store *permission.Store, cache *permission.Cache) *Handlers {
	return &Handlers{store: store, cache: cache}
}

type schemeDTO struct {
	UUID        string                           `json:"uuid"`
	Name        string                           `json:"name"`
	Description string                           `json:"description,omitempty"`
	IsSystem    bool                              `json:"is_system"`
	Roles       map[string][]entities.Permission `json:"roles"`
}

func toSchemeDTO(s *entities.PermissionScheme) schemeDTO {
	return schemeDTO{
		UUID:        s.UUID,
		Name:        s.Name,
		Description: s.Description,
		IsSystem:    s.IsSystem,
		Roles:       s.Roles,
	}
}

type schemeRequest struct {
	Name        string                           `json:"name" binding:"required" validate:"required,safe_string"`
	Description string                           `json:"description" validate:"omitempty,safe_string"`
	Roles       map[string][]entities.Permission `json:"roles"`
}

// List godoc
// @Summary List permission schemes
// @Tags permission_schemes
// @Produce json
// @Success 200 {array} schemeDTO
// @Security BearerAuth
// @Router /permission_schemes [get]
func (h *Handlers) List(c *gin.Context) {
	schemes, err := h.store.List(c.Request.Context())
	if err != nil {
		common.RespondError(c, err)
		return
	}
	out := make([]schemeDTO, 0, len(schemes))
	for _, s := range schemes {
		out = append(out, toSchemeDTO(s))
	}
	common.RespondOK(c, out)
}

// Get godoc
// @Summary Get a permission scheme by UUID
// @Tags permission_schemes
// @Produce json
// @Param uuid path string true "Permission scheme UUID"
// @Success 200 {object} schemeDTO
// @Security BearerAuth
// @Router /permission_schemes/{uuid} [get]
func (h *Handlers) Get(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	s, err := h.store.GetScheme(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, toSchemeDTO(s))
}

// Create godoc
// @Summary Create a permission scheme
// @Tags permission_schemes
// @Accept json
// @Produce json
// @Param body body schemeRequest true "Permission scheme"
// @Success 201 {object} schemeDTO
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /permission_schemes [post]
func (h *Handlers) Create(c *gin.Context) {
	var req schemeRequest
	if !common.BindJSON(c, &req) {
		return
	}
	scheme := &entities.PermissionScheme{
		Name:        req.Name,
		Description: req.Description,
	}
	if err := scheme.SetRoles(req.Roles); err != nil {
		common.RespondError(c, err)
		return
	}
	created, err := h.store.Create(c.Request.Context(), scheme)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondCreated(c, toSchemeDTO(created))
}

// Update godoc
// @Summary Update a permission scheme
// @Description A system scheme rejects the write with a validation error; system schemes are immutable.
// @Tags permission_schemes
// @Accept json
// @Produce json
// @Param uuid path string true "Permission scheme UUID"
// @Param body body schemeRequest true "Permission scheme"
// @Success 200 {object} schemeDTO
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /permission_schemes/{uuid} [put]
func (h *Handlers) Update(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	var req schemeRequest
	if !common.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	existing, err := h.store.GetScheme(ctx, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	if existing.IsSystem {
		common.RespondError(c, rerrors.Validation("system permission schemes are immutable"))
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	if err := existing.SetRoles(req.Roles); err != nil {
		common.RespondError(c, err)
		return
	}
	if err := h.store.Update(ctx, existing); err != nil {
		common.RespondError(c, err)
		return
	}
	h.cache.InvalidateScheme(ctx, id)
	common.RespondOK(c, toSchemeDTO(existing))
}

// Delete godoc
// @Summary Delete a permission scheme
// @Description A system scheme cannot be deleted.
// @Tags permission_schemes
// @Param uuid path string true "Permission scheme UUID"
// @Success 204 "No Content"
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /permission_schemes/{uuid} [delete]
func (h *Handlers) Delete(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	existing, err := h.store.GetScheme(ctx, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	if existing.IsSystem {
		common.RespondError(c, rerrors.Validation("system permission schemes cannot be deleted"))
		return
	}
	if err := h.store.Delete(ctx, id); err != nil {
		common.RespondError(c, err)
		return
	}
	h.cache.InvalidateSchemeDeleted(ctx, id, existing.Roles)
	common.RespondNoContent(c)
}

type assignRequest struct {
	SchemeUUID string `json:"scheme_uuid" binding:"required"`
}

// AssignToUser godoc
// @Summary Assign a permission scheme to a human user
// @Tags permission_schemes
// @Accept json
// @Param uuid path string true "User UUID"
// @Param body body assignRequest true "Scheme to assign"
// @Success 204 "No Content"
// @Security BearerAuth
// @Router /users/{uuid}/permission_schemes [post]
func (h *Handlers) AssignToUser(c *gin.Context) {
	userUUID, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	var req assignRequest
	if !common.BindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if err := h.store.AssignToUser(ctx, userUUID, req.SchemeUUID); err != nil {
		common.RespondError(c, err)
		return
	}
	h.cache.InvalidateUser(ctx, userUUID)
	common.RespondNoContent(c)
}

// UnassignFromUser godoc
// @Summary Unassign a permission scheme from a human user
// @Tags permission_schemes
// @Param uuid path string true "User UUID"
// @Param scheme path string true "Permission scheme UUID"
// @Success 204 "No Content"
// @Security BearerAuth
// @Router /users/{uuid}/permission_schemes/{scheme} [delete]
func (h *Handlers) UnassignFromUser(c *gin.Context) {
	userUUID, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	schemeUUID, ok := common.ParsePathParam(c, "scheme")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.store.UnassignFromUser(ctx, userUUID, schemeUUID); err != nil {
		common.RespondError(c, err)
		return
	}
	h.cache.InvalidateUser(ctx, userUUID)
	common.RespondNoContent(c)
}

// AssignToAPIKey godoc
// @Summary Assign a permission scheme to an API key
// @Tags permission_schemes
// @Accept json
// @Param uuid path string true "API key UUID"
// @Param body body assignRequest true "Scheme to assign"
// @Success 204 "No Content"
// @Security BearerAuth
// @Router /api_keys/{uuid}/permission_schemes [post]
func (h *Handlers) AssignToAPIKey(c *gin.Context) {
	keyUUID, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	var req assignRequest
	if !common.BindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if err := h.store.AssignToAPIKey(ctx, keyUUID, req.SchemeUUID); err != nil {
		common.RespondError(c, err)
		return
	}
	h.cache.InvalidateAPIKey(ctx, keyUUID)
	common.RespondNoContent(c)
}

// UnassignFromAPIKey godoc
// @Summary Unassign a permission scheme from an API key
// @Tags permission_schemes
// @Param uuid path string true "API key UUID"
// @Param scheme path string true "Permission scheme UUID"
// @Success 204 "No Content"
// @Security BearerAuth
// @Router /api_keys/{uuid}/permission_schemes/{scheme} [delete]
func (h *Handlers) UnassignFromAPIKey(c *gin.Context) {
	keyUUID, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	schemeUUID, ok := common.ParsePathParam(c, "scheme")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.store.UnassignFromAPIKey(ctx, keyUUID, schemeUUID); err != nil {
		common.RespondError(c, err)
		return
	}
	h.cache.InvalidateAPIKey(ctx, keyUUID)
	common.RespondNoContent(c)
}
