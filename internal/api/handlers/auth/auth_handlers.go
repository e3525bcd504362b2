// Package auth implements the admin authentication endpoints:
// login, refresh, logout, revoke-all and register. Grounded on the
// teacher's internal/api/handlers/auth/auth_handlers.go for handler
// shape (a struct holding its dependencies, one method per route,
// request structs bound via gin's ShouldBindJSON) adapted from a
// signup/2FA flow to the credential+permission+token pipeline.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bentbr/r_data_core_go/internal/api/handlers/common"
	mw "github.com/bentbr/r_data_core_go/internal/api/middleware"
	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/credential"
	"github.com/bentbr/r_data_core_go/internal/domain/services/permission"
	"github.com/bentbr/r_data_core_go/internal/domain/services/token"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// HumanUserStore is the persistence port this handler needs from
// repositories.HumanUserRepository.
type HumanUserStore interface {
	GetByUUID(ctx context.Context, id string) (*entities.HumanUser, error)
	GetByUsername(ctx context.Context, username string) (*entities.HumanUser, error)
	Create(ctx context.Context, u *entities.HumanUser) error
	RecordFailedLogin(ctx context.Context, id string, lockedUntil *time.Time) error
	ResetFailedLogins(ctx context.Context, id string) error
}

const (
	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute
)

// Handlers implements the login/refresh/logout/revoke-all/register
// endpoints
type Handlers struct {
	users   HumanUserStore
	tokens  *token.Service
	schemes permission.SchemeSource
	log     *logger.Logger
}

func NewHandlers(users HumanUserStore, tokens *token.Service, schemes permission.SchemeSource, log *logger.Logger) *Handlers {
	return &Handlers{users: users, tokens: tokens, schemes: schemes, log: log}
}

type loginRequest struct {
	Username string `json:"username" binding:"required" validate:"required,safe_string"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	UserUUID         string    `json:"user_uuid"`
	Username         string    `json:"username"`
	Role             string    `json:"role"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Login godoc
// @Summary Log in with a username and password
// @Tags auth
// @Accept json
// @Produce json
// @Param body body loginRequest true "Credentials"
// @Success 200 {object} tokenResponse
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if !common.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.GetByUsername(ctx, req.Username)
	if err != nil {
		common.RespondError(c, rerrors.Auth("invalid username or password"))
		return
	}

	if user.IsLocked(time.Now()) {
		common.RespondError(c, rerrors.New(rerrors.KindForbidden, "account is temporarily locked"))
		return
	}
	if !user.IsActive {
		common.RespondError(c, rerrors.New(rerrors.KindForbidden, "account is inactive"))
		return
	}

	ok, err := credential.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		h.recordFailedLogin(ctx, user)
		common.RespondError(c, rerrors.Auth("invalid username or password"))
		return
	}
	_ = h.users.ResetFailedLogins(ctx, user.UUID)

	h.issueAndRespond(c, entities.Principal{Kind: entities.PrincipalHumanUser, User: user}, user.Username)
}

func (h *Handlers) recordFailedLogin(ctx context.Context, user *entities.HumanUser) {
	var lockedUntil *time.Time
	if user.FailedLoginCount+1 >= maxFailedLogins {
		until := time.Now().Add(lockoutDuration)
		lockedUntil = &until
	}
	if err := h.users.RecordFailedLogin(ctx, user.UUID, lockedUntil); err != nil {
		h.log.Warn("failed to record failed login", "error", err, "user_uuid", user.UUID)
	}
}

func (h *Handlers) issueAndRespond(c *gin.Context, principal entities.Principal, username string) {
	ctx := c.Request.Context()
	perms, err := h.schemes.MergedPermissions(ctx, principal)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	pair, err := h.tokens.Issue(ctx, principal, permission.Flatten(perms))
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		UserUUID:         principal.UUID(),
		Username:         username,
		Role:             principal.EffectiveRoleName(),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh godoc
// @Summary Exchange a refresh token for a new access/refresh pair
// @Tags auth
// @Accept json
// @Produce json
// @Param body body refreshRequest true "Refresh token"
// @Success 200 {object} tokenResponse
// @Failure 401 {object} map[string]string
// @Router /auth/refresh [post]
func (h *Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if !common.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	ownerUUID, err := h.tokens.ResolveRefreshOwner(ctx, req.RefreshToken)
	if err != nil {
		common.RespondError(c, rerrors.Auth("invalid refresh token"))
		return
	}

	user, err := h.users.GetByUUID(ctx, ownerUUID)
	if err != nil {
		common.RespondError(c, rerrors.Auth("invalid refresh token"))
		return
	}
	principal := entities.Principal{Kind: entities.PrincipalHumanUser, User: user}

	perms, err := h.schemes.MergedPermissions(ctx, principal)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	pair, err := h.tokens.Refresh(ctx, req.RefreshToken, principal, permission.Flatten(perms))
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		UserUUID:         principal.UUID(),
		Username:         user.Username,
		Role:             principal.EffectiveRoleName(),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

// Logout godoc
// @Summary Revoke a refresh token
// @Description Revoking an already-revoked or unknown token is not an error.
// @Tags auth
// @Accept json
// @Produce json
// @Param body body refreshRequest true "Refresh token"
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	var req refreshRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if err := h.tokens.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, gin.H{"message": "logged out"})
}

// RevokeAll godoc
// @Summary Revoke every refresh token the caller owns
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]int
// @Security BearerAuth
// @Router /auth/revoke-all [post]
func (h *Handlers) RevokeAll(c *gin.Context) {
	principal, ok := mw.PrincipalFromContext(c)
	if !ok {
		common.RespondError(c, rerrors.Auth("authentication required"))
		return
	}
	count, err := h.tokens.RevokeAll(c.Request.Context(), principal.UUID())
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, gin.H{"revoked_count": count})
}

type registerRequest struct {
	Username string `json:"username" binding:"required" validate:"required,safe_string"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required" validate:"required,strong_password"`
}

// Register godoc
// @Summary Register a new human user
// @Description The new account is active only when the caller is already authenticated (an admin provisioning another admin); otherwise it is created pending. The response is always the same neutral message regardless of outcome, so the endpoint never leaks whether a username already exists.
// @Tags auth
// @Accept json
// @Produce json
// @Param body body registerRequest true "New account"
// @Success 200 {object} map[string]string
// @Router /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req registerRequest
	if !common.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	_, authenticated := mw.PrincipalFromContext(c)

	hash, err := credential.HashPassword(req.Password)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	user := &entities.HumanUser{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         entities.CustomRole("Member"),
		IsActive:     authenticated,
	}
	if err := h.users.Create(ctx, user); err != nil {
		if rerrors.KindOf(err) != rerrors.KindConflict {
			h.log.Error("failed to create user during registration", "error", err)
		}
	}

	common.RespondOK(c, gin.H{"message": "registration received"})
}
