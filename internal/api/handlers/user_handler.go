package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vanguard-ops/console/internal/api/middleware"
	"github.com/vanguard-ops/console/internal/services"
)

// UserHandler manages staff roles and account state within a community.
type UserHandler struct {
	roles     *services.RoleService
	dashboard *services.DashboardService
}

func NewUserHandler(roles *services.RoleService, dashboard *services.DashboardService) *UserHandler {
	return &UserHandler{roles: roles, dashboard: dashboard}
}

func (h *UserHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/roles", h.CreateRole)
	r.PUT("/users/:id/role", h.AssignRole)
	r.POST("/users/:id/disable", h.DisableUser)
	r.POST("/users/:id/enable", h.EnableUser)
}

type assignRoleRequest struct {
	RoleID string `json:"role_id" binding:"required"`
}

func (h *UserHandler) CreateRole(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req services.CustomRoleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid role definition")
		return
	}
	role, err := h.roles.CreateCustomRole(c.Request.Context(), actor, req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

func (h *UserHandler) AssignRole(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "role_id is required")
		return
	}
	membership, err := h.roles.AssignRole(c.Request.Context(), actor, c.Param("id"), req.RoleID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	h.invalidate(c, actor.CommunityID)
	c.JSON(http.StatusOK, membership)
}

func (h *UserHandler) DisableUser(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	if err := h.roles.DisableUser(c.Request.Context(), actor, c.Param("id")); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	h.invalidate(c, actor.CommunityID)
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "disabled": true})
}

func (h *UserHandler) EnableUser(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	if err := h.roles.EnableUser(c.Request.Context(), actor, c.Param("id")); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	h.invalidate(c, actor.CommunityID)
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "disabled": false})
}

// invalidate drops the cached dashboard after a staff change.
func (h *UserHandler) invalidate(c *gin.Context, communityID string) {
	if h.dashboard == nil {
		return
	}
	if err := h.dashboard.Invalidate(c.Request.Context(), communityID); err != nil {
		middleware.GetRequestLogger(c).WithError(err).Warn("dashboard cache invalidation failed")
	}
}
