package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vanguard-ops/console/internal/api/middleware"
	"github.com/vanguard-ops/console/internal/models"
	"github.com/vanguard-ops/console/internal/services"
)

// ApprovalHandler lists and decides two-person approval requests.
type ApprovalHandler struct {
	commands *services.CommandService
}

func NewApprovalHandler(commands *services.CommandService) *ApprovalHandler {
	return &ApprovalHandler{commands: commands}
}

func (h *ApprovalHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/approvals", h.List)
	r.POST("/approvals/:id/approve", h.Approve)
	r.POST("/approvals/:id/reject", h.Reject)
}

type decisionRequest struct {
	Reason string `json:"reason"`
}

func (h *ApprovalHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	status := models.ApprovalStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	switch status {
	case "", models.ApprovalPending, models.ApprovalApproved, models.ApprovalRejected:
	default:
		badRequest(c, "status must be PENDING, APPROVED or REJECTED")
		return
	}
	take, ok := queryInt(c, "take")
	if !ok {
		badRequest(c, "take must be a positive number")
		return
	}
	approvals, err := h.commands.ListApprovals(c.Request.Context(), actor, status, take)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

func (h *ApprovalHandler) Approve(c *gin.Context) {
	h.decide(c, services.DecisionApprove)
}

func (h *ApprovalHandler) Reject(c *gin.Context) {
	h.decide(c, services.DecisionReject)
}

func (h *ApprovalHandler) decide(c *gin.Context, decision services.Decision) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req decisionRequest
	// The body is optional; an empty one decodes to io.EOF.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body")
		return
	}
	if len(req.Reason) > 500 {
		badRequest(c, "reason must be at most 500 characters")
		return
	}
	result, err := h.commands.Decide(c.Request.Context(), actor, c.Param("id"), decision, req.Reason)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
