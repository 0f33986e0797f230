package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vanguard-ops/console/internal/api/middleware"
	"github.com/vanguard-ops/console/internal/services"
)

// CommandHandler exposes the governed command catalog.
type CommandHandler struct {
	commands *services.CommandService
}

func NewCommandHandler(commands *services.CommandService) *CommandHandler {
	return &CommandHandler{commands: commands}
}

func (h *CommandHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/commands", h.List)
	r.POST("/commands/:id/run", h.Run)
	r.PUT("/commands/:id/toggle", h.Toggle)
}

type runCommandRequest struct {
	Input map[string]interface{} `json:"input"`
}

type toggleCommandRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *CommandHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	commands, err := h.commands.ListCommands(c.Request.Context(), actor)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": commands})
}

// Run executes a command, or answers 202 with the approval id when the
// command was queued for a second decision.
func (h *CommandHandler) Run(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req runCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	result, err := h.commands.Submit(c.Request.Context(), actor, c.Param("id"), req.Input)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	status := http.StatusOK
	if result.Status == services.RunPendingApproval {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

func (h *CommandHandler) Toggle(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req toggleCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "enabled is required")
		return
	}
	if err := h.commands.ToggleCommand(c.Request.Context(), actor, c.Param("id"), *req.Enabled); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"command_id": c.Param("id"), "enabled": *req.Enabled})
}
