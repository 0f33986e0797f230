package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vanguard-ops/console/internal/api/middleware"
	"github.com/vanguard-ops/console/internal/models"
	"github.com/vanguard-ops/console/internal/services"
)

// SecurityHandler serves community security settings, security events,
// the dashboard and the caller's sensitive mode.
type SecurityHandler struct {
	settings  *services.SecuritySettingsService
	events    *services.SecurityEventService
	dashboard *services.DashboardService
	commands  *services.CommandService
}

func NewSecurityHandler(settings *services.SecuritySettingsService, events *services.SecurityEventService,
	dashboard *services.DashboardService, commands *services.CommandService) *SecurityHandler {
	return &SecurityHandler{settings: settings, events: events, dashboard: dashboard, commands: commands}
}

func (h *SecurityHandler) RegisterRoutes(r *gin.RouterGroup) {
	sec := r.Group("/security")
	sec.GET("/settings", middleware.RequirePermission(models.PermSecurityRead), h.GetSettings)
	sec.PUT("/settings", h.UpdateSettings)
	sec.GET("/events", h.ListEvents)
	// Ingested signals can freeze accounts, so ingestion needs the
	// permission that disabling an account needs.
	sec.POST("/events", middleware.RequirePermission(models.PermUsersDisable), h.RecordEvent)
	sec.GET("/dashboard", h.Dashboard)
	sec.POST("/sensitive-mode", h.EnableSensitiveMode)
	sec.DELETE("/sensitive-mode", h.DisableSensitiveMode)
}

func (h *SecurityHandler) GetSettings(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	settings, err := h.settings.Get(c.Request.Context(), actor.CommunityID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings applies a partial document over the current policy.
// Fields absent from the body keep their value.
func (h *SecurityHandler) UpdateSettings(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	if err := services.Authorize(actor, models.PermSettingsEdit); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	next, err := h.settings.Get(c.Request.Context(), actor.CommunityID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if err := c.ShouldBindJSON(&next); err != nil {
		badRequest(c, "invalid settings document")
		return
	}
	saved, err := h.settings.Update(c.Request.Context(), actor, next)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *SecurityHandler) ListEvents(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	filter := services.SecurityEventFilter{
		EventType:     c.Query("event_type"),
		UserID:        strings.TrimSpace(c.Query("user_id")),
		IncludeGlobal: c.Query("include_global") == "true",
		Cursor:        strings.TrimSpace(c.Query("cursor")),
	}
	if raw := c.Query("severity"); raw != "" {
		severity, ok := models.ParseSeverity(raw)
		if !ok {
			badRequest(c, "severity must be LOW, MEDIUM, HIGH or CRITICAL")
			return
		}
		filter.Severity = severity
	}
	take, ok := queryInt(c, "take")
	if !ok {
		badRequest(c, "take must be a positive number")
		return
	}
	filter.Take = take

	page, err := h.events.List(c.Request.Context(), actor, filter)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type recordEventRequest struct {
	UserID    string                 `json:"user_id"`
	Severity  string                 `json:"severity" binding:"required"`
	EventType string                 `json:"event_type" binding:"required"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// RecordEvent ingests an external signal for the caller's community. The
// subject user, when given, must belong to the same community.
func (h *SecurityHandler) RecordEvent(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "severity and event_type are required")
		return
	}
	severity, ok := models.ParseSeverity(req.Severity)
	if !ok {
		badRequest(c, "severity must be LOW, MEDIUM, HIGH or CRITICAL")
		return
	}
	in := services.SecurityEventInput{
		Severity:  severity,
		EventType: strings.TrimSpace(req.EventType),
		Metadata:  req.Metadata,
	}
	if uid := strings.TrimSpace(req.UserID); uid != "" {
		in.UserID = &uid
	}
	event, err := h.events.RecordFor(c.Request.Context(), actor, in)
	if event == nil && err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	body := gin.H{"event": event}
	if err != nil {
		body["auto_freeze_error"] = services.MessageOf(err)
	}
	c.JSON(http.StatusCreated, body)
}

func (h *SecurityHandler) Dashboard(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	metrics, err := h.dashboard.Metrics(c.Request.Context(), actor)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (h *SecurityHandler) EnableSensitiveMode(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	grant, err := h.commands.EnableSensitiveMode(c.Request.Context(), actor)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "expires_at": grant.ExpiresAt})
}

func (h *SecurityHandler) DisableSensitiveMode(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	if err := h.commands.DisableSensitiveMode(c.Request.Context(), actor); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}
