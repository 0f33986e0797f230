package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vanguard-ops/console/internal/api/middleware"
	"github.com/vanguard-ops/console/internal/models"
	"github.com/vanguard-ops/console/internal/services"
)

// AuditHandler serves the community's audit ledger.
type AuditHandler struct {
	audit *services.AuditService
}

func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

func (h *AuditHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit", middleware.RequirePermission(models.PermAuditRead), h.List)
	r.GET("/audit/export", h.Export)
	r.GET("/audit/verify", middleware.RequirePermission(models.PermAuditRead), h.Verify)
}

// parseFilter reads user_id, event_type, from and to. Times are RFC 3339.
func parseFilter(c *gin.Context, communityID string) (services.AuditFilter, error) {
	f := services.AuditFilter{
		CommunityID: &communityID,
		UserID:      strings.TrimSpace(c.Query("user_id")),
		EventType:   strings.TrimSpace(c.Query("event_type")),
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := strings.TrimSpace(c.Query(bound.name))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("%s must be an RFC 3339 timestamp", bound.name)
		}
		*bound.dst = &t
	}
	return f, nil
}

// List returns one page of ledger entries, newest first, with the
// integrity verdict of that page.
func (h *AuditHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	filter, err := parseFilter(c, actor.CommunityID)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	take, ok := queryInt(c, "take")
	if !ok {
		badRequest(c, "take must be a positive number")
		return
	}
	var cursor int64
	if raw := strings.TrimSpace(c.Query("cursor")); raw != "" {
		cursor, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || cursor < 0 {
			badRequest(c, "cursor must be a chain index")
			return
		}
	}

	result, err := h.audit.Query(c.Request.Context(), filter, services.AuditPage{Take: take, Cursor: cursor})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Export streams matching entries as CSV.
func (h *AuditHandler) Export(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	if err := services.AuthorizeAuditExport(actor); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	filter, err := parseFilter(c, actor.CommunityID)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	var buf strings.Builder
	n, err := h.audit.Export(c.Request.Context(), filter, &buf)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	middleware.GetRequestLogger(c).WithField("rows", n).Info("audit log exported")
	filename := fmt.Sprintf("audit-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(buf.String()))
}

// Verify checks the full chain of the actor's community.
func (h *AuditHandler) Verify(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	status, err := h.audit.VerifyScope(c.Request.Context(), &actor.CommunityID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
