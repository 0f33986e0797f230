package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vanguard-ops/console/internal/models"
	"github.com/vanguard-ops/console/internal/services"
	"github.com/vanguard-ops/console/internal/util"
)

// ActorKey is the context key holding the resolved *services.ActorContext.
const ActorKey = "actor"

const maxUserAgent = 512

// Auth resolves the bearer token to a live session and the caller's role in
// the session's community. Tokens whose session was revoked are rejected.
func Auth(tokens *services.TokenService, roles *services.RoleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required", "code": services.CodeForbidden})
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required", "code": services.CodeForbidden})
			return
		}
		claims, err := tokens.Authenticate(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			if services.CodeOf(err) == services.CodeForbidden {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": services.MessageOf(err), "code": services.CodeForbidden})
				return
			}
			AbortWithError(c, err)
			return
		}
		actor, err := roles.ResolveActor(c.Request.Context(), claims.Subject, claims.CommunityID, claims.SessionID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		actor.IP = c.ClientIP()
		actor.UserAgent = util.TruncateForLog(c.Request.UserAgent(), maxUserAgent)

		c.Set(ActorKey, actor)
		c.Set("userID", actor.UserID)
		setRequestLogger(c, GetRequestLogger(c).WithFields(logrus.Fields{
			"user_id":      actor.UserID,
			"community_id": actor.CommunityID,
		}))
		c.Next()
	}
}

// ActorFrom returns the actor stored by Auth.
func ActorFrom(c *gin.Context) (*services.ActorContext, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return nil, false
	}
	actor, ok := v.(*services.ActorContext)
	return actor, ok && actor != nil
}

// RequirePermission rejects callers lacking perm before the handler runs.
// Services authorize again; this only short-circuits read routes.
func RequirePermission(perm models.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": services.CodeForbidden})
			return
		}
		if err := services.Authorize(actor, perm); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
