package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/database"
	"github.com/vanguard-ops/console/internal/models"
	"github.com/vanguard-ops/console/internal/services"
)

type authEnv struct {
	db     *gorm.DB
	tokens *services.TokenService
	roles  *services.RoleService
	router *gin.Engine
	ladder map[models.BuiltinRole]models.Role
	cid    string
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	db, err := database.Open(database.Options{Path: filepath.Join(t.TempDir(), "auth.db")})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	audit := services.NewAuditService(db)
	env := &authEnv{
		db:     db,
		tokens: services.NewTokenService(db, "middleware-test-secret-0123456789", time.Hour),
		roles:  services.NewRoleService(db, audit),
	}
	community := models.Community{Name: "Alpha"}
	require.NoError(t, db.Create(&community).Error)
	env.cid = community.ID
	env.ladder, err = env.roles.EnsureSystemRoles(context.Background(), community.ID)
	require.NoError(t, err)

	env.router = gin.New()
	env.router.Use(RequestID())
	api := env.router.Group("/api", Auth(env.tokens, env.roles))
	api.GET("/me", func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": actor.UserID, "role": actor.RoleName, "ip": actor.IP})
	})
	api.GET("/audit", RequirePermission(models.PermAuditRead), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return env
}

func (e *authEnv) token(t *testing.T, role models.BuiltinRole) (string, string) {
	t.Helper()
	user := models.User{Email: string(role) + "@x.test", Name: string(role)}
	require.NoError(t, e.db.Create(&user).Error)
	require.NoError(t, e.db.Create(&models.Membership{CommunityID: e.cid, UserID: user.ID, RoleID: e.ladder[role].ID}).Error)
	token, _, err := e.tokens.IssueSession(context.Background(), user.ID, e.cid, "", "")
	require.NoError(t, err)
	return token, user.ID
}

func (e *authEnv) get(path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestAuth_RejectsMissingOrMalformedCredentials(t *testing.T) {
	env := newAuthEnv(t)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "Authorization header required"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "Bearer token required"},
		{"empty bearer", "Bearer   ", "Bearer token required"},
		{"garbage token", "Bearer nope", "invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.get("/api/me", tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tt.want, body["error"])
			assert.Equal(t, "forbidden", body["code"])
		})
	}
}

func TestAuth_ResolvesActor(t *testing.T) {
	env := newAuthEnv(t)
	token, userID := env.token(t, models.RoleMod)

	w := env.get("/api/me", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, userID, body["user_id"])
	assert.Equal(t, string(models.RoleMod), body["role"])
	assert.NotEmpty(t, body["ip"])
}

func TestAuth_RevokedSession(t *testing.T) {
	env := newAuthEnv(t)
	token, userID := env.token(t, models.RoleAdmin)
	require.NoError(t, env.db.Where("user_id = ?", userID).Delete(&models.Session{}).Error)

	w := env.get("/api/me", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "session revoked", decodeBody(t, w)["error"])
}

func TestAuth_MembershipRemoved(t *testing.T) {
	env := newAuthEnv(t)
	token, userID := env.token(t, models.RoleAdmin)
	require.NoError(t, env.db.Where("user_id = ?", userID).Delete(&models.Membership{}).Error)

	w := env.get("/api/me", "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequirePermission(t *testing.T) {
	env := newAuthEnv(t)
	modToken, _ := env.token(t, models.RoleMod)
	adminToken, adminID := env.token(t, models.RoleAdmin)

	w := env.get("/api/audit", "Bearer "+modToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decodeBody(t, w)["code"])

	w = env.get("/api/audit", "Bearer "+adminToken)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// A disabled account with a surviving session is refused by code.
	require.NoError(t, env.db.Model(&models.User{}).Where("id = ?", adminID).Update("disabled_at", time.Now().UTC()).Error)
	w = env.get("/api/audit", "Bearer "+adminToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "disabled", decodeBody(t, w)["code"])
}

func TestRequirePermissionWithoutAuth(t *testing.T) {
	router := gin.New()
	router.GET("/x", RequirePermission(models.PermAuditRead), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
