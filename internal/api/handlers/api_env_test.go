package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/api/middleware"
	"github.com/vanguard-ops/console/internal/cache"
	"github.com/vanguard-ops/console/internal/models"
	"github.com/vanguard-ops/console/internal/services"
)

// apiEnv is one community served by every handler behind the auth
// middleware, as mounted in production.
type apiEnv struct {
	db        *gorm.DB
	router    *gin.Engine
	audit     *services.AuditService
	roles     *services.RoleService
	settings  *services.SecuritySettingsService
	events    *services.SecurityEventService
	commands  *services.CommandService
	dashboard *services.DashboardService
	tokens    *services.TokenService
	community models.Community
	ladder    map[models.BuiltinRole]models.Role
}

type apiUser struct {
	ID    string
	Token string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := OpenTestDB(t)

	e := &apiEnv{db: db}
	e.audit = services.NewAuditService(db)
	e.roles = services.NewRoleService(db, e.audit)
	e.settings = services.NewSecuritySettingsService(db, e.audit, services.SettingsDefaults{Require2FAForPrivileged: true, TwoPersonRule: true})
	e.events = services.NewSecurityEventService(db, e.audit, e.settings)
	e.commands = services.NewCommandService(db, e.audit, e.roles, e.settings, e.events, services.DefaultCommandRegistry(), nil)
	e.dashboard = services.NewDashboardService(db, cache.NewMemory(), time.Minute)
	e.tokens = services.NewTokenService(db, "handlers-test-secret-0123456789ab", time.Hour)

	e.community = models.Community{Name: "Alpha"}
	require.NoError(t, db.Create(&e.community).Error)
	ladder, err := e.roles.EnsureSystemRoles(context.Background(), e.community.ID)
	require.NoError(t, err)
	e.ladder = ladder

	e.router = gin.New()
	e.router.Use(middleware.RequestID())
	e.router.GET("/api/v1/health", NewHealthHandler(db).Health)
	protected := e.router.Group("/api/v1")
	protected.Use(middleware.Auth(e.tokens, e.roles))
	NewAuditHandler(e.audit).RegisterRoutes(protected)
	NewCommandHandler(e.commands).RegisterRoutes(protected)
	NewApprovalHandler(e.commands).RegisterRoutes(protected)
	NewSecurityHandler(e.settings, e.events, e.dashboard, e.commands).RegisterRoutes(protected)
	NewUserHandler(e.roles, e.dashboard).RegisterRoutes(protected)
	return e
}

func (e *apiEnv) login(t *testing.T, role models.BuiltinRole, email string) apiUser {
	t.Helper()
	return e.loginAs(t, e.ladder[role].ID, email)
}

func (e *apiEnv) loginAs(t *testing.T, roleID, email string) apiUser {
	t.Helper()
	user := models.User{Email: email, Name: email}
	require.NoError(t, e.db.Create(&user).Error)
	require.NoError(t, e.db.Create(&models.Membership{CommunityID: e.community.ID, UserID: user.ID, RoleID: roleID}).Error)
	token, _, err := e.tokens.IssueSession(context.Background(), user.ID, e.community.ID, "203.0.113.5", "handlers-test")
	require.NoError(t, err)
	return apiUser{ID: user.ID, Token: token}
}

func (e *apiEnv) do(t *testing.T, method, path string, as apiUser, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	case io.Reader:
		// Readers other than bytes/strings readers have no known length.
		reader = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as.Token != "" {
		req.Header.Set("Authorization", "Bearer "+as.Token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// relax turns off the high-risk friction that individual tests do not
// exercise.
func (e *apiEnv) relax(t *testing.T, owner apiUser, overrides map[string]interface{}) {
	t.Helper()
	body := map[string]interface{}{
		"requireSensitiveModeForHighRisk": false,
		"highRiskCommandCooldownSeconds":  0,
	}
	for k, v := range overrides {
		body[k] = v
	}
	w := e.do(t, http.MethodPut, "/api/v1/security/settings", owner, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
