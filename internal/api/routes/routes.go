package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/api/handlers"
	"github.com/vanguard-ops/console/internal/api/middleware"
	"github.com/vanguard-ops/console/internal/cache"
	"github.com/vanguard-ops/console/internal/config"
	"github.com/vanguard-ops/console/internal/database"
	"github.com/vanguard-ops/console/internal/services"
)

// Services is the wired control plane behind the API.
type Services struct {
	Audit     *services.AuditService
	Roles     *services.RoleService
	Settings  *services.SecuritySettingsService
	Events    *services.SecurityEventService
	Commands  *services.CommandService
	Dashboard *services.DashboardService
	Tokens    *services.TokenService
}

// NewServices builds every service over one database handle. A nil cache
// falls back to an in-process cache.
func NewServices(db *gorm.DB, cfg config.Config, c cache.Cache) *Services {
	if c == nil {
		c = cache.NewMemory()
	}
	audit := services.NewAuditService(db)
	roles := services.NewRoleService(db, audit)
	settings := services.NewSecuritySettingsService(db, audit, services.SettingsDefaults{
		Require2FAForPrivileged: cfg.Security.Require2FA,
		TwoPersonRule:           cfg.Security.TwoPersonRule,
	})
	events := services.NewSecurityEventService(db, audit, settings)
	commands := services.NewCommandService(db, audit, roles, settings, events,
		services.DefaultCommandRegistry(), services.RecordOnlyExecutor{})
	return &Services{
		Audit:     audit,
		Roles:     roles,
		Settings:  settings,
		Events:    events,
		Commands:  commands,
		Dashboard: services.NewDashboardService(db, c, cfg.DashboardTTL),
		Tokens:    services.NewTokenService(db, cfg.JWTSecret, cfg.SessionTTL),
	}
}

// Deps are the optional collaborators of the API. Zero values are valid:
// an in-process cache, no /metrics route and no rate limiting.
type Deps struct {
	Cache    cache.Cache
	Gatherer prometheus.Gatherer
	Limiter  middleware.RateLimiter
}

// Register wires up API routes and performs automatic migrations.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config, deps Deps) (*Services, error) {
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	svc := NewServices(db, cfg, deps.Cache)

	router.GET("/api/v1/health", handlers.NewHealthHandler(db).Health)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	protected := api.Group("/")
	protected.Use(middleware.Auth(svc.Tokens, svc.Roles))
	if deps.Limiter != nil {
		protected.Use(middleware.RateLimit(deps.Limiter))
	}

	handlers.NewAuditHandler(svc.Audit).RegisterRoutes(protected)
	handlers.NewCommandHandler(svc.Commands).RegisterRoutes(protected)
	handlers.NewApprovalHandler(svc.Commands).RegisterRoutes(protected)
	handlers.NewSecurityHandler(svc.Settings, svc.Events, svc.Dashboard, svc.Commands).RegisterRoutes(protected)
	handlers.NewUserHandler(svc.Roles, svc.Dashboard).RegisterRoutes(protected)

	return svc, nil
}
