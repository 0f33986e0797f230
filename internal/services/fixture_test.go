package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/cache"
	"github.com/vanguard-ops/console/internal/database"
	"github.com/vanguard-ops/console/internal/models"
)

// openTestDB returns a migrated sqlite database in a per-test file so
// that concurrent connections behave like production.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Options{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixture is one community with the built-in role ladder and every
// control-plane service wired over a shared clock.
type fixture struct {
	ctx       context.Context
	db        *gorm.DB
	clock     *testClock
	cache     *cache.Memory
	audit     *AuditService
	roles     *RoleService
	settings  *SecuritySettingsService
	events    *SecurityEventService
	commands  *CommandService
	dashboard *DashboardService
	tokens    *TokenService
	community models.Community
	ladder    map[models.BuiltinRole]models.Role
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openTestDB(t)
	clock := newTestClock()
	f := &fixture{ctx: context.Background(), db: db, clock: clock}

	f.audit = NewAuditService(db).WithClock(clock.Now)
	f.roles = NewRoleService(db, f.audit)
	f.roles.now = clock.Now
	f.settings = NewSecuritySettingsService(db, f.audit, SettingsDefaults{Require2FAForPrivileged: true, TwoPersonRule: true})
	f.events = NewSecurityEventService(db, f.audit, f.settings).WithClock(clock.Now)
	f.commands = NewCommandService(db, f.audit, f.roles, f.settings, f.events, DefaultCommandRegistry(), nil).WithClock(clock.Now)
	f.cache = cache.NewMemory().WithClock(clock.Now)
	f.dashboard = NewDashboardService(db, f.cache, DefaultDashboardTTL)
	f.dashboard.now = clock.Now
	f.tokens = NewTokenService(db, "test-secret-test-secret-test-secret", time.Hour)
	f.tokens.now = clock.Now

	f.community = f.addCommunity(t, "Alpha")
	f.ladder = f.ensureRoles(t, f.community.ID)
	return f
}

func (f *fixture) addCommunity(t *testing.T, name string) models.Community {
	t.Helper()
	c := models.Community{Name: name}
	require.NoError(t, f.db.Create(&c).Error)
	return c
}

func (f *fixture) ensureRoles(t *testing.T, communityID string) map[models.BuiltinRole]models.Role {
	t.Helper()
	ladder, err := f.roles.EnsureSystemRoles(f.ctx, communityID)
	require.NoError(t, err)
	return ladder
}

// member creates a user holding role in the fixture community, opens a
// session for them and returns the resolved actor.
func (f *fixture) member(t *testing.T, email string, role models.BuiltinRole) *ActorContext {
	t.Helper()
	return f.memberOf(t, f.community.ID, f.ladder[role].ID, email)
}

func (f *fixture) memberOf(t *testing.T, communityID, roleID, email string) *ActorContext {
	t.Helper()
	user := models.User{Email: email, Name: email}
	require.NoError(t, f.db.Create(&user).Error)
	require.NoError(t, f.db.Create(&models.Membership{CommunityID: communityID, UserID: user.ID, RoleID: roleID}).Error)
	_, session, err := f.tokens.IssueSession(f.ctx, user.ID, communityID, "203.0.113.7", "test-agent")
	require.NoError(t, err)
	actor, err := f.roles.ResolveActor(f.ctx, user.ID, communityID, session.ID)
	require.NoError(t, err)
	actor.IP, actor.UserAgent = "203.0.113.7", "test-agent"
	return actor
}

// configure applies mutate to the community policy through an owner.
func (f *fixture) configure(t *testing.T, owner *ActorContext, mutate func(*SecuritySettings)) {
	t.Helper()
	s, err := f.settings.Get(f.ctx, owner.CommunityID)
	require.NoError(t, err)
	mutate(&s)
	_, err = f.settings.Update(f.ctx, owner, s)
	require.NoError(t, err)
}

func (f *fixture) ledger(t *testing.T, communityID string) []models.AuditLog {
	t.Helper()
	var rows []models.AuditLog
	require.NoError(t, f.db.Where("scope_key = ?", models.ScopeFor(&communityID)).Order("chain_index asc").Find(&rows).Error)
	return rows
}

func (f *fixture) countEvents(t *testing.T, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.AuditLog{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func (f *fixture) countExecutions(t *testing.T, commandID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.CommandExecution{}).Where("command_id = ?", commandID).Count(&n).Error)
	return n
}

func banInput() map[string]interface{} {
	return map[string]interface{}{"playerId": "steam:1234", "reason": "repeated cheating", "evidenceUrls": "https://clips.example/a, https://clips.example/b"}
}
