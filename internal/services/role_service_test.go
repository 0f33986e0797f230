package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanguard-ops/console/internal/models"
)

func TestResolveActor(t *testing.T) {
	f := newFixture(t)
	mod := f.member(t, "mod@x.test", models.RoleMod)

	assert.Equal(t, string(models.RoleMod), mod.RoleName)
	assert.Equal(t, models.PriorityMod, mod.RolePriority)
	assert.True(t, mod.Permissions.Has(models.PermBansExtend))
	assert.False(t, mod.Permissions.Has(models.PermAuditRead))
	assert.NotEmpty(t, mod.SessionID)

	_, err := f.roles.ResolveActor(f.ctx, mod.UserID, "", "")
	assert.ErrorIs(t, err, ErrTenantMissing)
	_, err = f.roles.ResolveActor(f.ctx, mod.UserID, "missing-community", "")
	assert.ErrorIs(t, err, ErrTenantMissing)

	beta := f.addCommunity(t, "Beta")
	_, err = f.roles.ResolveActor(f.ctx, mod.UserID, beta.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEnsureSystemRoles_Idempotent(t *testing.T) {
	f := newFixture(t)
	again := f.ensureRoles(t, f.community.ID)
	for name, role := range f.ladder {
		assert.Equal(t, role.ID, again[name].ID, name)
		assert.True(t, role.IsSystemDefault)
	}
	var count int64
	require.NoError(t, f.db.Model(&models.Role{}).Where("community_id = ?", f.community.ID).Count(&count).Error)
	assert.Equal(t, int64(len(models.BuiltinRoles())), count)
	assert.Len(t, again[models.RoleOwner].Permissions, len(models.AllPermissions()))
}

func TestCreateCustomRole(t *testing.T) {
	f := newFixture(t)
	s := newStaff(t, f)

	_, err := f.roles.CreateCustomRole(f.ctx, s.mod, CustomRoleInput{Name: "Helper", Priority: 1})
	assert.ErrorIs(t, err, ErrForbidden)

	tests := []struct {
		name string
		in   CustomRoleInput
		want error
	}{
		{"blank name", CustomRoleInput{Name: "  ", Priority: 2}, ErrInvalidInput},
		{"reserved name", CustomRoleInput{Name: "admin", Priority: 2}, ErrInvalidInput},
		{"peer priority", CustomRoleInput{Name: "Lead", Priority: models.PriorityAdmin}, ErrRoleEscalation},
		{"zero priority", CustomRoleInput{Name: "Lead", Priority: 0}, ErrRoleEscalation},
		{"unknown permission", CustomRoleInput{Name: "Lead", Priority: 2, Permissions: []models.Permission{"nuke:all"}}, ErrInvalidInput},
		{"unheld permission", CustomRoleInput{Name: "Lead", Priority: 2, Permissions: []models.Permission{models.PermUsersDisable}}, ErrRoleEscalation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.roles.CreateCustomRole(f.ctx, s.admin, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int64(0), f.countEvents(t, AuditRoleCreated))

	role, err := f.roles.CreateCustomRole(f.ctx, s.admin, CustomRoleInput{
		Name:        "Appeals",
		Priority:    models.PriorityMod,
		Permissions: []models.Permission{models.PermBansRemove, models.PermCasesRead, models.PermBansRemove},
	})
	require.NoError(t, err)
	assert.False(t, role.IsSystemDefault)
	assert.Len(t, role.Permissions, 2)
	assert.Equal(t, int64(1), f.countEvents(t, AuditRoleCreated))

	_, err = f.roles.CreateCustomRole(f.ctx, s.admin, CustomRoleInput{Name: "Appeals", Priority: 2})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAssignRole(t *testing.T) {
	f := newFixture(t)
	s := newStaff(t, f)
	beta := f.addCommunity(t, "Beta")
	betaLadder := f.ensureRoles(t, beta.ID)

	tests := []struct {
		name   string
		actor  *ActorContext
		target string
		role   models.BuiltinRole
		want   error
	}{
		{"admin grants admin", s.admin, s.viewer.UserID, models.RoleAdmin, ErrRoleEscalation},
		{"admin grants owner", s.admin, s.viewer.UserID, models.RoleOwner, ErrRoleEscalation},
		{"admin edits peer", s.admin, s.admin2.UserID, models.RoleMod, ErrRolePeerOrHigher},
		{"admin edits owner", s.admin, s.owner.UserID, models.RoleMod, ErrRolePeerOrHigher},
		{"mod lacks permission", s.mod, s.viewer.UserID, models.RoleTrialMod, ErrForbidden},
		{"unknown target", s.admin, "nobody", models.RoleMod, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.roles.AssignRole(f.ctx, tt.actor, tt.target, f.ladder[tt.role].ID)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.roles.AssignRole(f.ctx, s.admin, s.viewer.UserID, betaLadder[models.RoleMod].ID)
	assert.ErrorIs(t, err, ErrNotFound, "roles of another community are invisible")
	assert.Equal(t, int64(0), f.countEvents(t, AuditRoleUpdated))

	ms, err := f.roles.AssignRole(f.ctx, s.admin, s.viewer.UserID, f.ladder[models.RoleMod].ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.RoleMod), ms.Role.Name)

	_, err = f.roles.AssignRole(f.ctx, s.owner, s.admin.UserID, f.ladder[models.RoleOwner].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.countEvents(t, AuditRoleUpdated))

	promoted, err := f.roles.ResolveActor(f.ctx, s.admin.UserID, f.community.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityOwner, promoted.RolePriority)
}

func TestDisableAndEnableUser(t *testing.T) {
	f := newFixture(t)
	s := newStaff(t, f)

	token, _, err := f.tokens.IssueSession(f.ctx, s.mod.UserID, f.community.ID, "198.51.100.1", "cli")
	require.NoError(t, err)
	_, err = f.tokens.Authenticate(f.ctx, token)
	require.NoError(t, err)

	assert.ErrorIs(t, f.roles.DisableUser(f.ctx, s.admin, s.mod.UserID), ErrForbidden)
	assert.ErrorIs(t, f.roles.DisableUser(f.ctx, s.owner, s.owner.UserID), ErrInvalidInput)
	assert.ErrorIs(t, f.roles.DisableUser(f.ctx, s.owner, "nobody"), ErrNotFound)

	// A non-owner role holding users:disable still cannot disable anyone.
	deputy, err := f.roles.CreateCustomRole(f.ctx, s.owner, CustomRoleInput{
		Name: "Deputy", Priority: models.PriorityAdmin, Permissions: []models.Permission{models.PermUsersDisable},
	})
	require.NoError(t, err)
	d := f.memberOf(t, f.community.ID, deputy.ID, "deputy@x.test")
	assert.ErrorIs(t, f.roles.DisableUser(f.ctx, d, s.mod.UserID), ErrDisableRequiresOwner)

	require.NoError(t, f.roles.DisableUser(f.ctx, s.owner, s.mod.UserID))
	_, err = f.tokens.Authenticate(f.ctx, token)
	assert.ErrorIs(t, err, ErrForbidden)
	var sessions int64
	f.db.Model(&models.Session{}).Where("user_id = ?", s.mod.UserID).Count(&sessions)
	assert.Zero(t, sessions)

	assert.ErrorIs(t, f.roles.DisableUser(f.ctx, s.owner, s.mod.UserID), ErrConflict)

	frozen, err := f.roles.ResolveActor(f.ctx, s.mod.UserID, f.community.ID, "")
	require.NoError(t, err)
	assert.ErrorIs(t, Authorize(frozen, models.PermCommandsRun), ErrDisabled)

	require.NoError(t, f.roles.EnableUser(f.ctx, s.owner, s.mod.UserID))
	assert.ErrorIs(t, f.roles.EnableUser(f.ctx, s.owner, s.mod.UserID), ErrConflict)
	assert.Equal(t, int64(1), f.countEvents(t, AuditUserDisabled))
	assert.Equal(t, int64(1), f.countEvents(t, AuditUserEnabled))

	status, err := f.audit.VerifyScope(f.ctx, &f.community.ID)
	require.NoError(t, err)
	assert.True(t, status.OK)
}

// Disabling is account-wide, so an owner may not disable someone who
// administers another community.
func TestDisableUser_AdministratorOfAnotherCommunity(t *testing.T) {
	f := newFixture(t)
	s := newStaff(t, f)
	beta := f.addCommunity(t, "Beta")
	betaLadder := f.ensureRoles(t, beta.ID)
	betaOwner := f.memberOf(t, beta.ID, betaLadder[models.RoleOwner].ID, "beta-owner@x.test")
	for _, a := range []*ActorContext{s.owner, s.admin, s.mod} {
		require.NoError(t, f.db.Create(&models.Membership{
			CommunityID: beta.ID, UserID: a.UserID, RoleID: betaLadder[models.RoleViewer].ID,
		}).Error)
	}

	for _, target := range []*ActorContext{s.owner, s.admin} {
		err := f.roles.DisableUser(f.ctx, betaOwner, target.UserID)
		assert.ErrorIs(t, err, ErrDisableRequiresOwner, target.RoleName)
		var user models.User
		require.NoError(t, f.db.Where("id = ?", target.UserID).Take(&user).Error)
		assert.Nil(t, user.DisabledAt, target.RoleName)
		var sessions int64
		f.db.Model(&models.Session{}).Where("user_id = ?", target.UserID).Count(&sessions)
		assert.Equal(t, int64(1), sessions, target.RoleName)
	}
	assert.Equal(t, int64(0), f.countEvents(t, AuditUserDisabled))

	// Below admin elsewhere, Beta's owner may disable its own member.
	require.NoError(t, f.roles.DisableUser(f.ctx, betaOwner, s.mod.UserID))
	assert.Equal(t, int64(1), f.countEvents(t, AuditUserDisabled))
}
