package models

import "sort"

// Permission is an opaque capability tag of the form "<area>:<verb>".
type Permission string

const (
	PermUsersRead     Permission = "users:read"
	PermUsersInvite   Permission = "users:invite"
	PermUsersEditRole Permission = "users:edit_role"
	PermUsersDisable  Permission = "users:disable"

	PermPlayersRead Permission = "players:read"
	PermPlayersEdit Permission = "players:edit"
	PermPlayersFlag Permission = "players:flag"

	PermActionsCreate     Permission = "actions:create"
	PermActionsRevoke     Permission = "actions:revoke"
	PermActionsEditReason Permission = "actions:edit_reason"

	PermBansCreate Permission = "bans:create"
	PermBansExtend Permission = "bans:extend"
	PermBansRemove Permission = "bans:remove"

	PermCasesRead    Permission = "cases:read"
	PermCasesCreate  Permission = "cases:create"
	PermCasesAssign  Permission = "cases:assign"
	PermCasesClose   Permission = "cases:close"
	PermCasesComment Permission = "cases:comment"

	PermReportsRead    Permission = "reports:read"
	PermReportsTriage  Permission = "reports:triage"
	PermReportsResolve Permission = "reports:resolve"

	PermAuditRead    Permission = "audit:read"
	PermSecurityRead Permission = "security:read"
	PermSettingsEdit Permission = "settings:edit"

	PermCommandsRun     Permission = "commands:run"
	PermCommandsManage  Permission = "commands:manage"
	PermApprovalsDecide Permission = "approvals:decide"

	PermViewsManage   Permission = "views:manage"
	PermAPIKeysManage Permission = "api_keys:manage"

	PermDispatchRead   Permission = "dispatch:read"
	PermDispatchManage Permission = "dispatch:manage"

	PermMapManageLayers Permission = "map:manage_layers"
)

// Built-in role ladder priorities. Higher is more privileged.
const (
	PriorityViewer   = 1
	PriorityTrialMod = 2
	PriorityMod      = 3
	PriorityAdmin    = 4
	PriorityOwner    = 5
)

// Tier aliases used by the escalation guards.
const (
	TopTierPriority    = PriorityOwner
	SecondTierPriority = PriorityAdmin
	// StaffPriority is the lowest priority considered a staff account.
	StaffPriority = PriorityTrialMod
)

// BuiltinRole names the system default roles created for every community.
type BuiltinRole string

const (
	RoleViewer   BuiltinRole = "VIEWER"
	RoleTrialMod BuiltinRole = "TRIAL_MOD"
	RoleMod      BuiltinRole = "MOD"
	RoleAdmin    BuiltinRole = "ADMIN"
	RoleOwner    BuiltinRole = "OWNER"
)

var viewerPerms = []Permission{
	PermPlayersRead,
	PermCasesRead,
	PermReportsRead,
}

var trialModPerms = extend(viewerPerms,
	PermPlayersEdit,
	PermActionsCreate,
	PermBansCreate,
	PermReportsTriage,
	PermCasesComment,
	PermCommandsRun,
	PermViewsManage,
	PermDispatchRead,
)

var modPerms = extend(trialModPerms,
	PermPlayersFlag,
	PermCasesCreate,
	PermCasesAssign,
	PermReportsResolve,
	PermBansExtend,
	PermDispatchManage,
	PermMapManageLayers,
)

var adminPerms = extend(modPerms,
	PermUsersRead,
	PermUsersInvite,
	PermUsersEditRole,
	PermActionsRevoke,
	PermBansRemove,
	PermAuditRead,
	PermSecurityRead,
	PermSettingsEdit,
	PermCommandsManage,
	PermApprovalsDecide,
)

var ownerPerms = extend(adminPerms,
	PermUsersDisable,
	PermAPIKeysManage,
)

// BuiltinRoleSpec describes one rung of the system role ladder.
type BuiltinRoleSpec struct {
	Name        BuiltinRole
	Priority    int
	Permissions []Permission
}

// BuiltinRoles returns the ladder from least to most privileged.
// Each rung is a strict superset of the previous one.
func BuiltinRoles() []BuiltinRoleSpec {
	return []BuiltinRoleSpec{
		{Name: RoleViewer, Priority: PriorityViewer, Permissions: clonePerms(viewerPerms)},
		{Name: RoleTrialMod, Priority: PriorityTrialMod, Permissions: clonePerms(trialModPerms)},
		{Name: RoleMod, Priority: PriorityMod, Permissions: clonePerms(modPerms)},
		{Name: RoleAdmin, Priority: PriorityAdmin, Permissions: clonePerms(adminPerms)},
		{Name: RoleOwner, Priority: PriorityOwner, Permissions: clonePerms(ownerPerms)},
	}
}

// OwnerOnlyPermissions can only be held by the top tier.
var OwnerOnlyPermissions = []Permission{PermUsersDisable, PermAPIKeysManage}

// AllPermissions is the full catalog, used to validate custom role definitions.
func AllPermissions() []Permission {
	return clonePerms(ownerPerms)
}

// IsKnownPermission reports whether p is part of the catalog.
func IsKnownPermission(p Permission) bool {
	for _, known := range ownerPerms {
		if known == p {
			return true
		}
	}
	return false
}

// PermissionSet is a resolved set of granted permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from a list.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is granted.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the granted permissions in lexical order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func extend(base []Permission, extra ...Permission) []Permission {
	out := make([]Permission, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

func clonePerms(in []Permission) []Permission {
	out := make([]Permission, len(in))
	copy(out, in)
	return out
}
