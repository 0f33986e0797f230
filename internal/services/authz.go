package services

import (
	"time"

	"github.com/vanguard-ops/console/internal/models"
)

// ActorContext is the per-request identity of a caller inside one community.
type ActorContext struct {
	UserID       string
	CommunityID  string
	SessionID    string
	DisabledAt   *time.Time
	RoleID       string
	RoleName     string
	RolePriority int
	Permissions  models.PermissionSet
	IP           string
	UserAgent    string
}

// IsTopTier reports whether the actor holds the owner tier.
func (a *ActorContext) IsTopTier() bool {
	return a.RolePriority >= models.TopTierPriority
}

func (a *ActorContext) userRef() *string {
	return strPtr(a.UserID)
}

func (a *ActorContext) communityRef() *string {
	return strPtr(a.CommunityID)
}

// Authorize is the guard called first by every mutating entry point. It
// fails with ErrDisabled for a disabled account and ErrForbidden when the
// permission is not in the actor's resolved set.
func Authorize(actor *ActorContext, permission models.Permission) error {
	if actor == nil {
		return ErrForbidden
	}
	if actor.DisabledAt != nil {
		return ErrDisabled
	}
	if !actor.Permissions.Has(permission) {
		return &Error{Code: CodeForbidden, Message: "insufficient permissions: " + string(permission)}
	}
	return nil
}

// AssertCanEditRole applies the role-escalation guards to a role change of
// a target account currently at targetPriority towards newPriority.
func AssertCanEditRole(actorPriority, targetPriority, newPriority int) error {
	if actorPriority < models.TopTierPriority && newPriority >= models.TopTierPriority {
		return newError(CodeRoleEscalation, "only the owner tier can grant the owner role")
	}
	if actorPriority == models.SecondTierPriority {
		if targetPriority >= models.SecondTierPriority {
			return newError(CodeRolePeerOrHigher, "you cannot edit this user's role")
		}
		if newPriority >= models.SecondTierPriority {
			return newError(CodeRoleEscalation, "you cannot grant this role")
		}
	}
	if actorPriority < models.SecondTierPriority && targetPriority >= models.StaffPriority {
		return newError(CodeRoleStaffEditBlocked, "you cannot edit staff accounts")
	}
	return nil
}

// AssertCanDisableUser allows only the owner tier to disable accounts,
// including other owners. Callers must reject self-disablement first.
func AssertCanDisableUser(actorPriority, targetPriority int) error {
	if actorPriority < models.TopTierPriority {
		return newError(CodeDisableRequiresOwner, "only an owner can disable users")
	}
	return nil
}

// AuthorizeAuditExport gates bulk ledger export to audit readers at the
// second tier or above.
func AuthorizeAuditExport(actor *ActorContext) error {
	if err := Authorize(actor, models.PermAuditRead); err != nil {
		return err
	}
	if actor.RolePriority < models.SecondTierPriority {
		return newError(CodeForbidden, "audit export requires an admin role")
	}
	return nil
}
