package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/logger"
	"github.com/vanguard-ops/console/internal/models"
)

// RoleService resolves actors and manages roles, memberships and account
// disablement inside a community.
type RoleService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// NewRoleService returns a RoleService using the provided DB and ledger.
func NewRoleService(db *gorm.DB, audit *AuditService) *RoleService {
	return &RoleService{db: db, audit: audit, now: time.Now}
}

// ResolveActor loads the user, their membership in communityID and the
// permissions granted by that membership's role.
func (s *RoleService) ResolveActor(ctx context.Context, userID, communityID, sessionID string) (*ActorContext, error) {
	if communityID == "" {
		return nil, ErrTenantMissing
	}
	db := s.db.WithContext(ctx)

	var community models.Community
	if err := db.Select("id").Where("id = ?", communityID).Take(&community).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantMissing
		}
		return nil, dbError(err, "community")
	}

	var user models.User
	if err := db.Where("id = ?", userID).Take(&user).Error; err != nil {
		return nil, dbError(err, "user")
	}

	var membership models.Membership
	err := db.Preload("Role.Permissions").
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Take(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeForbidden, "not a member of this community")
		}
		return nil, dbError(err, "membership")
	}

	return &ActorContext{
		UserID:       user.ID,
		CommunityID:  communityID,
		SessionID:    sessionID,
		DisabledAt:   user.DisabledAt,
		RoleID:       membership.Role.ID,
		RoleName:     membership.Role.Name,
		RolePriority: membership.Role.Priority,
		Permissions:  membership.Role.PermissionSet(),
	}, nil
}

// EnsureSystemRoles creates any missing built-in roles for a community and
// returns the full ladder keyed by role name.
func (s *RoleService) EnsureSystemRoles(ctx context.Context, communityID string) (map[models.BuiltinRole]models.Role, error) {
	out := make(map[models.BuiltinRole]models.Role)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, builtin := range models.BuiltinRoles() {
			var role models.Role
			err := tx.Preload("Permissions").
				Where("community_id = ? AND name = ?", communityID, string(builtin.Name)).
				Take(&role).Error
			if err == nil {
				out[builtin.Name] = role
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return dbError(err, "role")
			}
			role = models.Role{
				CommunityID:     communityID,
				Name:            string(builtin.Name),
				Priority:        builtin.Priority,
				IsSystemDefault: true,
				Permissions:     rolePermissions(builtin.Permissions),
			}
			if err := tx.Create(&role).Error; err != nil {
				return dbError(err, "role")
			}
			out[builtin.Name] = role
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CustomRoleInput describes a community-defined role.
type CustomRoleInput struct {
	Name        string              `json:"name"`
	Priority    int                 `json:"priority"`
	Permissions []models.Permission `json:"permissions"`
}

// CreateCustomRole creates a role with an explicit permission set. The actor
// can only create roles below their own priority holding permissions they
// hold themselves.
func (s *RoleService) CreateCustomRole(ctx context.Context, actor *ActorContext, in CustomRoleInput) (*models.Role, error) {
	if err := Authorize(actor, models.PermUsersEditRole); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 64 {
		return nil, newError(CodeInvalidInput, "role name must be 1-64 characters")
	}
	for _, builtin := range models.BuiltinRoles() {
		if strings.EqualFold(name, string(builtin.Name)) {
			return nil, newError(CodeInvalidInput, "role name is reserved")
		}
	}
	if in.Priority < 1 || in.Priority >= actor.RolePriority {
		return nil, newError(CodeRoleEscalation, "custom role priority must be below your own")
	}
	for _, p := range in.Permissions {
		if !models.IsKnownPermission(p) {
			return nil, errorf(CodeInvalidInput, "unknown permission %q", p)
		}
		if !actor.Permissions.Has(p) {
			return nil, errorf(CodeRoleEscalation, "cannot grant permission %q you do not hold", p)
		}
	}

	role := models.Role{
		CommunityID: actor.CommunityID,
		Name:        name,
		Priority:    in.Priority,
		Permissions: rolePermissions(in.Permissions),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&role).Error; err != nil {
			return dbError(err, "role")
		}
		_, err := s.audit.AppendTx(tx, AuditEntry{
			CommunityID: actor.communityRef(),
			UserID:      actor.userRef(),
			EventType:   AuditRoleCreated,
			IP:          actor.IP,
			UserAgent:   actor.UserAgent,
			Metadata: map[string]interface{}{
				"roleId":      role.ID,
				"name":        role.Name,
				"priority":    role.Priority,
				"permissions": models.NewPermissionSet(in.Permissions...).Sorted(),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// AssignRole moves a member of the actor's community to another role of
// the same community, subject to the escalation guards.
func (s *RoleService) AssignRole(ctx context.Context, actor *ActorContext, targetUserID, roleID string) (*models.Membership, error) {
	if err := Authorize(actor, models.PermUsersEditRole); err != nil {
		return nil, err
	}

	var membership models.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Role").
			Where("community_id = ? AND user_id = ?", actor.CommunityID, targetUserID).
			Take(&membership).Error; err != nil {
			return dbError(err, "user")
		}
		var newRole models.Role
		if err := tx.Where("id = ? AND community_id = ?", roleID, actor.CommunityID).Take(&newRole).Error; err != nil {
			return dbError(err, "role")
		}
		if err := AssertCanEditRole(actor.RolePriority, membership.Role.Priority, newRole.Priority); err != nil {
			return err
		}

		previous := membership.Role
		if err := tx.Model(&models.Membership{}).
			Where("id = ?", membership.ID).
			Update("role_id", newRole.ID).Error; err != nil {
			return dbError(err, "membership")
		}
		membership.RoleID = newRole.ID
		membership.Role = newRole

		_, err := s.audit.AppendTx(tx, AuditEntry{
			CommunityID: actor.communityRef(),
			UserID:      actor.userRef(),
			EventType:   AuditRoleUpdated,
			IP:          actor.IP,
			UserAgent:   actor.UserAgent,
			Metadata: map[string]interface{}{
				"targetUserId": targetUserID,
				"previousRole": previous.Name,
				"newRole":      newRole.Name,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// DisableUser disables a member of the actor's community and revokes all of
// their sessions in one transaction.
func (s *RoleService) DisableUser(ctx context.Context, actor *ActorContext, targetUserID string) error {
	if err := Authorize(actor, models.PermUsersDisable); err != nil {
		return err
	}
	if targetUserID == actor.UserID {
		return newError(CodeInvalidInput, "you cannot disable your own account")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var membership models.Membership
		if err := tx.Preload("Role").
			Where("community_id = ? AND user_id = ?", actor.CommunityID, targetUserID).
			Take(&membership).Error; err != nil {
			return dbError(err, "user")
		}
		if err := AssertCanDisableUser(actor.RolePriority, membership.Role.Priority); err != nil {
			return err
		}
		// Disablement is account-wide, so it must not reach administrators
		// of other communities.
		elsewhere, err := highestRolePriority(tx, targetUserID, actor.CommunityID)
		if err != nil {
			return err
		}
		if elsewhere >= models.SecondTierPriority {
			return newError(CodeDisableRequiresOwner, "user administers another community")
		}
		revoked, err := disableAccountTx(tx, targetUserID, s.now())
		if err != nil {
			return err
		}
		_, err = s.audit.AppendTx(tx, AuditEntry{
			CommunityID: actor.communityRef(),
			UserID:      actor.userRef(),
			EventType:   AuditUserDisabled,
			IP:          actor.IP,
			UserAgent:   actor.UserAgent,
			Metadata: map[string]interface{}{
				"targetUserId":    targetUserID,
				"disabled":        true,
				"source":          "manual",
				"sessionsRevoked": revoked,
			},
		})
		return err
	})
	if err != nil {
		return err
	}
	logger.Log().WithFields(map[string]interface{}{
		"community_id": actor.CommunityID,
		"user_id":      targetUserID,
		"actor_id":     actor.UserID,
	}).Warn("user disabled")
	return nil
}

// EnableUser clears a previous disablement.
func (s *RoleService) EnableUser(ctx context.Context, actor *ActorContext, targetUserID string) error {
	if err := Authorize(actor, models.PermUsersDisable); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var membership models.Membership
		if err := tx.Where("community_id = ? AND user_id = ?", actor.CommunityID, targetUserID).
			Take(&membership).Error; err != nil {
			return dbError(err, "user")
		}
		res := tx.Model(&models.User{}).
			Where("id = ? AND disabled_at IS NOT NULL", targetUserID).
			Update("disabled_at", nil)
		if res.Error != nil {
			return dbError(res.Error, "user")
		}
		if res.RowsAffected == 0 {
			return newError(CodeConflict, "user is not disabled")
		}
		_, err := s.audit.AppendTx(tx, AuditEntry{
			CommunityID: actor.communityRef(),
			UserID:      actor.userRef(),
			EventType:   AuditUserEnabled,
			IP:          actor.IP,
			UserAgent:   actor.UserAgent,
			Metadata:    map[string]interface{}{"targetUserId": targetUserID, "disabled": false},
		})
		return err
	})
}

var errAlreadyDisabled = newError(CodeConflict, "user is already disabled")

// disableAccountTx sets disabled_at on a not-yet-disabled account and
// deletes its sessions and sensitive-mode grants. It returns the number of
// sessions revoked.
func disableAccountTx(tx *gorm.DB, userID string, at time.Time) (int64, error) {
	res := tx.Model(&models.User{}).
		Where("id = ? AND disabled_at IS NULL", userID).
		Update("disabled_at", at.UTC())
	if res.Error != nil {
		return 0, dbError(res.Error, "user")
	}
	if res.RowsAffected == 0 {
		return 0, errAlreadyDisabled
	}
	sessions := tx.Where("user_id = ?", userID).Delete(&models.Session{})
	if sessions.Error != nil {
		return 0, dbError(sessions.Error, "session")
	}
	if err := tx.Where("user_id = ?", userID).Delete(&models.SensitiveModeGrant{}).Error; err != nil {
		return 0, dbError(err, "sensitive mode grant")
	}
	return sessions.RowsAffected, nil
}

// highestRolePriority returns the highest role priority userID holds in any
// community other than exceptCommunityID, or in all of them when it is empty.
// Zero means no membership.
func highestRolePriority(db *gorm.DB, userID, exceptCommunityID string) (int, error) {
	q := db.Model(&models.Membership{}).
		Joins("JOIN roles ON roles.id = memberships.role_id").
		Where("memberships.user_id = ?", userID)
	if exceptCommunityID != "" {
		q = q.Where("memberships.community_id <> ?", exceptCommunityID)
	}
	var top int
	if err := q.Select("COALESCE(MAX(roles.priority), 0)").Scan(&top).Error; err != nil {
		return 0, dbError(err, "memberships")
	}
	return top, nil
}

func rolePermissions(perms []models.Permission) []models.RolePermission {
	set := models.NewPermissionSet(perms...)
	out := make([]models.RolePermission, 0, len(set))
	for _, p := range set.Sorted() {
		out = append(out, models.RolePermission{Permission: p})
	}
	return out
}
