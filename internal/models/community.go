package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Community is an isolated tenant.
type Community struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Community) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// Role is a community-scoped permission bundle. System default roles form
// the built-in ladder; custom roles carry an independently configured set.
type Role struct {
	ID              string           `gorm:"primaryKey;size:36" json:"id"`
	CommunityID     string           `gorm:"size:36;not null;uniqueIndex:idx_role_community_name,priority:1" json:"community_id"`
	Name            string           `gorm:"size:64;not null;uniqueIndex:idx_role_community_name,priority:2" json:"name"`
	Priority        int              `gorm:"not null" json:"priority"`
	IsSystemDefault bool             `json:"is_system_default"`
	Permissions     []RolePermission `gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE" json:"permissions"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (r *Role) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}

// PermissionSet returns the permissions attached to the role.
func (r *Role) PermissionSet() PermissionSet {
	set := make(PermissionSet, len(r.Permissions))
	for _, p := range r.Permissions {
		set[p.Permission] = struct{}{}
	}
	return set
}

// RolePermission attaches one permission tag to a role.
type RolePermission struct {
	RoleID     string     `gorm:"primaryKey;size:36" json:"-"`
	Permission Permission `gorm:"primaryKey;size:64" json:"permission"`
}

// Membership binds a user to a community through exactly one role.
type Membership struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CommunityID string    `gorm:"size:36;not null;uniqueIndex:idx_membership_community_user,priority:1" json:"community_id"`
	UserID      string    `gorm:"size:36;not null;uniqueIndex:idx_membership_community_user,priority:2" json:"user_id"`
	RoleID      string    `gorm:"size:36;not null;index" json:"role_id"`
	Role        Role      `gorm:"foreignKey:RoleID" json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
