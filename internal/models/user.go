package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a console account. DisabledAt is global across communities; a
// disabled account never holds live sessions.
type User struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	Email      string     `gorm:"uniqueIndex;not null" json:"email"`
	Name       string     `json:"name"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// IsDisabled reports whether the account has been disabled.
func (u *User) IsDisabled() bool {
	return u.DisabledAt != nil
}

// Session is a live login. Bearer tokens reference a session by id, so
// deleting the row revokes the token.
type Session struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	UserID            string    `gorm:"size:36;not null;index" json:"user_id"`
	ActiveCommunityID *string   `gorm:"size:36;index" json:"active_community_id"`
	IP                string    `json:"ip"`
	UserAgent         string    `json:"user_agent"`
	ExpiresAt         time.Time `json:"expires_at"`
	LastActiveAt      time.Time `gorm:"index" json:"last_active_at"`
	CreatedAt         time.Time `json:"created_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return
}

// SensitiveModeGrant is a short-lived elevation bound to a session, required
// for high-risk operations when the community enforces it.
type SensitiveModeGrant struct {
	SessionID string    `gorm:"primaryKey;size:36" json:"session_id"`
	UserID    string    `gorm:"size:36;not null;index" json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
