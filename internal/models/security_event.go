package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SecurityEvent is a severity-tagged monitoring signal. A nil CommunityID
// marks a global event.
type SecurityEvent struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	CommunityID *string   `gorm:"size:36;index:idx_secevent_window,priority:1" json:"community_id"`
	UserID      *string   `gorm:"size:36;index:idx_secevent_window,priority:2" json:"user_id"`
	Severity    Severity  `gorm:"size:16;not null" json:"severity"`
	EventType   string    `gorm:"size:64;not null;index:idx_secevent_window,priority:3" json:"event_type"`
	Metadata    *string   `gorm:"column:metadata_json;type:text" json:"metadata"`
	CreatedAt   time.Time `gorm:"index:idx_secevent_window,priority:4" json:"created_at"`
}

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return
}
