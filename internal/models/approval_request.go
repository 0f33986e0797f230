package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApprovalRequest holds a high-risk command awaiting a second staff decision.
// Status moves from PENDING exactly once.
type ApprovalRequest struct {
	ID                string         `gorm:"primaryKey;size:36" json:"id"`
	CommunityID       string         `gorm:"size:36;not null;index:idx_approval_community_status,priority:1" json:"community_id"`
	RequestedByUserID string         `gorm:"size:36;not null;index" json:"requested_by_user_id"`
	ApproverUserID    *string        `gorm:"size:36" json:"approver_user_id,omitempty"`
	RiskLevel         RiskLevel      `gorm:"size:16;not null" json:"risk_level"`
	Status            ApprovalStatus `gorm:"size:16;not null;index:idx_approval_community_status,priority:2" json:"status"`
	CommandID         string         `gorm:"size:64;not null" json:"command_id"`
	Payload           string         `gorm:"column:payload_json;type:text;not null" json:"payload"`
	Reason            *string        `json:"reason,omitempty"`
	CreatedAt         time.Time      `gorm:"index" json:"created_at"`
	DecidedAt         *time.Time     `json:"decided_at,omitempty"`
}

func (a *ApprovalRequest) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}

// CommandExecution records a command that actually ran.
type CommandExecution struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	CommunityID       string    `gorm:"size:36;not null;index:idx_exec_window,priority:1" json:"community_id"`
	UserID            string    `gorm:"size:36;not null;index:idx_exec_window,priority:2" json:"user_id"`
	CommandID         string    `gorm:"size:64;not null" json:"command_id"`
	RiskLevel         RiskLevel `gorm:"size:16;not null" json:"risk_level"`
	ApprovalRequestID *string   `gorm:"size:36" json:"approval_request_id,omitempty"`
	CreatedAt         time.Time `gorm:"index:idx_exec_window,priority:3" json:"created_at"`
}

func (e *CommandExecution) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return
}

// CommandToggle disables or re-enables a command for one community.
// Commands without a row are enabled.
type CommandToggle struct {
	CommunityID string    `gorm:"primaryKey;size:36" json:"community_id"`
	CommandID   string    `gorm:"primaryKey;size:64" json:"command_id"`
	Enabled     bool      `json:"enabled"`
	UpdatedAt   time.Time `json:"updated_at"`
}
