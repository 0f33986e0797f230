package models

import (
	"time"
)

// GlobalScope is the chain scope used by entries with no community.
const GlobalScope = "global"

// AuditLog is one entry of a hash-chained, append-only ledger. Each scope
// (a community, or GlobalScope) has its own chain starting at index 1.
// Rows are never updated or deleted by the application.
type AuditLog struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ScopeKey    string    `json:"-" gorm:"size:64;not null;uniqueIndex:idx_audit_scope_chain,priority:1"`
	ChainIndex  int64     `json:"chain_index" gorm:"not null;uniqueIndex:idx_audit_scope_chain,priority:2"`
	CommunityID *string   `json:"community_id" gorm:"size:36;index"`
	PrevHash    *string   `json:"prev_hash" gorm:"size:64"`
	Hash        *string   `json:"hash" gorm:"size:64"` // nil for legacy rows written before chaining
	UserID      *string   `json:"user_id" gorm:"size:36;index"`
	EventType   string    `json:"event_type" gorm:"size:64;not null;index"`
	IP          *string   `json:"ip"`
	UserAgent   *string   `json:"user_agent"`
	Metadata    *string   `json:"metadata" gorm:"column:metadata_json;type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

// ScopeFor returns the chain scope key for a community id.
func ScopeFor(communityID *string) string {
	if communityID == nil || *communityID == "" {
		return GlobalScope
	}
	return *communityID
}
