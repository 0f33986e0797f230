package models

import (
	"time"
)

// Setting is a per-community key/value entry holding a JSON document.
type Setting struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	CommunityID string    `json:"community_id" gorm:"size:36;not null;uniqueIndex:idx_setting_community_key,priority:1"`
	Key         string    `json:"key" gorm:"size:64;not null;uniqueIndex:idx_setting_community_key,priority:2"`
	Value       string    `json:"value" gorm:"column:value_json;type:text"`
	Category    string    `json:"category"`
	UpdatedAt   time.Time `json:"updated_at"`
}
