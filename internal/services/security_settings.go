package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vanguard-ops/console/internal/models"
)

// SecuritySettingsKey is the settings row holding a community's policy.
const SecuritySettingsKey = "security"

// SecuritySettings is the per-community security policy.
type SecuritySettings struct {
	Require2FAForPrivileged         bool            `json:"require2FAForPrivileged"`
	TwoPersonRule                   bool            `json:"twoPersonRule"`
	RequireSensitiveModeForHighRisk bool            `json:"requireSensitiveModeForHighRisk"`
	SensitiveModeTTLMinutes         int             `json:"sensitiveModeTtlMinutes"`
	HighRiskCommandCooldownSeconds  int             `json:"highRiskCommandCooldownSeconds"`
	BetaAccessEnabled               bool            `json:"betaAccessEnabled"`
	AutoFreezeEnabled               bool            `json:"autoFreezeEnabled"`
	AutoFreezeThreshold             models.Severity `json:"autoFreezeThreshold"`
	LockoutMaxAttempts              int             `json:"lockoutMaxAttempts"`
	LockoutWindowMinutes            int             `json:"lockoutWindowMinutes"`
	LockoutDurationMinutes          int             `json:"lockoutDurationMinutes"`
}

// SettingsDefaults are the process-level defaults that config may override.
type SettingsDefaults struct {
	Require2FAForPrivileged bool
	TwoPersonRule           bool
}

// DefaultSecuritySettings returns the documented defaults.
func DefaultSecuritySettings(d SettingsDefaults) SecuritySettings {
	return SecuritySettings{
		Require2FAForPrivileged:         d.Require2FAForPrivileged,
		TwoPersonRule:                   d.TwoPersonRule,
		RequireSensitiveModeForHighRisk: true,
		SensitiveModeTTLMinutes:         10,
		HighRiskCommandCooldownSeconds:  60,
		BetaAccessEnabled:               true,
		AutoFreezeEnabled:               false,
		AutoFreezeThreshold:             models.SeverityCritical,
		LockoutMaxAttempts:              5,
		LockoutWindowMinutes:            15,
		LockoutDurationMinutes:          15,
	}
}

// ParseSecuritySettings decodes a stored policy document. Each field falls
// back to its default on its own when missing or of the wrong type; a
// document that is not a JSON object yields all defaults.
func ParseSecuritySettings(raw string, d SettingsDefaults) SecuritySettings {
	out := DefaultSecuritySettings(d)
	var fields map[string]json.RawMessage
	if raw == "" || json.Unmarshal([]byte(raw), &fields) != nil {
		return out
	}
	boolField(fields, "require2FAForPrivileged", &out.Require2FAForPrivileged)
	boolField(fields, "twoPersonRule", &out.TwoPersonRule)
	boolField(fields, "requireSensitiveModeForHighRisk", &out.RequireSensitiveModeForHighRisk)
	intField(fields, "sensitiveModeTtlMinutes", 1, 24*60, &out.SensitiveModeTTLMinutes)
	intField(fields, "highRiskCommandCooldownSeconds", 0, 24*60*60, &out.HighRiskCommandCooldownSeconds)
	boolField(fields, "betaAccessEnabled", &out.BetaAccessEnabled)
	boolField(fields, "autoFreezeEnabled", &out.AutoFreezeEnabled)
	severityField(fields, "autoFreezeThreshold", &out.AutoFreezeThreshold)
	intField(fields, "lockoutMaxAttempts", 1, 100, &out.LockoutMaxAttempts)
	intField(fields, "lockoutWindowMinutes", 1, 24*60, &out.LockoutWindowMinutes)
	intField(fields, "lockoutDurationMinutes", 1, 7*24*60, &out.LockoutDurationMinutes)
	return out
}

func boolField(fields map[string]json.RawMessage, key string, dst *bool) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var v bool
	if json.Unmarshal(raw, &v) == nil {
		*dst = v
	}
}

// intField accepts whole numbers inside [min, max].
func intField(fields map[string]json.RawMessage, key string, min, max int, dst *int) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var f float64
	if json.Unmarshal(raw, &f) != nil {
		return
	}
	v := int(f)
	if float64(v) != f || v < min || v > max {
		return
	}
	*dst = v
}

func severityField(fields map[string]json.RawMessage, key string, dst *models.Severity) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return
	}
	if sev, ok := models.ParseSeverity(s); ok {
		*dst = sev
	}
}

// Validate rejects out-of-range values on update.
func (s SecuritySettings) Validate() error {
	switch {
	case s.SensitiveModeTTLMinutes < 1 || s.SensitiveModeTTLMinutes > 24*60:
		return newError(CodeInvalidInput, "sensitiveModeTtlMinutes must be between 1 and 1440")
	case s.HighRiskCommandCooldownSeconds < 0 || s.HighRiskCommandCooldownSeconds > 24*60*60:
		return newError(CodeInvalidInput, "highRiskCommandCooldownSeconds must be between 0 and 86400")
	case s.AutoFreezeThreshold.Rank() == 0:
		return newError(CodeInvalidInput, "autoFreezeThreshold must be LOW, MEDIUM, HIGH or CRITICAL")
	case s.LockoutMaxAttempts < 1 || s.LockoutMaxAttempts > 100:
		return newError(CodeInvalidInput, "lockoutMaxAttempts must be between 1 and 100")
	case s.LockoutWindowMinutes < 1 || s.LockoutWindowMinutes > 24*60:
		return newError(CodeInvalidInput, "lockoutWindowMinutes must be between 1 and 1440")
	case s.LockoutDurationMinutes < 1 || s.LockoutDurationMinutes > 7*24*60:
		return newError(CodeInvalidInput, "lockoutDurationMinutes must be between 1 and 10080")
	}
	return nil
}

// SecuritySettingsService reads and writes the per-community policy stored
// in the settings table.
type SecuritySettingsService struct {
	db       *gorm.DB
	audit    *AuditService
	defaults SettingsDefaults
}

// NewSecuritySettingsService returns a SecuritySettingsService.
func NewSecuritySettingsService(db *gorm.DB, audit *AuditService, defaults SettingsDefaults) *SecuritySettingsService {
	return &SecuritySettingsService{db: db, audit: audit, defaults: defaults}
}

// Get returns the policy for a community, defaulting when no row exists.
func (s *SecuritySettingsService) Get(ctx context.Context, communityID string) (SecuritySettings, error) {
	return s.load(s.db.WithContext(ctx), communityID)
}

func (s *SecuritySettingsService) load(db *gorm.DB, communityID string) (SecuritySettings, error) {
	var row models.Setting
	err := db.Where("community_id = ? AND key = ?", communityID, SecuritySettingsKey).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultSecuritySettings(s.defaults), nil
	}
	if err != nil {
		return SecuritySettings{}, dbError(err, "settings")
	}
	return ParseSecuritySettings(row.Value, s.defaults), nil
}

// Update replaces the policy. Requires settings:edit.
func (s *SecuritySettingsService) Update(ctx context.Context, actor *ActorContext, next SecuritySettings) (SecuritySettings, error) {
	if err := Authorize(actor, models.PermSettingsEdit); err != nil {
		return SecuritySettings{}, err
	}
	if err := next.Validate(); err != nil {
		return SecuritySettings{}, err
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return SecuritySettings{}, &Error{Code: CodeInvalidInput, Message: "settings are not serializable", Err: err}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous, err := s.load(tx, actor.CommunityID)
		if err != nil {
			return err
		}
		row := models.Setting{
			CommunityID: actor.CommunityID,
			Key:         SecuritySettingsKey,
			Value:       string(encoded),
			Category:    "security",
			UpdatedAt:   time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "community_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value_json", "category", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return dbError(err, "settings")
		}
		_, err = s.audit.AppendTx(tx, AuditEntry{
			CommunityID: actor.communityRef(),
			UserID:      actor.userRef(),
			EventType:   AuditSettingsUpdated,
			IP:          actor.IP,
			UserAgent:   actor.UserAgent,
			Metadata: map[string]interface{}{
				"key":     SecuritySettingsKey,
				"changed": changedSettings(previous, next),
			},
		})
		return err
	})
	if err != nil {
		return SecuritySettings{}, err
	}
	return next, nil
}

// changedSettings lists the JSON names of fields that differ.
func changedSettings(a, b SecuritySettings) []string {
	var am, bm map[string]interface{}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	_ = json.Unmarshal(ab, &am)
	_ = json.Unmarshal(bb, &bm)
	changed := []string{}
	for k, v := range bm {
		if CanonicalJSON(am[k]) != CanonicalJSON(v) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
