package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanguard-ops/console/internal/models"
)

func TestParseSecuritySettings(t *testing.T) {
	d := SettingsDefaults{Require2FAForPrivileged: true, TwoPersonRule: false}
	defaults := DefaultSecuritySettings(d)

	t.Run("empty and malformed documents yield defaults", func(t *testing.T) {
		assert.Equal(t, defaults, ParseSecuritySettings("", d))
		assert.Equal(t, defaults, ParseSecuritySettings("{not json", d))
		assert.Equal(t, defaults, ParseSecuritySettings(`[1,2]`, d))
	})

	t.Run("env defaults seed the two policy flags", func(t *testing.T) {
		assert.True(t, defaults.Require2FAForPrivileged)
		assert.False(t, defaults.TwoPersonRule)
		assert.Equal(t, models.SeverityCritical, defaults.AutoFreezeThreshold)
		assert.Equal(t, 60, defaults.HighRiskCommandCooldownSeconds)
	})

	t.Run("each field falls back on its own", func(t *testing.T) {
		got := ParseSecuritySettings(`{
			"twoPersonRule": true,
			"requireSensitiveModeForHighRisk": "yes",
			"sensitiveModeTtlMinutes": 30,
			"highRiskCommandCooldownSeconds": 2.5,
			"autoFreezeEnabled": true,
			"autoFreezeThreshold": "high",
			"lockoutMaxAttempts": 1000,
			"unknown": 1
		}`, d)
		assert.True(t, got.TwoPersonRule)
		assert.Equal(t, defaults.RequireSensitiveModeForHighRisk, got.RequireSensitiveModeForHighRisk)
		assert.Equal(t, 30, got.SensitiveModeTTLMinutes)
		assert.Equal(t, defaults.HighRiskCommandCooldownSeconds, got.HighRiskCommandCooldownSeconds)
		assert.True(t, got.AutoFreezeEnabled)
		assert.Equal(t, models.SeverityHigh, got.AutoFreezeThreshold)
		assert.Equal(t, defaults.LockoutMaxAttempts, got.LockoutMaxAttempts)
	})

	t.Run("round trip", func(t *testing.T) {
		s := defaults
		s.AutoFreezeEnabled = true
		s.SensitiveModeTTLMinutes = 5
		raw, err := json.Marshal(s)
		require.NoError(t, err)
		assert.Equal(t, s, ParseSecuritySettings(string(raw), d))
	})
}

func TestSecuritySettings_Validate(t *testing.T) {
	base := DefaultSecuritySettings(SettingsDefaults{})
	assert.NoError(t, base.Validate())

	bad := base
	bad.SensitiveModeTTLMinutes = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	bad = base
	bad.AutoFreezeThreshold = "SEVERE"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	bad = base
	bad.HighRiskCommandCooldownSeconds = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)
}

func TestSecuritySettingsService_Update(t *testing.T) {
	f := newFixture(t)
	owner := f.member(t, "owner@x.test", models.RoleOwner)
	mod := f.member(t, "mod@x.test", models.RoleMod)

	current, err := f.settings.Get(f.ctx, f.community.ID)
	require.NoError(t, err)
	assert.True(t, current.TwoPersonRule)

	next := current
	next.TwoPersonRule = false
	next.AutoFreezeEnabled = true

	_, err = f.settings.Update(f.ctx, mod, next)
	assert.ErrorIs(t, err, ErrForbidden)

	saved, err := f.settings.Update(f.ctx, owner, next)
	require.NoError(t, err)
	assert.False(t, saved.TwoPersonRule)

	reloaded, err := f.settings.Get(f.ctx, f.community.ID)
	require.NoError(t, err)
	assert.Equal(t, next, reloaded)

	rows := f.ledger(t, f.community.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, AuditSettingsUpdated, rows[0].EventType)
	var meta struct {
		Changed []string `json:"changed"`
	}
	require.NoError(t, json.Unmarshal([]byte(*rows[0].Metadata), &meta))
	assert.Equal(t, []string{"autoFreezeEnabled", "twoPersonRule"}, meta.Changed)

	invalid := next
	invalid.LockoutWindowMinutes = 0
	_, err = f.settings.Update(f.ctx, owner, invalid)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Len(t, f.ledger(t, f.community.ID), 1)
}

func TestSecuritySettingsService_PerCommunity(t *testing.T) {
	f := newFixture(t)
	owner := f.member(t, "owner@x.test", models.RoleOwner)
	other := f.addCommunity(t, "Beta")

	f.configure(t, owner, func(s *SecuritySettings) { s.TwoPersonRule = false })

	s, err := f.settings.Get(f.ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, s.TwoPersonRule)
}
