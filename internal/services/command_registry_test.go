package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanguard-ops/console/internal/models"
)

func TestDefaultCommandRegistry(t *testing.T) {
	reg := DefaultCommandRegistry()
	defs := reg.List()
	require.NotEmpty(t, defs)
	for i := 1; i < len(defs); i++ {
		assert.Less(t, defs[i-1].ID, defs[i].ID)
	}
	for _, d := range defs {
		assert.True(t, models.IsKnownPermission(d.RequiredPermission), d.ID)
	}

	perm, ok := reg.Lookup("ban.perm")
	require.True(t, ok)
	assert.True(t, perm.RiskLevel.IsHighRisk())
	_, ok = reg.Lookup("server.wipe")
	assert.False(t, ok)
}

func TestValidateInput(t *testing.T) {
	reg := DefaultCommandRegistry()
	bulk, _ := reg.Lookup("report.bulk_resolve")
	extend, _ := reg.Lookup("ban.extend")

	tests := []struct {
		name    string
		def     CommandDefinition
		input   map[string]interface{}
		want    map[string]interface{}
		wantErr string
	}{
		{
			name:  "comma separated list",
			def:   bulk,
			input: map[string]interface{}{"reportIds": "r1, r2,,\nr3", "resolution": "RESOLVED"},
			want:  map[string]interface{}{"reportIds": []string{"r1", "r2", "r3"}, "resolution": "RESOLVED"},
		},
		{
			name:  "json array list",
			def:   bulk,
			input: map[string]interface{}{"reportIds": []interface{}{" r1 ", ""}, "resolution": "REJECTED", "note": "  "},
			want:  map[string]interface{}{"reportIds": []string{"r1"}, "resolution": "REJECTED"},
		},
		{
			name:    "empty required list",
			def:     bulk,
			input:   map[string]interface{}{"reportIds": " , ", "resolution": "RESOLVED"},
			wantErr: "Report IDs is required",
		},
		{
			name:    "list of numbers",
			def:     bulk,
			input:   map[string]interface{}{"reportIds": []interface{}{1, 2}, "resolution": "RESOLVED"},
			wantErr: "Report IDs must be a list",
		},
		{
			name:    "select outside options",
			def:     bulk,
			input:   map[string]interface{}{"reportIds": "r1", "resolution": "IGNORED"},
			wantErr: "Resolution must be one of RESOLVED, REJECTED",
		},
		{
			name:  "number from json float",
			def:   extend,
			input: map[string]interface{}{"actionId": "a1", "extraMinutes": float64(60), "reason": "again"},
			want:  map[string]interface{}{"actionId": "a1", "extraMinutes": 60, "reason": "again"},
		},
		{
			name:  "number from string",
			def:   extend,
			input: map[string]interface{}{"actionId": "a1", "extraMinutes": " 15 ", "reason": "again"},
			want:  map[string]interface{}{"actionId": "a1", "extraMinutes": 15, "reason": "again"},
		},
		{
			name:  "number from json.Number",
			def:   extend,
			input: map[string]interface{}{"actionId": "a1", "extraMinutes": json.Number("30"), "reason": "again"},
			want:  map[string]interface{}{"actionId": "a1", "extraMinutes": 30, "reason": "again"},
		},
		{
			name:    "fractional number",
			def:     extend,
			input:   map[string]interface{}{"actionId": "a1", "extraMinutes": 1.5, "reason": "again"},
			wantErr: "Extra minutes must be a whole number",
		},
		{
			name:    "number out of range",
			def:     extend,
			input:   map[string]interface{}{"actionId": "a1", "extraMinutes": 0, "reason": "again"},
			wantErr: "Extra minutes must be between 1 and 43200",
		},
		{
			name:    "reason too short",
			def:     extend,
			input:   map[string]interface{}{"actionId": "a1", "extraMinutes": 5, "reason": "no"},
			wantErr: "Reason must be at least 3 characters",
		},
		{
			name:    "text of wrong type",
			def:     extend,
			input:   map[string]interface{}{"actionId": 7, "extraMinutes": 5, "reason": "again"},
			wantErr: "Action ID must be text",
		},
		{
			name:    "nil required value",
			def:     extend,
			input:   map[string]interface{}{"actionId": nil, "extraMinutes": 5, "reason": "again"},
			wantErr: "Action ID is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.def.ValidateInput(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)
				assert.Equal(t, tt.wantErr, MessageOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
