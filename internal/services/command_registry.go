package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/models"
)

// FieldType is the input kind of a command field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldNumber   FieldType = "number"
	FieldSelect   FieldType = "select"
	// FieldList accepts an array of strings or a comma/newline separated string.
	FieldList FieldType = "list"
)

// CommandField declares one input of a command.
type CommandField struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Min      int       `json:"min,omitempty"`
	Max      int       `json:"max,omitempty"`
	MinLen   int       `json:"min_length,omitempty"`
	Options  []string  `json:"options,omitempty"`
}

// CommandDefinition is a governed command with its static risk level.
type CommandDefinition struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	RequiredPermission models.Permission `json:"required_permission"`
	RiskLevel          models.RiskLevel  `json:"risk_level"`
	Fields             []CommandField    `json:"fields"`
}

// ValidateInput normalizes raw input against the declared fields. Unknown
// keys are dropped.
func (d CommandDefinition) ValidateInput(raw map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(d.Fields))
	for _, f := range d.Fields {
		v, present := raw[f.Name]
		if present && v != nil {
			norm, ok, err := f.normalize(v)
			if err != nil {
				return nil, err
			}
			if ok {
				out[f.Name] = norm
				continue
			}
		}
		if f.Required {
			return nil, errorf(CodeInvalidInput, "%s is required", f.Label)
		}
	}
	return out, nil
}

// normalize returns the cleaned value and whether it is non-empty.
func (f CommandField) normalize(v interface{}) (interface{}, bool, error) {
	switch f.Type {
	case FieldText, FieldTextarea:
		s, ok := v.(string)
		if !ok {
			return nil, false, errorf(CodeInvalidInput, "%s must be text", f.Label)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false, nil
		}
		if len(s) < f.MinLen {
			return nil, false, errorf(CodeInvalidInput, "%s must be at least %d characters", f.Label, f.MinLen)
		}
		return s, true, nil
	case FieldNumber:
		n, err := toInt(v)
		if err != nil {
			return nil, false, errorf(CodeInvalidInput, "%s must be a whole number", f.Label)
		}
		if n < f.Min || (f.Max > 0 && n > f.Max) {
			return nil, false, errorf(CodeInvalidInput, "%s must be between %d and %d", f.Label, f.Min, f.Max)
		}
		return n, true, nil
	case FieldSelect:
		s, ok := v.(string)
		if !ok {
			return nil, false, errorf(CodeInvalidInput, "%s must be one of %s", f.Label, strings.Join(f.Options, ", "))
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false, nil
		}
		for _, opt := range f.Options {
			if s == opt {
				return s, true, nil
			}
		}
		return nil, false, errorf(CodeInvalidInput, "%s must be one of %s", f.Label, strings.Join(f.Options, ", "))
	case FieldList:
		items, err := toStringList(v)
		if err != nil {
			return nil, false, errorf(CodeInvalidInput, "%s must be a list", f.Label)
		}
		if len(items) == 0 {
			return nil, false, nil
		}
		return items, true, nil
	}
	return nil, false, fmt.Errorf("unsupported field type %q", f.Type)
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not integral")
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	}
	return 0, fmt.Errorf("not a number")
}

func toStringList(v interface{}) ([]string, error) {
	var parts []string
	switch l := v.(type) {
	case string:
		parts = strings.FieldsFunc(l, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' })
	case []string:
		parts = l
	case []interface{}:
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list item is not text")
			}
			parts = append(parts, s)
		}
	default:
		return nil, fmt.Errorf("not a list")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// CommandRegistry is the catalog of governed commands.
type CommandRegistry struct {
	defs map[string]CommandDefinition
}

// NewCommandRegistry builds a registry from definitions.
func NewCommandRegistry(defs ...CommandDefinition) *CommandRegistry {
	r := &CommandRegistry{defs: make(map[string]CommandDefinition, len(defs))}
	for _, d := range defs {
		r.defs[d.ID] = d
	}
	return r
}

// Lookup returns the definition for id.
func (r *CommandRegistry) Lookup(id string) (CommandDefinition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// List returns all definitions ordered by id.
func (r *CommandRegistry) List() []CommandDefinition {
	out := make([]CommandDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var (
	playerIDField = CommandField{Name: "playerId", Label: "Player ID", Type: FieldText, Required: true}
	reasonField   = CommandField{Name: "reason", Label: "Reason", Type: FieldTextarea, Required: true, MinLen: 3}
	evidenceField = CommandField{Name: "evidenceUrls", Label: "Evidence URLs", Type: FieldList}
	actionIDField = CommandField{Name: "actionId", Label: "Action ID", Type: FieldText, Required: true}
)

// DefaultCommandRegistry returns the moderation command catalog.
func DefaultCommandRegistry() *CommandRegistry {
	return NewCommandRegistry(
		CommandDefinition{
			ID: "warning.create", Name: "Create Warning", Description: "Record a warning against a player.",
			RequiredPermission: models.PermActionsCreate, RiskLevel: models.RiskLow,
			Fields: []CommandField{playerIDField, reasonField},
		},
		CommandDefinition{
			ID: "kick.record", Name: "Issue Kick Record", Description: "Record a kick against a player.",
			RequiredPermission: models.PermActionsCreate, RiskLevel: models.RiskLow,
			Fields: []CommandField{playerIDField, reasonField},
		},
		CommandDefinition{
			ID: "ban.temp", Name: "Temp Ban", Description: "Record a temporary ban.",
			RequiredPermission: models.PermBansCreate, RiskLevel: models.RiskMedium,
			Fields: []CommandField{
				playerIDField,
				{Name: "durationMinutes", Label: "Duration (minutes)", Type: FieldNumber, Required: true, Min: 1, Max: 43200},
				reasonField,
				evidenceField,
			},
		},
		CommandDefinition{
			ID: "ban.perm", Name: "Permanent Ban", Description: "Record a permanent ban (approval required by default).",
			RequiredPermission: models.PermBansCreate, RiskLevel: models.RiskHigh,
			Fields: []CommandField{playerIDField, reasonField, evidenceField},
		},
		CommandDefinition{
			ID: "ban.extend", Name: "Extend Temp Ban", Description: "Extend an active temporary ban.",
			RequiredPermission: models.PermBansExtend, RiskLevel: models.RiskMedium,
			Fields: []CommandField{
				actionIDField,
				{Name: "extraMinutes", Label: "Extra minutes", Type: FieldNumber, Required: true, Min: 1, Max: 43200},
				reasonField,
			},
		},
		CommandDefinition{
			ID: "ban.remove", Name: "Remove Ban", Description: "Revoke an existing ban action (approval required by default).",
			RequiredPermission: models.PermBansRemove, RiskLevel: models.RiskHigh,
			Fields: []CommandField{actionIDField, reasonField},
		},
		CommandDefinition{
			ID: "player.flag", Name: "Flag Player", Description: "Set a player's watch status.",
			RequiredPermission: models.PermPlayersFlag, RiskLevel: models.RiskLow,
			Fields: []CommandField{
				playerIDField,
				{Name: "status", Label: "Status", Type: FieldSelect, Required: true, Options: []string{"WATCHED", "ACTIVE"}},
				{Name: "reason", Label: "Reason", Type: FieldTextarea},
			},
		},
		CommandDefinition{
			ID: "note.add", Name: "Add Note", Description: "Attach a staff note to a player.",
			RequiredPermission: models.PermActionsCreate, RiskLevel: models.RiskLow,
			Fields: []CommandField{playerIDField, {Name: "note", Label: "Note", Type: FieldTextarea, Required: true}},
		},
		CommandDefinition{
			ID: "case.from_report", Name: "Open Case From Report", Description: "Open a case seeded from a report.",
			RequiredPermission: models.PermCasesCreate, RiskLevel: models.RiskMedium,
			Fields: []CommandField{
				{Name: "reportId", Label: "Report ID", Type: FieldText, Required: true},
				{Name: "title", Label: "Title", Type: FieldText},
				{Name: "assignToUserId", Label: "Assign to user", Type: FieldText},
			},
		},
		CommandDefinition{
			ID: "case.assign", Name: "Assign Case", Description: "Assign a case to a staff member.",
			RequiredPermission: models.PermCasesAssign, RiskLevel: models.RiskLow,
			Fields: []CommandField{
				{Name: "caseId", Label: "Case ID", Type: FieldText, Required: true},
				{Name: "userId", Label: "User ID", Type: FieldText, Required: true},
			},
		},
		CommandDefinition{
			ID: "report.bulk_resolve", Name: "Bulk Resolve Reports", Description: "Resolve or reject several reports at once.",
			RequiredPermission: models.PermReportsResolve, RiskLevel: models.RiskMedium,
			Fields: []CommandField{
				{Name: "reportIds", Label: "Report IDs", Type: FieldList, Required: true},
				{Name: "resolution", Label: "Resolution", Type: FieldSelect, Required: true, Options: []string{"RESOLVED", "REJECTED"}},
				{Name: "note", Label: "Note", Type: FieldTextarea},
			},
		},
		CommandDefinition{
			ID: "case.export_packet", Name: "Export Case Packet", Description: "Export a case with its evidence.",
			RequiredPermission: models.PermCasesRead, RiskLevel: models.RiskLow,
			Fields: []CommandField{{Name: "caseId", Label: "Case ID", Type: FieldText, Required: true}},
		},
	)
}

// ExecutionRequest is handed to a CommandExecutor. Input has already been
// validated against the command's fields.
type ExecutionRequest struct {
	CommunityID      string
	ActorUserID      string
	Command          CommandDefinition
	Input            map[string]interface{}
	ApprovalID       *string
	ApprovedByUserID *string
}

// CommandResult is what an executor reports back.
type CommandResult struct {
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// CommandExecutor applies a command's side effects. Writes made through tx
// commit together with the execution record and its ledger entry.
type CommandExecutor interface {
	Execute(ctx context.Context, tx *gorm.DB, req ExecutionRequest) (CommandResult, error)
}

// RecordOnlyExecutor performs no side effects beyond the execution record.
// It is used when no moderation backend is attached.
type RecordOnlyExecutor struct{}

// Execute implements CommandExecutor.
func (RecordOnlyExecutor) Execute(_ context.Context, _ *gorm.DB, req ExecutionRequest) (CommandResult, error) {
	return CommandResult{Message: req.Command.Name + " recorded."}, nil
}
