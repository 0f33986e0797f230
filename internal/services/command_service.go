package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vanguard-ops/console/internal/logger"
	"github.com/vanguard-ops/console/internal/metrics"
	"github.com/vanguard-ops/console/internal/models"
)

// Run outcomes.
const (
	RunExecuted        = "executed"
	RunPendingApproval = "pending_approval"
)

const (
	defaultApprovalTake = 50
	maxApprovalTake     = 200
)

// Decision is an approver's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// RunResult is returned by Submit and by an approving Decide.
type RunResult struct {
	Status      string                 `json:"status"`
	Message     string                 `json:"message"`
	ApprovalID  *string                `json:"approval_id,omitempty"`
	ExecutionID *string                `json:"execution_id,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// approvalPayload is the serialized command stored on an ApprovalRequest.
type approvalPayload struct {
	CommandID         string                 `json:"commandId"`
	Input             map[string]interface{} `json:"input"`
	RequestedByUserID string                 `json:"requestedByUserId"`
}

// CommandService runs governed commands and drives the two-person approval
// workflow for high-risk ones.
type CommandService struct {
	db       *gorm.DB
	audit    *AuditService
	roles    *RoleService
	settings *SecuritySettingsService
	events   *SecurityEventService
	registry *CommandRegistry
	executor CommandExecutor
	now      func() time.Time
}

// NewCommandService wires a CommandService.
func NewCommandService(db *gorm.DB, audit *AuditService, roles *RoleService, settings *SecuritySettingsService,
	events *SecurityEventService, registry *CommandRegistry, executor CommandExecutor) *CommandService {
	if executor == nil {
		executor = RecordOnlyExecutor{}
	}
	return &CommandService{
		db:       db,
		audit:    audit,
		roles:    roles,
		settings: settings,
		events:   events,
		registry: registry,
		executor: executor,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *CommandService) WithClock(now func() time.Time) *CommandService {
	s.now = now
	return s
}

// Registry exposes the command catalog.
func (s *CommandService) Registry() *CommandRegistry {
	return s.registry
}

// Submit runs a command for the actor, or files an approval request when the
// command is high risk and the community enforces the two-person rule.
func (s *CommandService) Submit(ctx context.Context, actor *ActorContext, commandID string, rawInput map[string]interface{}) (*RunResult, error) {
	if err := Authorize(actor, models.PermCommandsRun); err != nil {
		return nil, err
	}
	def, ok := s.registry.Lookup(commandID)
	if !ok {
		return nil, errorf(CodeNotFound, "unknown command %q", commandID)
	}
	if err := Authorize(actor, def.RequiredPermission); err != nil {
		return nil, err
	}
	if err := s.requireEnabled(ctx, actor.CommunityID, def.ID); err != nil {
		return nil, err
	}
	input, err := def.ValidateInput(rawInput)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.Get(ctx, actor.CommunityID)
	if err != nil {
		return nil, err
	}

	highRisk := def.RiskLevel.IsHighRisk()
	if highRisk {
		if settings.RequireSensitiveModeForHighRisk {
			if err := s.requireSensitiveMode(ctx, actor); err != nil {
				return nil, err
			}
		}
		if err := s.enforceCooldown(ctx, actor.CommunityID, actor.UserID, def.ID, settings.HighRiskCommandCooldownSeconds); err != nil {
			return nil, err
		}
	}

	if highRisk && settings.TwoPersonRule {
		return s.requestApproval(ctx, actor, def, input, settings)
	}

	var result *RunResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.execute(ctx, tx, actor, def, input, nil, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if highRisk {
		s.detect(s.events.MaybeRecordHighRiskCommandBurst(ctx, actor.CommunityID, actor.UserID), "high_risk_command_burst")
	}
	return result, nil
}

func (s *CommandService) requestApproval(ctx context.Context, actor *ActorContext, def CommandDefinition, input map[string]interface{}, settings SecuritySettings) (*RunResult, error) {
	if seconds := settings.HighRiskCommandCooldownSeconds; seconds > 0 {
		windowStart := s.now().Add(-time.Duration(seconds) * time.Second).UTC()
		var pending models.ApprovalRequest
		err := s.db.WithContext(ctx).
			Where("community_id = ? AND requested_by_user_id = ? AND status = ? AND risk_level IN ? AND created_at >= ?",
				actor.CommunityID, actor.UserID, models.ApprovalPending,
				[]models.RiskLevel{models.RiskHigh, models.RiskCritical}, windowStart).
			Order("created_at desc").Take(&pending).Error
		switch {
		case err == nil:
			return nil, errorf(CodeConflict, "high-risk requests are cooling down, try again in %ds",
				remainingSeconds(pending.CreatedAt, seconds, s.now()))
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, dbError(err, "approval request")
		}
	}

	payload, err := json.Marshal(approvalPayload{CommandID: def.ID, Input: input, RequestedByUserID: actor.UserID})
	if err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: "command input is not serializable", Err: err}
	}
	approval := models.ApprovalRequest{
		CommunityID:       actor.CommunityID,
		RequestedByUserID: actor.UserID,
		RiskLevel:         def.RiskLevel,
		Status:            models.ApprovalPending,
		CommandID:         def.ID,
		Payload:           string(payload),
		CreatedAt:         s.now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&approval).Error; err != nil {
			return dbError(err, "approval request")
		}
		_, err := s.audit.AppendTx(tx, AuditEntry{
			CommunityID: actor.communityRef(),
			UserID:      actor.userRef(),
			EventType:   AuditApprovalRequested,
			IP:          actor.IP,
			UserAgent:   actor.UserAgent,
			Metadata: map[string]interface{}{
				"approvalId": approval.ID,
				"commandId":  def.ID,
				"riskLevel":  string(def.RiskLevel),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.IncApproval("requested")
	logger.Log().WithFields(map[string]interface{}{
		"community_id": actor.CommunityID,
		"user_id":      actor.UserID,
		"approval_id":  approval.ID,
		"command_id":   def.ID,
	}).Info("approval requested")

	s.detect(s.events.MaybeRecordApprovalSpam(ctx, actor.CommunityID, actor.UserID), "approval_spam")
	return &RunResult{
		Status:     RunPendingApproval,
		Message:    "Approval requested. Awaiting a second staff decision.",
		ApprovalID: strPtr(approval.ID),
	}, nil
}

// Decide approves or rejects a pending request. The transition is a single
// conditional update; a request that is no longer pending yields conflict.
// An approval commits before the command runs, so a failed execution leaves
// the request APPROVED and is reported as the returned error.
func (s *CommandService) Decide(ctx context.Context, approver *ActorContext, approvalID string, decision Decision, reason string) (*RunResult, error) {
	if err := Authorize(approver, models.PermApprovalsDecide); err != nil {
		return nil, err
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, errorf(CodeInvalidInput, "unknown decision %q", decision)
	}

	var approval models.ApprovalRequest
	if err := s.db.WithContext(ctx).Where("id = ?", approvalID).Take(&approval).Error; err != nil {
		return nil, dbError(err, "approval request")
	}
	if err := s.events.RequireSameCommunity(ctx, approver, approval.CommunityID, "approval request", approval.ID); err != nil {
		return nil, err
	}
	if approval.RequestedByUserID == approver.UserID {
		return nil, newError(CodeForbidden, "approver must be different from requester")
	}
	settings, err := s.settings.Get(ctx, approval.CommunityID)
	if err != nil {
		return nil, err
	}
	if approval.RiskLevel.IsHighRisk() && settings.RequireSensitiveModeForHighRisk {
		if err := s.requireSensitiveMode(ctx, approver); err != nil {
			return nil, err
		}
	}

	status, event := models.ApprovalApproved, AuditApprovalApproved
	if decision == DecisionReject {
		status, event = models.ApprovalRejected, AuditApprovalRejected
	}
	decidedAt := s.now().UTC()
	reason = strings.TrimSpace(reason)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":           status,
			"approver_user_id": approver.UserID,
			"decided_at":       decidedAt,
		}
		if reason != "" {
			updates["reason"] = reason
		}
		res := tx.Model(&models.ApprovalRequest{}).
			Where("id = ? AND status = ?", approval.ID, models.ApprovalPending).
			Updates(updates)
		if res.Error != nil {
			return dbError(res.Error, "approval request")
		}
		if res.RowsAffected == 0 {
			return newError(CodeConflict, "approval request is no longer pending")
		}
		metadata := map[string]interface{}{
			"approvalId":        approval.ID,
			"commandId":         approval.CommandID,
			"riskLevel":         string(approval.RiskLevel),
			"requestedByUserId": approval.RequestedByUserID,
		}
		if reason != "" {
			metadata["reason"] = reason
		}
		_, err := s.audit.AppendTx(tx, AuditEntry{
			CommunityID: approver.communityRef(),
			UserID:      approver.userRef(),
			EventType:   event,
			IP:          approver.IP,
			UserAgent:   approver.UserAgent,
			Metadata:    metadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.IncApproval(string(decision))
	logger.Log().WithFields(map[string]interface{}{
		"community_id": approval.CommunityID,
		"approval_id":  approval.ID,
		"approver_id":  approver.UserID,
		"decision":     decision,
	}).Info("approval decided")

	if decision == DecisionReject {
		return &RunResult{Status: string(models.ApprovalRejected), Message: "Approval request rejected.", ApprovalID: strPtr(approval.ID)}, nil
	}

	result, err := s.executeApproved(ctx, approver, &approval, settings)
	if err != nil {
		s.recordFailure(ctx, approver, &approval, err)
		return nil, &Error{
			Code:    CodeOf(err),
			Message: "approval recorded but execution failed: " + MessageOf(err),
			Err:     err,
		}
	}
	if approval.RiskLevel.IsHighRisk() {
		s.detect(s.events.MaybeRecordHighRiskCommandBurst(ctx, approval.CommunityID, approval.RequestedByUserID), "high_risk_command_burst")
	}
	return result, nil
}

// executeApproved runs the stored payload as the requester, re-checking the
// requester's standing at execution time.
func (s *CommandService) executeApproved(ctx context.Context, approver *ActorContext, approval *models.ApprovalRequest, settings SecuritySettings) (*RunResult, error) {
	var payload approvalPayload
	if err := json.Unmarshal([]byte(approval.Payload), &payload); err != nil || payload.CommandID == "" {
		return nil, newError(CodeInvalidInput, "approval payload is invalid")
	}
	def, ok := s.registry.Lookup(payload.CommandID)
	if !ok {
		return nil, errorf(CodeNotFound, "unknown command %q", payload.CommandID)
	}
	requester, err := s.roles.ResolveActor(ctx, approval.RequestedByUserID, approval.CommunityID, "")
	if err != nil {
		return nil, err
	}
	requester.IP, requester.UserAgent = approver.IP, approver.UserAgent
	if err := Authorize(requester, def.RequiredPermission); err != nil {
		return nil, err
	}
	if err := s.requireEnabled(ctx, approval.CommunityID, def.ID); err != nil {
		return nil, err
	}
	input, err := def.ValidateInput(payload.Input)
	if err != nil {
		return nil, err
	}
	if def.RiskLevel.IsHighRisk() {
		if err := s.enforceCooldown(ctx, approval.CommunityID, requester.UserID, def.ID, settings.HighRiskCommandCooldownSeconds); err != nil {
			return nil, err
		}
	}

	var result *RunResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.execute(ctx, tx, requester, def, input, strPtr(approval.ID), approver.userRef())
		return err
	})
	return result, err
}

// execute applies side effects, the execution record and its ledger entry
// inside tx.
func (s *CommandService) execute(ctx context.Context, tx *gorm.DB, actor *ActorContext, def CommandDefinition,
	input map[string]interface{}, approvalID, approvedBy *string) (*RunResult, error) {
	outcome, err := s.executor.Execute(ctx, tx, ExecutionRequest{
		CommunityID:      actor.CommunityID,
		ActorUserID:      actor.UserID,
		Command:          def,
		Input:            input,
		ApprovalID:       approvalID,
		ApprovedByUserID: approvedBy,
	})
	if err != nil {
		if CodeOf(err) == CodeUnknown {
			return nil, &Error{Code: CodeUnknown, Message: "command failed: " + err.Error(), Err: err}
		}
		return nil, err
	}

	execution := models.CommandExecution{
		CommunityID:       actor.CommunityID,
		UserID:            actor.UserID,
		CommandID:         def.ID,
		RiskLevel:         def.RiskLevel,
		ApprovalRequestID: approvalID,
		CreatedAt:         s.now().UTC(),
	}
	if err := tx.Create(&execution).Error; err != nil {
		return nil, dbError(err, "command execution")
	}

	metadata := map[string]interface{}{
		"commandId":   def.ID,
		"riskLevel":   string(def.RiskLevel),
		"executionId": execution.ID,
		"input":       input,
	}
	if approvalID != nil {
		metadata["approvalId"] = *approvalID
	}
	if approvedBy != nil {
		metadata["approvedByUserId"] = *approvedBy
	}
	if len(outcome.Details) > 0 {
		metadata["result"] = outcome.Details
	}
	if _, err := s.audit.AppendTx(tx, AuditEntry{
		CommunityID: actor.communityRef(),
		UserID:      actor.userRef(),
		EventType:   AuditCommandExecuted,
		IP:          actor.IP,
		UserAgent:   actor.UserAgent,
		Metadata:    metadata,
	}); err != nil {
		return nil, err
	}
	metrics.IncCommandExecuted(string(def.RiskLevel))

	return &RunResult{
		Status:      RunExecuted,
		Message:     outcome.Message,
		ApprovalID:  approvalID,
		ExecutionID: strPtr(execution.ID),
		Details:     outcome.Details,
	}, nil
}

func (s *CommandService) recordFailure(ctx context.Context, approver *ActorContext, approval *models.ApprovalRequest, cause error) {
	_, err := s.audit.Append(ctx, AuditEntry{
		CommunityID: approver.communityRef(),
		UserID:      approver.userRef(),
		EventType:   AuditCommandFailed,
		IP:          approver.IP,
		UserAgent:   approver.UserAgent,
		Metadata: map[string]interface{}{
			"approvalId":        approval.ID,
			"commandId":         approval.CommandID,
			"requestedByUserId": approval.RequestedByUserID,
			"code":              string(CodeOf(cause)),
			"error":             MessageOf(cause),
		},
	})
	if err != nil {
		logger.Log().WithError(err).WithField("approval_id", approval.ID).Error("failed to record command failure")
	}
}

func (s *CommandService) requireEnabled(ctx context.Context, communityID, commandID string) error {
	var toggle models.CommandToggle
	err := s.db.WithContext(ctx).Where("community_id = ? AND command_id = ?", communityID, commandID).Take(&toggle).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	case err != nil:
		return dbError(err, "command toggle")
	case !toggle.Enabled:
		return newError(CodeForbidden, "this command is currently disabled")
	}
	return nil
}

func (s *CommandService) requireSensitiveMode(ctx context.Context, actor *ActorContext) error {
	if actor.SessionID == "" {
		return newError(CodeForbidden, "sensitive mode is required for high-risk operations")
	}
	var grant models.SensitiveModeGrant
	err := s.db.WithContext(ctx).Where("session_id = ?", actor.SessionID).Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(CodeForbidden, "sensitive mode is required for high-risk operations")
	}
	if err != nil {
		return dbError(err, "sensitive mode grant")
	}
	if grant.UserID != actor.UserID || !grant.ExpiresAt.After(s.now()) {
		return newError(CodeForbidden, "sensitive mode is required for high-risk operations")
	}
	return nil
}

func (s *CommandService) enforceCooldown(ctx context.Context, communityID, userID, commandID string, seconds int) error {
	if seconds <= 0 {
		return nil
	}
	windowStart := s.now().Add(-time.Duration(seconds) * time.Second).UTC()
	var recent models.CommandExecution
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND user_id = ? AND command_id = ? AND created_at >= ?", communityID, userID, commandID, windowStart).
		Order("created_at desc").Take(&recent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return dbError(err, "command execution")
	}
	return errorf(CodeConflict, "command cooldown active, try again in %ds", remainingSeconds(recent.CreatedAt, seconds, s.now()))
}

// detect logs a detector failure. Detectors run after the triggering write
// has committed and must not undo it.
func (s *CommandService) detect(err error, detector string) {
	if err != nil {
		logger.Log().WithError(err).WithField("detector", detector).Warn("security detector failed")
	}
}

func remainingSeconds(since time.Time, seconds int, now time.Time) int {
	left := since.Add(time.Duration(seconds) * time.Second).Sub(now).Seconds()
	return int(math.Max(1, math.Ceil(left)))
}

// ListApprovals returns the community's approval requests, newest first.
// Requires approvals:decide.
func (s *CommandService) ListApprovals(ctx context.Context, actor *ActorContext, status models.ApprovalStatus, take int) ([]models.ApprovalRequest, error) {
	if err := Authorize(actor, models.PermApprovalsDecide); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("community_id = ?", actor.CommunityID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.ApprovalRequest
	if err := q.Order("created_at desc").Limit(clampTake(take, defaultApprovalTake, maxApprovalTake)).Find(&out).Error; err != nil {
		return nil, dbError(err, "approval requests")
	}
	return out, nil
}

// ToggleCommand enables or disables a command for the actor's community.
// Requires commands:manage.
func (s *CommandService) ToggleCommand(ctx context.Context, actor *ActorContext, commandID string, enabled bool) error {
	if err := Authorize(actor, models.PermCommandsManage); err != nil {
		return err
	}
	if _, ok := s.registry.Lookup(commandID); !ok {
		return errorf(CodeNotFound, "unknown command %q", commandID)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		toggle := models.CommandToggle{
			CommunityID: actor.CommunityID,
			CommandID:   commandID,
			Enabled:     enabled,
			UpdatedAt:   s.now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "community_id"}, {Name: "command_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
		}).Create(&toggle).Error; err != nil {
			return dbError(err, "command toggle")
		}
		_, err := s.audit.AppendTx(tx, AuditEntry{
			CommunityID: actor.communityRef(),
			UserID:      actor.userRef(),
			EventType:   AuditCommandToggled,
			IP:          actor.IP,
			UserAgent:   actor.UserAgent,
			Metadata:    map[string]interface{}{"commandId": commandID, "enabled": enabled},
		})
		return err
	})
}

// EnableSensitiveMode grants the actor's session a sensitive-mode window of
// the community's configured length.
func (s *CommandService) EnableSensitiveMode(ctx context.Context, actor *ActorContext) (*models.SensitiveModeGrant, error) {
	if err := Authorize(actor, models.PermCommandsRun); err != nil {
		return nil, err
	}
	if actor.SessionID == "" {
		return nil, newError(CodeInvalidInput, "sensitive mode requires a session")
	}
	settings, err := s.settings.Get(ctx, actor.CommunityID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	grant := models.SensitiveModeGrant{
		SessionID: actor.SessionID,
		UserID:    actor.UserID,
		ExpiresAt: now.Add(time.Duration(settings.SensitiveModeTTLMinutes) * time.Minute),
		CreatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "expires_at", "created_at"}),
		}).Create(&grant).Error; err != nil {
			return dbError(err, "sensitive mode grant")
		}
		_, err := s.audit.AppendTx(tx, AuditEntry{
			CommunityID: actor.communityRef(),
			UserID:      actor.userRef(),
			EventType:   AuditSensitiveModeEnabled,
			IP:          actor.IP,
			UserAgent:   actor.UserAgent,
			Metadata:    map[string]interface{}{"expiresAt": FormatAuditTime(grant.ExpiresAt), "ttlMinutes": settings.SensitiveModeTTLMinutes},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// DisableSensitiveMode ends the session's grant. Ending a grant that is
// already gone is not an error, so its ledger entry is best-effort.
func (s *CommandService) DisableSensitiveMode(ctx context.Context, actor *ActorContext) error {
	if actor == nil || actor.SessionID == "" {
		return newError(CodeInvalidInput, "sensitive mode requires a session")
	}
	res := s.db.WithContext(ctx).Where("session_id = ? AND user_id = ?", actor.SessionID, actor.UserID).Delete(&models.SensitiveModeGrant{})
	if res.Error != nil {
		return dbError(res.Error, "sensitive mode grant")
	}
	if res.RowsAffected == 0 {
		return nil
	}
	s.audit.AppendBestEffort(ctx, AuditEntry{
		CommunityID: actor.communityRef(),
		UserID:      actor.userRef(),
		EventType:   AuditSensitiveModeDisabled,
		IP:          actor.IP,
		UserAgent:   actor.UserAgent,
	}, "sensitive mode revoke")
	return nil
}

// CommandStatus is a catalog entry with its per-community toggle.
type CommandStatus struct {
	CommandDefinition
	Enabled bool `json:"enabled"`
}

// ListCommands returns the catalog as seen by the actor's community.
// Requires commands:run.
func (s *CommandService) ListCommands(ctx context.Context, actor *ActorContext) ([]CommandStatus, error) {
	if err := Authorize(actor, models.PermCommandsRun); err != nil {
		return nil, err
	}
	var toggles []models.CommandToggle
	if err := s.db.WithContext(ctx).Where("community_id = ?", actor.CommunityID).Find(&toggles).Error; err != nil {
		return nil, dbError(err, "command toggles")
	}
	disabled := make(map[string]bool, len(toggles))
	for _, t := range toggles {
		disabled[t.CommandID] = !t.Enabled
	}
	defs := s.registry.List()
	out := make([]CommandStatus, 0, len(defs))
	for _, d := range defs {
		out = append(out, CommandStatus{CommandDefinition: d, Enabled: !disabled[d.ID]})
	}
	return out, nil
}
