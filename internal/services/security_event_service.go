package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/logger"
	"github.com/vanguard-ops/console/internal/metrics"
	"github.com/vanguard-ops/console/internal/models"
	"github.com/vanguard-ops/console/internal/util"
)

// Security event types raised by the control plane and its callers.
const (
	EventHighRiskCommandBurst     = "high_risk_command_burst"
	EventApprovalSpam             = "approval_spam"
	EventCrossTenantAccessAttempt = "cross_tenant_access_attempt"
	EventLoginFailedBurst         = "login_failed_burst"
	EventLoginNewIP               = "login_new_ip"
)

const (
	detectionWindow        = 10 * time.Minute
	burstHighThreshold     = 3
	burstCriticalThreshold = 6
	approvalSpamThreshold  = 5
	defaultEventTake       = 80
	maxEventTake           = 200
)

var autoFreezeEventTypes = map[string]bool{
	EventCrossTenantAccessAttempt: true,
	EventLoginFailedBurst:         true,
}

// IsAutoFreezeEligible reports whether events of this type can freeze an account.
func IsAutoFreezeEligible(eventType string) bool {
	return autoFreezeEventTypes[eventType]
}

// SecurityEventInput is a signal to record.
type SecurityEventInput struct {
	CommunityID *string
	UserID      *string
	Severity    models.Severity
	EventType   string
	Metadata    interface{}
}

// SecurityEventService persists security signals, runs the window-based
// detectors and applies the auto-freeze policy.
type SecurityEventService struct {
	db       *gorm.DB
	audit    *AuditService
	settings *SecuritySettingsService
	now      func() time.Time
}

// NewSecurityEventService returns a SecurityEventService.
func NewSecurityEventService(db *gorm.DB, audit *AuditService, settings *SecuritySettingsService) *SecurityEventService {
	return &SecurityEventService{db: db, audit: audit, settings: settings, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *SecurityEventService) WithClock(now func() time.Time) *SecurityEventService {
	s.now = now
	return s
}

// Record persists the event and then evaluates auto-freeze. The event is
// kept even when the freeze fails; the freeze error is returned alongside it.
func (s *SecurityEventService) Record(ctx context.Context, in SecurityEventInput) (*models.SecurityEvent, error) {
	if strings.TrimSpace(in.EventType) == "" || len(in.EventType) > 64 {
		return nil, newError(CodeInvalidInput, "event type must be 1-64 characters")
	}
	if in.Severity.Rank() == 0 {
		return nil, errorf(CodeInvalidInput, "unknown severity %q", in.Severity)
	}
	stored, _, err := encodeMetadata(in.Metadata)
	if err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: "event metadata is not serializable", Err: err}
	}

	event := models.SecurityEvent{
		CommunityID: nonEmpty(in.CommunityID),
		UserID:      nonEmpty(in.UserID),
		Severity:    in.Severity,
		EventType:   in.EventType,
		Metadata:    stored,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, dbError(err, "security event")
	}
	metrics.IncSecurityEvent(string(event.Severity))
	logger.Log().WithFields(map[string]interface{}{
		"community_id": deref(event.CommunityID),
		"user_id":      deref(event.UserID),
		"event_type":   util.SanitizeForLog(event.EventType),
		"severity":     event.Severity,
	}).Info("security event recorded")

	if event.CommunityID != nil && event.UserID != nil {
		if err := s.maybeAutoFreeze(ctx, &event, in.Metadata); err != nil {
			logger.Log().WithError(err).WithField("event_id", event.ID).Error("auto-freeze failed")
			return &event, err
		}
	}
	return &event, nil
}

func (s *SecurityEventService) maybeAutoFreeze(ctx context.Context, event *models.SecurityEvent, metadata interface{}) error {
	if !IsAutoFreezeEligible(event.EventType) {
		return nil
	}
	communityID, userID := *event.CommunityID, *event.UserID
	settings, err := s.settings.Get(ctx, communityID)
	if err != nil {
		return err
	}
	if !settings.AutoFreezeEnabled || !event.Severity.Meets(settings.AutoFreezeThreshold) {
		return nil
	}

	db := s.db.WithContext(ctx)
	var user models.User
	if err := db.Where("id = ?", userID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return dbError(err, "user")
	}
	if user.IsDisabled() {
		return nil
	}

	_, trigger, _ := encodeMetadata(metadata)
	exempt := ""
	err = db.Transaction(func(tx *gorm.DB) error {
		reason, err := freezeExemption(tx, communityID, userID)
		if err != nil || reason != "" {
			exempt = reason
			return err
		}
		revoked, err := disableAccountTx(tx, userID, s.now())
		if err != nil {
			return err
		}
		_, err = s.audit.AppendTx(tx, AuditEntry{
			CommunityID: strPtr(communityID),
			EventType:   AuditUserDisabled,
			Metadata: map[string]interface{}{
				"targetUserId":    userID,
				"disabled":        true,
				"source":          "auto_freeze",
				"sessionsRevoked": revoked,
				"trigger": map[string]interface{}{
					"eventType": event.EventType,
					"severity":  string(event.Severity),
					"metadata":  trigger,
				},
			},
		})
		return err
	})
	if err != nil {
		// Lost a race with another disable; nothing left to do.
		if err == errAlreadyDisabled {
			return nil
		}
		return err
	}
	if exempt != "" {
		logger.Log().WithFields(map[string]interface{}{
			"community_id": communityID,
			"user_id":      userID,
			"reason":       exempt,
		}).Warn("auto-freeze skipped")
		return nil
	}
	metrics.IncAutoFreeze()
	logger.Log().WithFields(map[string]interface{}{
		"community_id": communityID,
		"user_id":      userID,
		"event_type":   event.EventType,
		"severity":     event.Severity,
	}).Warn("account auto-frozen")
	return nil
}

// freezeExemption reports why an account must not be frozen by a signal
// from communityID, or "" when it may be. The freeze is account-wide, so a
// community can only freeze its own members and never an owner or an
// administrator of another community.
func freezeExemption(tx *gorm.DB, communityID, userID string) (string, error) {
	var member int64
	if err := tx.Model(&models.Membership{}).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Count(&member).Error; err != nil {
		return "", dbError(err, "membership")
	}
	if member == 0 {
		return "not a member of the community", nil
	}
	top, err := highestRolePriority(tx, userID, "")
	if err != nil {
		return "", err
	}
	if top >= models.TopTierPriority {
		return "owner account", nil
	}
	elsewhere, err := highestRolePriority(tx, userID, communityID)
	if err != nil {
		return "", err
	}
	if elsewhere >= models.SecondTierPriority {
		return "administers another community", nil
	}
	return "", nil
}

// MaybeRecordHighRiskCommandBurst raises high_risk_command_burst when the
// user ran at least three high-risk commands in the window, at most once
// per window.
func (s *SecurityEventService) MaybeRecordHighRiskCommandBurst(ctx context.Context, communityID, userID string) error {
	since := s.now().Add(-detectionWindow).UTC()
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.CommandExecution{}).
		Where("community_id = ? AND user_id = ? AND risk_level IN ? AND created_at >= ?",
			communityID, userID, []models.RiskLevel{models.RiskHigh, models.RiskCritical}, since).
		Count(&count).Error; err != nil {
		return dbError(err, "command executions")
	}
	if count < burstHighThreshold {
		return nil
	}
	severity := models.SeverityHigh
	if count >= burstCriticalThreshold {
		severity = models.SeverityCritical
	}
	return s.recordOncePerWindow(ctx, communityID, userID, EventHighRiskCommandBurst, severity, since, count)
}

// MaybeRecordApprovalSpam raises approval_spam when the user filed at least
// five approval requests in the window, at most once per window.
func (s *SecurityEventService) MaybeRecordApprovalSpam(ctx context.Context, communityID, userID string) error {
	since := s.now().Add(-detectionWindow).UTC()
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Where("community_id = ? AND requested_by_user_id = ? AND created_at >= ?", communityID, userID, since).
		Count(&count).Error; err != nil {
		return dbError(err, "approval requests")
	}
	if count < approvalSpamThreshold {
		return nil
	}
	return s.recordOncePerWindow(ctx, communityID, userID, EventApprovalSpam, models.SeverityMedium, since, count)
}

func (s *SecurityEventService) recordOncePerWindow(ctx context.Context, communityID, userID, eventType string, severity models.Severity, since time.Time, count int64) error {
	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.SecurityEvent{}).
		Where("community_id = ? AND user_id = ? AND event_type = ? AND created_at >= ?", communityID, userID, eventType, since).
		Count(&existing).Error; err != nil {
		return dbError(err, "security events")
	}
	if existing > 0 {
		return nil
	}
	_, err := s.Record(ctx, SecurityEventInput{
		CommunityID: strPtr(communityID),
		UserID:      strPtr(userID),
		Severity:    severity,
		EventType:   eventType,
		Metadata:    map[string]interface{}{"count": count, "windowMinutes": int(detectionWindow / time.Minute)},
	})
	return err
}

// SecurityEventFilter narrows ListSecurityEvents.
type SecurityEventFilter struct {
	Severity  models.Severity
	EventType string
	UserID    string
	// IncludeGlobal adds global events concerning members of the community.
	IncludeGlobal bool
	Take          int
	Cursor        string
}

// SecurityEventPage is one page of events, newest first.
type SecurityEventPage struct {
	Items      []models.SecurityEvent `json:"items"`
	NextCursor *string                `json:"next_cursor"`
}

// List returns the community's security events. Requires security:read.
func (s *SecurityEventService) List(ctx context.Context, actor *ActorContext, f SecurityEventFilter) (*SecurityEventPage, error) {
	if err := Authorize(actor, models.PermSecurityRead); err != nil {
		return nil, err
	}
	take := clampTake(f.Take, defaultEventTake, maxEventTake)
	db := s.db.WithContext(ctx)

	q := db.Model(&models.SecurityEvent{})
	if f.IncludeGlobal {
		members := db.Model(&models.Membership{}).Select("user_id").Where("community_id = ?", actor.CommunityID)
		q = q.Where("community_id = ? OR (community_id IS NULL AND user_id IN (?))", actor.CommunityID, members)
	} else {
		q = q.Where("community_id = ?", actor.CommunityID)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if et := strings.TrimSpace(f.EventType); et != "" {
		if len(et) > 64 {
			et = et[:64]
		}
		q = q.Where("LOWER(event_type) LIKE ?", "%"+strings.ToLower(et)+"%")
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Cursor != "" {
		var anchor models.SecurityEvent
		if err := db.Select("id", "created_at").Where("id = ?", f.Cursor).Take(&anchor).Error; err != nil {
			return nil, dbError(err, "cursor")
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", anchor.CreatedAt, anchor.CreatedAt, anchor.ID)
	}

	var items []models.SecurityEvent
	if err := q.Order("created_at desc, id desc").Limit(take + 1).Find(&items).Error; err != nil {
		return nil, dbError(err, "security events")
	}
	page := &SecurityEventPage{Items: items}
	if len(items) > take {
		page.Items = items[:take]
		page.NextCursor = strPtr(page.Items[take-1].ID)
	}
	return page, nil
}
