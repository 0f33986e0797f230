package services

import (
	"context"

	"github.com/vanguard-ops/console/internal/models"
)

// RequireSameCommunity checks that a loaded resource belongs to the actor's
// community. A mismatch is reported as not_found so that existence is not
// leaked, while a tenant.violation entry and a CRITICAL
// cross_tenant_access_attempt event are recorded against the actor.
func (s *SecurityEventService) RequireSameCommunity(ctx context.Context, actor *ActorContext, resourceCommunityID, resourceKind, resourceID string) error {
	if resourceCommunityID == actor.CommunityID {
		return nil
	}
	details := map[string]interface{}{
		"resource":            resourceKind,
		"resourceId":          resourceID,
		"resourceCommunityId": resourceCommunityID,
	}
	if _, err := s.audit.Append(ctx, AuditEntry{
		CommunityID: actor.communityRef(),
		UserID:      actor.userRef(),
		EventType:   AuditTenantViolation,
		IP:          actor.IP,
		UserAgent:   actor.UserAgent,
		Metadata:    details,
	}); err != nil {
		return err
	}
	if _, err := s.Record(ctx, SecurityEventInput{
		CommunityID: actor.communityRef(),
		UserID:      actor.userRef(),
		Severity:    models.SeverityCritical,
		EventType:   EventCrossTenantAccessAttempt,
		Metadata:    details,
	}); err != nil {
		return err
	}
	return errorf(CodeNotFound, "%s not found", resourceKind)
}

// RecordFor records an externally reported signal in the actor's community.
// A subject user must be a member of that community.
func (s *SecurityEventService) RecordFor(ctx context.Context, actor *ActorContext, in SecurityEventInput) (*models.SecurityEvent, error) {
	in.CommunityID = actor.communityRef()
	if uid := deref(in.UserID); uid != "" {
		var members int64
		if err := s.db.WithContext(ctx).Model(&models.Membership{}).
			Where("community_id = ? AND user_id = ?", actor.CommunityID, uid).
			Count(&members).Error; err != nil {
			return nil, dbError(err, "membership")
		}
		if members == 0 {
			return nil, newError(CodeNotFound, "user not found")
		}
	}
	return s.Record(ctx, in)
}
