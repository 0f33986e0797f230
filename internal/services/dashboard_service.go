package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/cache"
	"github.com/vanguard-ops/console/internal/logger"
	"github.com/vanguard-ops/console/internal/models"
)

// DefaultDashboardTTL bounds how stale dashboard metrics may be.
const DefaultDashboardTTL = 10 * time.Second

const dashboardRecentLimit = 12

// StaffBucket counts staff members holding one role.
type StaffBucket struct {
	Total int `json:"total"`
}

// DashboardMetrics is the security overview of one community.
type DashboardMetrics struct {
	ActiveSessions     int64                  `json:"activeSessions"`
	ApprovalsPending   int64                  `json:"approvalsPending"`
	HighRiskCommands7d int64                  `json:"highRiskCommands7d"`
	Events24h          map[string]int64       `json:"events24h"`
	SuspiciousNewIP    []models.SecurityEvent `json:"suspiciousNewIp"`
	Staff              struct {
		Total    int                    `json:"total"`
		Disabled int                    `json:"disabled"`
		ByRole   map[string]StaffBucket `json:"byRole"`
	} `json:"staff"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// DashboardService computes dashboard metrics through an injected cache
// keyed by community.
type DashboardService struct {
	db    *gorm.DB
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewDashboardService returns a DashboardService. A nil cache disables caching.
func NewDashboardService(db *gorm.DB, c cache.Cache, ttl time.Duration) *DashboardService {
	if ttl <= 0 {
		ttl = DefaultDashboardTTL
	}
	return &DashboardService{db: db, cache: c, ttl: ttl, now: time.Now}
}

// Metrics returns the community's dashboard. Requires security:read.
func (s *DashboardService) Metrics(ctx context.Context, actor *ActorContext) (*DashboardMetrics, error) {
	if err := Authorize(actor, models.PermSecurityRead); err != nil {
		return nil, err
	}
	key := cache.Key("dashboard", actor.CommunityID)
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var m DashboardMetrics
			if json.Unmarshal(raw, &m) == nil {
				return &m, nil
			}
		case !errors.Is(err, cache.ErrMiss):
			logger.Log().WithError(err).Warn("dashboard cache read failed")
		}
	}

	m, err := s.compute(ctx, actor.CommunityID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(m); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
				logger.Log().WithError(err).Warn("dashboard cache write failed")
			}
		}
	}
	return m, nil
}

// Invalidate drops the cached dashboard of a community.
func (s *DashboardService) Invalidate(ctx context.Context, communityID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, cache.Key("dashboard", communityID))
}

func (s *DashboardService) compute(ctx context.Context, communityID string) (*DashboardMetrics, error) {
	now := s.now().UTC()
	since24h := now.Add(-24 * time.Hour)
	since7d := now.Add(-7 * 24 * time.Hour)
	activeCutoff := now.Add(-5 * time.Minute)
	db := s.db.WithContext(ctx)

	m := &DashboardMetrics{GeneratedAt: now, Events24h: map[string]int64{}}

	if err := db.Model(&models.Session{}).
		Where("active_community_id = ? AND last_active_at >= ?", communityID, activeCutoff).
		Count(&m.ActiveSessions).Error; err != nil {
		return nil, dbError(err, "sessions")
	}
	if err := db.Model(&models.ApprovalRequest{}).
		Where("community_id = ? AND status = ?", communityID, models.ApprovalPending).
		Count(&m.ApprovalsPending).Error; err != nil {
		return nil, dbError(err, "approval requests")
	}
	if err := db.Model(&models.CommandExecution{}).
		Where("community_id = ? AND risk_level IN ? AND created_at >= ?",
			communityID, []models.RiskLevel{models.RiskHigh, models.RiskCritical}, since7d).
		Count(&m.HighRiskCommands7d).Error; err != nil {
		return nil, dbError(err, "command executions")
	}

	var bySeverity []struct {
		Severity string
		Count    int64
	}
	if err := db.Model(&models.SecurityEvent{}).
		Select("severity, COUNT(*) AS count").
		Where("community_id = ? AND created_at >= ?", communityID, since24h).
		Group("severity").Scan(&bySeverity).Error; err != nil {
		return nil, dbError(err, "security events")
	}
	for _, row := range bySeverity {
		m.Events24h[row.Severity] = row.Count
	}

	if err := db.Where("community_id = ? AND event_type = ? AND created_at >= ?", communityID, EventLoginNewIP, since7d).
		Order("created_at desc").Limit(dashboardRecentLimit).
		Find(&m.SuspiciousNewIP).Error; err != nil {
		return nil, dbError(err, "security events")
	}

	var staff []models.Membership
	if err := db.Preload("Role").
		Joins("JOIN roles ON roles.id = memberships.role_id").
		Where("memberships.community_id = ? AND roles.priority >= ?", communityID, models.StaffPriority).
		Find(&staff).Error; err != nil {
		return nil, dbError(err, "memberships")
	}
	userIDs := make([]string, 0, len(staff))
	for _, ms := range staff {
		userIDs = append(userIDs, ms.UserID)
	}
	disabled := map[string]bool{}
	if len(userIDs) > 0 {
		var rows []models.User
		if err := db.Select("id").Where("id IN ? AND disabled_at IS NOT NULL", userIDs).Find(&rows).Error; err != nil {
			return nil, dbError(err, "users")
		}
		for _, u := range rows {
			disabled[u.ID] = true
		}
	}

	m.Staff.ByRole = map[string]StaffBucket{}
	for _, b := range []models.BuiltinRole{models.RoleOwner, models.RoleAdmin, models.RoleMod, models.RoleTrialMod} {
		m.Staff.ByRole[string(b)] = StaffBucket{}
	}
	for _, ms := range staff {
		if disabled[ms.UserID] {
			m.Staff.Disabled++
			continue
		}
		bucket := ms.Role.Name
		if !ms.Role.IsSystemDefault {
			bucket = "CUSTOM"
		}
		b := m.Staff.ByRole[bucket]
		b.Total++
		m.Staff.ByRole[bucket] = b
		m.Staff.Total++
	}
	return m, nil
}
