package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/models"
)

const tokenIssuer = "vanguard-console"

// SessionClaims are carried by bearer tokens. A token is only valid while
// the session it names exists.
type SessionClaims struct {
	SessionID   string `json:"sid"`
	CommunityID string `json:"cid"`
	jwt.RegisteredClaims
}

// TokenService issues session-bound HS256 bearer tokens and resolves them
// back to live sessions.
type TokenService struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService returns a TokenService. ttl bounds both the token and the
// session row it creates.
func NewTokenService(db *gorm.DB, secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{db: db, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// IssueSession opens a session for userID in communityID and returns its token.
func (s *TokenService) IssueSession(ctx context.Context, userID, communityID, ip, userAgent string) (string, *models.Session, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; err != nil {
		return "", nil, dbError(err, "user")
	}
	if user.IsDisabled() {
		return "", nil, ErrDisabled
	}
	now := s.now().UTC()
	session := models.Session{
		UserID:            userID,
		ActiveCommunityID: optional(communityID),
		IP:                ip,
		UserAgent:         userAgent,
		ExpiresAt:         now.Add(s.ttl),
		LastActiveAt:      now,
		CreatedAt:         now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return "", nil, dbError(err, "session")
	}
	token, err := s.Sign(session.ID, userID, communityID, session.ExpiresAt)
	if err != nil {
		return "", nil, err
	}
	return token, &session, nil
}

// Sign produces a token for an existing session.
func (s *TokenService) Sign(sessionID, userID, communityID string, expiresAt time.Time) (string, error) {
	claims := SessionClaims{
		SessionID:   sessionID,
		CommunityID: communityID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate validates a token and the session behind it, refreshing the
// session's activity timestamp.
func (s *TokenService) Authenticate(ctx context.Context, token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.SessionID == "" || claims.Subject == "" {
		return nil, newError(CodeForbidden, "invalid or expired token")
	}

	var session models.Session
	err = s.db.WithContext(ctx).Where("id = ? AND user_id = ?", claims.SessionID, claims.Subject).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(CodeForbidden, "session revoked")
	}
	if err != nil {
		return nil, dbError(err, "session")
	}
	now := s.now().UTC()
	if !session.ExpiresAt.After(now) {
		return nil, newError(CodeForbidden, "session expired")
	}
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("last_active_at", now).Error; err != nil {
		return nil, dbError(err, "session")
	}
	return claims, nil
}
