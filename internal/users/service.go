package users

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/identity"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db     *gorm.DB
	clock  clockwork.Clock
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// ResolveVoter turns validated session claims into a registered voter identity.
func (s *Service) ResolveVoter(ctx context.Context, claims auth.SessionClaims) (identity.Identity, error) {
	userID, err := s.ResolveCanonicalUserID(ctx, claims)
	if err != nil {
		return identity.Identity{}, err
	}
	voter, err := identity.NewRegistered(userID)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return voter, nil
}

// ResolveCanonicalUserID returns the canonical user id for the provided session claims.
// It creates a new identity mapping when the provider+subject pair has not been seen before.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := claims.Principal()
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if canonicalIdentifier, ok := cachedIdentifier.(string); ok {
			return canonicalIdentifier, nil
		}
	}

	db := s.db.WithContext(ctx)
	var record Identity
	err := db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&record).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			AvatarURL:   normalize(claims.UserAvatarURL),
			LastSeenAt:  s.clock.Now().UTC(),
		}
		if err := db.Create(&record).Error; err != nil {
			if !errors.Is(err, gorm.ErrDuplicatedKey) {
				return "", err
			}
			// another request registered the same login first
			if err := db.Where("provider = ? AND subject = ?", provider, subject).First(&record).Error; err != nil {
				return "", err
			}
		}
	case err != nil:
		return "", err
	default:
		s.touch(db, record, claims)
	}

	s.cache.Store(cacheKey, record.UserID)
	return record.UserID, nil
}

func (s *Service) touch(db *gorm.DB, record Identity, claims auth.SessionClaims) {
	updates := map[string]interface{}{"last_seen_at": s.clock.Now().UTC()}
	if email := normalize(claims.UserEmail); email != "" && email != record.Email {
		updates["user_email"] = email
	}
	if display := normalize(claims.UserDisplayName); display != "" && display != record.DisplayName {
		updates["user_display_name"] = display
	}
	if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != record.AvatarURL {
		updates["user_avatar_url"] = avatar
	}
	err := db.Model(&Identity{}).
		Where("provider = ? AND subject = ?", record.Provider, record.Subject).
		Updates(updates).
		Error
	if err != nil {
		s.logger.Warn("user identity refresh failed",
			zap.String("provider", record.Provider),
			zap.String("subject", record.Subject),
			zap.Error(err))
	}
}
