package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultProvider = "default"

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages canonical user identifiers and the display names used by
// the leaderboard.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

type cachedProfile struct {
	userID      string
	email       string
	displayName string
}

// NewService constructs the identity service. The user_identities table must
// already be migrated.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the session claims.
// It records the identity on first sight and refreshes the stored profile when
// the claims carry a new email or display name.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}
	email := normalize(claims.UserEmail)
	displayName := normalize(claims.UserDisplayName)

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		profile, ok := cached.(cachedProfile)
		if ok && (email == "" || email == profile.email) && (displayName == "" || displayName == profile.displayName) {
			return profile.userID, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       email,
			DisplayName: displayName,
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return "", err
		}
		s.logger.Info("user identity recorded",
			zap.String("user_id", identity.UserID),
			zap.String("provider", provider))
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if displayName != "" && displayName != identity.DisplayName {
			updates["user_display_name"] = displayName
			identity.DisplayName = displayName
		}
		if err := s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error; err != nil {
			s.logger.Warn("user identity refresh failed",
				zap.String("user_id", identity.UserID),
				zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, cachedProfile{
		userID:      identity.UserID,
		email:       identity.Email,
		displayName: identity.DisplayName,
	})
	return identity.UserID, nil
}

// DisplayName returns the most recently seen display name for userID, or an
// empty string when none is recorded.
func (s *Service) DisplayName(ctx context.Context, userID string) (string, error) {
	userID = normalize(userID)
	if userID == "" {
		return "", nil
	}
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND user_display_name <> ''", userID).
		Order("last_seen_at DESC").
		Take(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return identity.DisplayName, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if segments := strings.SplitN(raw, ":", 2); len(segments) == 2 {
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
