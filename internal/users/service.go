package users

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/auth"
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

// Service resolves session claims to the canonical user id used as binder owner.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

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

// ResolveCanonicalUserID returns the owner id for the session. The first
// login of a provider+subject pair creates the mapping; later logins refresh
// the profile fields.
func (s *Service) ResolveCanonicalUserID(claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := loginKey(provider, subject)
	if cached, ok := s.cache.Load(cacheKey); ok {
		if userID, ok := cached.(string); ok {
			return userID, nil
		}
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = newIdentity(provider, subject, claims, s.now().UTC())
		if err := s.db.Create(&identity).Error; err != nil {
			return "", fmt.Errorf("users: create identity: %w", err)
		}
		s.logger.Info("user identity created", zap.String("login", identity.Login()), zap.String("user_id", identity.UserID))
	case err != nil:
		return "", fmt.Errorf("users: load identity: %w", err)
	default:
		s.refreshProfile(identity, claims)
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// Profile returns the stored identity rows of userID.
func (s *Service) Profile(userID string) ([]Identity, error) {
	var identities []Identity
	if err := s.db.Where("user_id = ?", normalize(userID)).Order("provider ASC").Find(&identities).Error; err != nil {
		return nil, fmt.Errorf("users: load profile: %w", err)
	}
	return identities, nil
}

func (s *Service) refreshProfile(identity Identity, claims auth.SessionClaims) {
	updates := identity.profileUpdates(claims, s.now().UTC())
	err := s.db.Model(&Identity{}).
		Where("provider = ? AND subject = ?", identity.Provider, identity.Subject).
		Updates(updates).
		Error
	if err != nil {
		s.logger.Warn("user profile refresh failed", zap.String("login", identity.Login()), zap.String("user_id", identity.UserID), zap.Error(err))
	}
}

// deriveProviderSubject splits "provider:subject" user ids; other claims fall
// back to the JWT subject and then the email.
func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
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
