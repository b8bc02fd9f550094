package authorization

import (
	"context"
	"strings"

	"github.com/casbin/casbin/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.Enforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.Enforcer
}

func NewService(p ServiceParam) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// Authorize resolves the actor's role within orgID and enforces the
// role's capabilities. Denials are logged, never silently downgraded.
func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	if strings.TrimSpace(orgID) == "" {
		return ErrInvalidOrganization
	}
	if strings.TrimSpace(object) == "" {
		return ErrInvalidObject
	}
	if strings.TrimSpace(action) == "" {
		return ErrInvalidAction
	}

	if actor == "system" {
		return nil
	}

	role, err := s.resolveRole(ctx, actor, orgID)
	if err != nil {
		return err
	}
	if role == "" {
		s.log.Warn("authorization denied: no membership",
			zap.String("actor", actor),
			zap.String("org_id", orgID),
			zap.String("action", action),
		)
		return ErrForbidden
	}

	allowed, err := s.enforcer.Enforce("role:"+strings.ToUpper(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied: missing capability",
			zap.String("actor", actor),
			zap.String("org_id", orgID),
			zap.String("role", role),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveRole(ctx context.Context, actor string, orgID string) (string, error) {
	var role string
	switch {
	case strings.HasPrefix(actor, "user:"):
		userID := strings.TrimPrefix(actor, "user:")
		if err := s.db.WithContext(ctx).Raw(
			`SELECT role FROM organization_members WHERE org_id = ? AND user_id = ? LIMIT 1`,
			orgID, userID,
		).Scan(&role).Error; err != nil {
			return "", err
		}
	case strings.HasPrefix(actor, "api_key:"):
		keyID := strings.TrimPrefix(actor, "api_key:")
		if err := s.db.WithContext(ctx).Raw(
			`SELECT role FROM api_keys WHERE org_id = ? AND id = ? AND is_active = true LIMIT 1`,
			orgID, keyID,
		).Scan(&role).Error; err != nil {
			return "", err
		}
	default:
		return "", ErrInvalidActor
	}
	return role, nil
}
