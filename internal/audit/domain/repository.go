package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	OrgID   snowflake.ID
	Action  string
	StartAt *time.Time
	EndAt   *time.Time
	Limit   int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

// Service accepts audit writes from handlers. Failures are logged, not
// propagated; an audit miss must not fail the underlying operation.
type Service interface {
	AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action, targetType string, targetID *string, metadata map[string]any) error
}
