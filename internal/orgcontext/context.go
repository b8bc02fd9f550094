package orgcontext

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type contextKey string

const (
	orgIDKey contextKey = "org_id"
	roleKey  contextKey = "org_role"
)

// WithOrgID scopes the context to an organization resolved from the
// caller's credentials.
func WithOrgID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, orgIDKey, orgID)
}

// OrgID returns the organization scope, if any.
func OrgID(ctx context.Context) (snowflake.ID, bool) {
	value, ok := ctx.Value(orgIDKey).(int64)
	if !ok || value == 0 {
		return 0, false
	}
	return snowflake.ID(value), true
}

// WithRole records the caller's role within the scoped organization.
func WithRole(ctx context.Context, role string) context.Context {
	if role == "" {
		return ctx
	}
	return context.WithValue(ctx, roleKey, role)
}

// Role returns the caller's role within the scoped organization.
func Role(ctx context.Context) string {
	value, _ := ctx.Value(roleKey).(string)
	return value
}
