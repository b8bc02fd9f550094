package server

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fiscalia/internal/auditcontext"
	"github.com/smallbiznis/fiscalia/internal/orgcontext"
)

// authorizeOrgAction checks the authenticated actor against the policy
// for the organization the request is already scoped to.
func (s *Server) authorizeOrgAction(c *gin.Context, object string, action string) error {
	if s.authzSvc == nil {
		return ErrForbidden
	}

	ctx := c.Request.Context()
	orgID, ok := orgcontext.OrgID(ctx)
	if !ok {
		return ErrUnauthorized
	}

	actorType, actorID := auditcontext.ActorFromContext(ctx)
	if actorType == "" || actorID == "" {
		return ErrUnauthorized
	}
	actor := fmt.Sprintf("%s:%s", actorType, actorID)

	return s.authzSvc.Authorize(ctx, actor, orgID.String(), strings.TrimSpace(object), strings.TrimSpace(action))
}
