package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type testCleanupRequest struct {
	Prefix string `json:"prefix"`
}

// TestCleanup deletes organizations whose name matches the prefix along
// with all their ledger data. The route is not registered in
// production.
func (s *Server) TestCleanup(c *gin.Context) {
	if s.cfg.IsProduction() {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req testCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	prefix := strings.TrimSpace(req.Prefix)
	if prefix == "" {
		AbortWithError(c, newValidationError("prefix", "required", "prefix is required"))
		return
	}

	ctx := c.Request.Context()
	orgIDs, err := s.loadOrgIDsByPrefix(ctx, prefix)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.deleteOrgData(ctx, orgIDs); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) loadOrgIDsByPrefix(ctx context.Context, prefix string) ([]int64, error) {
	like := strings.TrimSpace(prefix) + "%"
	var orgIDs []int64
	if err := s.db.WithContext(ctx).
		Table("organizations").
		Select("id").
		Where("name LIKE ?", like).
		Scan(&orgIDs).Error; err != nil {
		return nil, err
	}
	return orgIDs, nil
}

func (s *Server) deleteOrgData(ctx context.Context, orgIDs []int64) error {
	if len(orgIDs) == 0 {
		return nil
	}
	queries := []string{
		`DELETE FROM audit_logs WHERE org_id IN ?`,
		`DELETE FROM ledger_events WHERE org_id IN ?`,
		`DELETE FROM certificate_history WHERE org_id IN ?`,
		`DELETE FROM certificate_records WHERE org_id IN ?`,
		`DELETE FROM ledger_entries WHERE org_id IN ?`,
		`DELETE FROM series_counters WHERE org_id IN ?`,
		`DELETE FROM ledger_series WHERE org_id IN ?`,
		`DELETE FROM draft_invoices WHERE org_id IN ?`,
		`DELETE FROM api_keys WHERE org_id IN ?`,
		`DELETE FROM organization_members WHERE org_id IN ?`,
		`DELETE FROM organizations WHERE id IN ?`,
	}
	for _, query := range queries {
		if err := s.db.WithContext(ctx).Exec(query, orgIDs).Error; err != nil {
			return err
		}
	}
	return nil
}
