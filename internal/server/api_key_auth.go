package server

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fiscalia/internal/auditcontext"
	organizationdomain "github.com/smallbiznis/fiscalia/internal/organization/domain"
	"github.com/smallbiznis/fiscalia/internal/orgcontext"
)

const apiKeyCacheTTL = 30 * time.Second

type apiKeyRecord struct {
	ID      snowflake.ID `gorm:"column:id"`
	OrgID   snowflake.ID `gorm:"column:org_id"`
	KeyHash string       `gorm:"column:key_hash"`
	Role    string       `gorm:"column:role"`
}

// APIKeyRequired authenticates requests using an API key only.
// Organization identity is derived solely from the api_keys table; any
// attempt to name an organization in the request is rejected outright.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if requestHasOrgID(c) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := organizationdomain.HashAPIKey(parts[1])

		record, ok := s.keyCache.Get(hash)
		if !ok {
			found, err := s.lookupAPIKey(c, hash)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			if found == nil {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			record = *found
			s.keyCache.Set(hash, record, apiKeyCacheTTL)
		}

		if subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(record.OrgID))
		ctx = orgcontext.WithRole(ctx, record.Role)
		ctx = auditcontext.WithActor(ctx, "api_key", record.ID.String())

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) lookupAPIKey(c *gin.Context, hash string) (*apiKeyRecord, error) {
	now := time.Now().UTC()

	var record apiKeyRecord
	if err := s.db.WithContext(c.Request.Context()).Raw(
		`SELECT id, org_id, key_hash, role
		 FROM api_keys
		 WHERE key_hash = ?
		   AND is_active = true
		   AND (expires_at IS NULL OR expires_at > ?)
		 LIMIT 1`,
		hash,
		now,
	).Scan(&record).Error; err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func requestHasOrgID(c *gin.Context) bool {
	if strings.TrimSpace(c.GetHeader(HeaderOrg)) != "" {
		return true
	}
	if value, ok := c.GetQuery("org_id"); ok && strings.TrimSpace(value) != "" {
		return true
	}
	if value, ok := c.GetQuery("orgId"); ok && strings.TrimSpace(value) != "" {
		return true
	}
	return false
}
