package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fiscalia/internal/orgcontext"
	"go.uber.org/zap"
)

// RateLimitRequired throttles mutating requests per organization. The
// counter lives in the database so every replica shares one budget.
func (s *Server) RateLimitRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		orgID, ok := orgcontext.OrgID(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		allowed, err := s.limiter.Allow(c.Request.Context(), "org:"+orgID.String())
		if err != nil {
			// Fail open; throttling must not take the write path down.
			s.log.Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
