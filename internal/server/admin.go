package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	organizationdomain "github.com/smallbiznis/fiscalia/internal/organization/domain"
	"gorm.io/gorm"
)

const headerAdminPassword = "X-Admin-Password"

// AdminPasswordRequired gates the provisioning surface behind the
// operator password. When no hash is configured the surface is off.
func (s *Server) AdminPasswordRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Admin.PasswordHash == "" {
			AbortWithError(c, ErrNotFound)
			return
		}
		password := c.GetHeader(headerAdminPassword)
		if password == "" || !verifyPassword(password, s.cfg.Admin.PasswordHash) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

type createOrganizationRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// @Summary      Create Organization
// @Description  Provision a new organization
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        request body createOrganizationRequest true "Create Organization Request"
// @Success      200  {object}  organizationdomain.Organization
// @Router       /admin/orgs [post]
func (s *Server) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	name := strings.TrimSpace(req.Name)
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if name == "" {
		AbortWithError(c, newValidationError("name", "required", "name is required"))
		return
	}
	if slug == "" {
		AbortWithError(c, newValidationError("slug", "required", "slug is required"))
		return
	}

	now := time.Now().UTC()
	org := organizationdomain.Organization{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      slug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&org).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": org})
}

type createAPIKeyRequest struct {
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type createAPIKeyResponse struct {
	ID        snowflake.ID `json:"id"`
	OrgID     snowflake.ID `json:"org_id"`
	Role      string       `json:"role"`
	Token     string       `json:"token"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

// @Summary      Create API Key
// @Description  Issue an API key for an organization; the token is returned once
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        id       path  string              true  "Organization ID"
// @Param        request  body  createAPIKeyRequest true  "Create API Key Request"
// @Success      200  {object}  createAPIKeyResponse
// @Router       /admin/orgs/{id}/api_keys [post]
func (s *Server) CreateAPIKey(c *gin.Context) {
	orgID, err := parseSnowflakeParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_org_id", "invalid organization id"))
		return
	}

	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	role := organizationdomain.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	switch role {
	case organizationdomain.RoleOwner, organizationdomain.RoleAdmin, organizationdomain.RoleMember:
	default:
		AbortWithError(c, newValidationError("role", "invalid_role", "role must be OWNER, ADMIN or MEMBER"))
		return
	}

	ctx := c.Request.Context()
	var org organizationdomain.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			AbortWithError(c, ErrNotFound)
			return
		}
		AbortWithError(c, err)
		return
	}

	token, err := organizationdomain.NewAPIKeyToken()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	key := organizationdomain.APIKey{
		ID:        s.genID.Generate(),
		OrgID:     org.ID,
		KeyHash:   organizationdomain.HashAPIKey(token),
		Role:      role,
		IsActive:  true,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&key).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": createAPIKeyResponse{
		ID:        key.ID,
		OrgID:     key.OrgID,
		Role:      string(key.Role),
		Token:     token,
		ExpiresAt: key.ExpiresAt,
	}})
}

func parseSnowflakeParam(value string) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || parsed <= 0 {
		if err == nil {
			err = strconv.ErrRange
		}
		return 0, err
	}
	return snowflake.ID(parsed), nil
}
