package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Role controls which ledger and vault operations a member or API key
// may perform.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

type Organization struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt time.Time    `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

type OrganizationMember struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;uniqueIndex:ux_organization_members_org_user,priority:1"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex:ux_organization_members_org_user,priority:2"`
	Role      Role         `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (OrganizationMember) TableName() string { return "organization_members" }

// APIKey authenticates machine callers. Only the SHA-256 hash of the
// issued token is stored.
type APIKey struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	KeyHash   string       `gorm:"type:text;not null;uniqueIndex"`
	Role      Role         `gorm:"type:text;not null"`
	IsActive  bool         `gorm:"not null;default:true"`
	ExpiresAt *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }
