// Package domain defines the representative-identity contract: the
// individual learner, or a sub-org's designated root administrator,
// used for payment and notification context.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrRootAdminNotFound = errors.New("root_admin_not_found")

// UserRecord is the minimal identity slice the engine needs.
type UserRecord struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	Email     string       `gorm:"type:text;not null"`
	FullName  string       `gorm:"type:text;not null"`
	Active    bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserRecord) TableName() string { return "users" }

// OrgAdmin designates administrators for sub-organizations.
type OrgAdmin struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	SubOrgID  snowflake.ID `gorm:"not null;index"`
	UserID    snowflake.ID `gorm:"not null"`
	Role      string       `gorm:"type:text;not null;default:'admin'"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrgAdmin) TableName() string { return "org_admins" }

// RoleRoot marks the admin used as a sub-org's representative.
const RoleRoot = "root"

type Resolver interface {
	GetUsers(ctx context.Context, ids []snowflake.ID) ([]UserRecord, error)
	// GetRootAdmin returns the sub-org's designated root
	// administrator; ErrRootAdminNotFound when none is configured.
	GetRootAdmin(ctx context.Context, subOrgID snowflake.ID) (*UserRecord, error)
}
