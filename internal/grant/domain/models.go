// Package domain contains the access-grant lifecycle model. A grant is
// the learner-to-offering binding with its own status, independent of
// the billing plan's dates.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// GrantStatus is the closed set of lifecycle states.
type GrantStatus string

const (
	StatusInvited    GrantStatus = "INVITED"
	StatusActive     GrantStatus = "ACTIVE"
	StatusExpired    GrantStatus = "EXPIRED"
	StatusTerminated GrantStatus = "TERMINATED"
	StatusInactive   GrantStatus = "INACTIVE"
	StatusDeleted    GrantStatus = "DELETED"
)

// Valid reports whether the status is one of the known states.
func (s GrantStatus) Valid() bool {
	switch s {
	case StatusInvited, StatusActive, StatusExpired, StatusTerminated, StatusInactive, StatusDeleted:
		return true
	default:
		return false
	}
}

// GrantKind distinguishes real enrollments from unverified
// abandoned-cart records, which are excluded from gap and history
// lookups.
type GrantKind string

const (
	KindNormal        GrantKind = "NORMAL"
	KindAbandonedCart GrantKind = "ABANDONED_CART"
)

// AccessGrant binds a learner to an offering over a time window.
// Superseded rows are kept with status DELETED for audit history.
type AccessGrant struct {
	ID                    snowflake.ID  `gorm:"primaryKey"`
	OrgID                 snowflake.ID  `gorm:"not null;index"`
	UserID                snowflake.ID  `gorm:"not null;index"`
	OfferingID            snowflake.ID  `gorm:"not null;index"`
	DestinationOfferingID *snowflake.ID `gorm:""`
	PlanID                *snowflake.ID `gorm:"index"`
	SubOrgID              *snowflake.ID `gorm:""`
	RoleTags              string        `gorm:"type:text;not null;default:''"`
	Status                GrantStatus   `gorm:"type:text;not null"`
	Kind                  GrantKind     `gorm:"type:text;not null;default:'NORMAL'"`
	StartDate             time.Time     `gorm:"not null"`
	EndDate               *time.Time    `gorm:""`
	SupersededBy          *snowflake.ID `gorm:""`
	CreatedAt             time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AccessGrant) TableName() string { return "access_grants" }

// Unlimited reports whether the grant has no expiry.
func (g *AccessGrant) Unlimited() bool { return g.EndDate == nil }

// ActiveAt reports whether the grant is ACTIVE and not lapsed at t.
func (g *AccessGrant) ActiveAt(t time.Time) bool {
	if g.Status != StatusActive {
		return false
	}
	return g.EndDate == nil || g.EndDate.After(t)
}
