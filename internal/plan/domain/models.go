// Package domain contains the billing-plan model: one purchase record
// governing a learner's or sub-org's access over a time window.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PlanSource identifies who the plan was purchased for.
type PlanSource string

const (
	SourceIndividual PlanSource = "INDIVIDUAL"
	SourceSubOrg     PlanSource = "SUB_ORG"
)

// PlanType is the payment-option type. Only SUBSCRIPTION plans are
// ever auto-renewed.
type PlanType string

const (
	TypeSubscription PlanType = "SUBSCRIPTION"
	TypeOneTime      PlanType = "ONE_TIME"
	TypeFree         PlanType = "FREE"
	TypeDonation     PlanType = "DONATION"
)

// PlanStatus tracks whether the reconciler still has work to do for a
// plan. SETTLED plans are skipped cheaply on every cycle.
type PlanStatus string

const (
	StatusActive  PlanStatus = "ACTIVE"
	StatusSettled PlanStatus = "SETTLED"
)

// VendorManual marks plans paid outside any gateway; they are never
// auto-charged.
const VendorManual = "MANUAL"

// BillingPlan is never deleted, only superseded by newer plans.
type BillingPlan struct {
	ID                 snowflake.ID      `gorm:"primaryKey"`
	OrgID              snowflake.ID      `gorm:"not null;index"`
	OwnerType          PlanSource        `gorm:"column:owner_type;type:text;not null"`
	OwnerID            snowflake.ID      `gorm:"not null;index"`
	PlanType           PlanType          `gorm:"type:text;not null"`
	Vendor             string            `gorm:"type:text;not null;default:'MANUAL'"`
	Status             PlanStatus        `gorm:"type:text;not null;default:'ACTIVE'"`
	StartDate          time.Time         `gorm:"not null"`
	EndDate            *time.Time        `gorm:""`
	Amount             int64             `gorm:"not null;default:0"`
	Currency           string            `gorm:"type:text;not null;default:'IDR'"`
	VendorContext      datatypes.JSONMap `gorm:"type:jsonb"`
	PendingOrderRef    *string           `gorm:"type:text"`
	RenewalRequestedAt *time.Time        `gorm:""`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingPlan) TableName() string { return "billing_plans" }

// RenewalPending reports whether a payment submission is awaiting its
// webhook confirmation.
func (p *BillingPlan) RenewalPending() bool { return p.PendingOrderRef != nil }
