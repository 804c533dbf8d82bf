package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrPlanNotFound = errors.New("plan_not_found")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *BillingPlan) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*BillingPlan, error)
	// FindByIDForUpdate claims the plan row for this worker. lockSuffix
	// is empty on dialects without row locks; ErrPlanNotFound means the
	// row is gone or held by another worker.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, lockSuffix string) (*BillingPlan, error)
	FindByPendingOrderRef(ctx context.Context, db *gorm.DB, orderRef string) (*BillingPlan, error)
	// DiscoverIDs lists plans the reconciler should visit this cycle.
	// dueOnly narrows discovery to plans past their stored end date;
	// the baseline re-checks every ACTIVE plan.
	DiscoverIDs(ctx context.Context, db *gorm.DB, dueOnly bool, now time.Time, limit int, afterID snowflake.ID) ([]PlanRef, error)
	UpdateWindow(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, start time.Time, end *time.Time, at time.Time) error
	UpdateEndDate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, end time.Time, at time.Time) error
	MarkSettled(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error
	SetPendingOrder(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, orderRef string, at time.Time) error
	ClearPendingOrder(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error
}

// PlanRef is a lightweight discovery result: enough to claim and route
// the plan without loading the full row outside its transaction.
type PlanRef struct {
	ID        snowflake.ID
	OrgID     snowflake.ID
	OwnerType PlanSource
}
