package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PlanWindow is the aggregate time window of a plan's grants, used to
// back-fill plan dates from legacy data.
type PlanWindow struct {
	EarliestStart *time.Time
	LatestEnd     *time.Time
	HasUnlimited  bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, grant *AccessGrant) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*AccessGrant, error)
	// FindCurrent returns the single non-DELETED grant for the
	// (learner, offering) key, or nil.
	FindCurrent(ctx context.Context, db *gorm.DB, orgID, userID, offeringID snowflake.ID) (*AccessGrant, error)
	// FindLastForGap returns the most recent non-DELETED,
	// non-ABANDONED_CART grant matching the offering directly or via
	// destination link; direct matches win.
	FindLastForGap(ctx context.Context, db *gorm.DB, orgID, userID, offeringID snowflake.ID) (*AccessGrant, error)
	// FindActiveDestination returns the learner's ACTIVE grant whose
	// destination link points at the offering, or nil.
	FindActiveDestination(ctx context.Context, db *gorm.DB, orgID, userID, offeringID snowflake.ID) (*AccessGrant, error)
	FindActiveByPlan(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID) ([]AccessGrant, error)
	UpdateLifecycle(ctx context.Context, db *gorm.DB, grant *AccessGrant) error
	// MarkDeleted supersedes a grant, recording its replacement.
	MarkDeleted(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, supersededBy *snowflake.ID, at time.Time) error
	// ExpireDue flips lapsed ACTIVE grants to EXPIRED, at most limit
	// rows per call. lockSuffix guards against concurrent sweepers.
	ExpireDue(ctx context.Context, db *gorm.DB, now time.Time, limit int, lockSuffix string) (int64, error)
	// ExtendActiveByPlan moves every ACTIVE grant on a plan to a new
	// end date after a confirmed renewal.
	ExtendActiveByPlan(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID, newEnd time.Time, at time.Time) (int64, error)
	WindowByPlan(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID) (PlanWindow, error)
}
