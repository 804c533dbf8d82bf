package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/gap"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	"gorm.io/gorm"
)

// historyFinder adapts the grant repository to the gap validator's
// lookup contract.
type historyFinder struct {
	db   *gorm.DB
	repo grantdomain.Repository
}

func NewHistoryFinder(db *gorm.DB, repo grantdomain.Repository) gap.HistoryFinder {
	return &historyFinder{db: db, repo: repo}
}

func (f *historyFinder) LastTerminalGrant(ctx context.Context, orgID, learnerID, offeringID snowflake.ID) (*gap.HistoryRecord, error) {
	grant, err := f.repo.FindLastForGap(ctx, f.db, orgID, learnerID, offeringID)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, nil
	}
	return &gap.HistoryRecord{EndMarker: endMarkerOf(grant)}, nil
}

// endMarkerOf resolves when a grant's access ended: the expiry date,
// else the last-modified timestamp as a proxy for "unlimited access
// since X".
func endMarkerOf(grant *grantdomain.AccessGrant) *time.Time {
	if grant.EndDate != nil {
		return grant.EndDate
	}
	if !grant.UpdatedAt.IsZero() {
		marker := grant.UpdatedAt
		return &marker
	}
	return nil
}
