package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/clock"
	"github.com/coursekit/enroll/internal/expiry"
	"github.com/coursekit/enroll/internal/gap"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	obslogger "github.com/coursekit/enroll/internal/observability/logger"
	obsmetrics "github.com/coursekit/enroll/internal/observability/metrics"
	offeringdomain "github.com/coursekit/enroll/internal/offering/domain"
	"github.com/coursekit/enroll/internal/policy"
	pkgdb "github.com/coursekit/enroll/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type svc struct {
	db        *gorm.DB
	repo      grantdomain.Repository
	offerings offeringdomain.Repository
	resolver  *policy.CachedResolver
	validator *gap.Validator
	clk       clock.Clock
	genID     *snowflake.Node
}

func NewService(
	db *gorm.DB,
	repo grantdomain.Repository,
	offerings offeringdomain.Repository,
	resolver *policy.CachedResolver,
	validator *gap.Validator,
	clk clock.Clock,
	genID *snowflake.Node,
) grantdomain.Service {
	return &svc{
		db:        db,
		repo:      repo,
		offerings: offerings,
		resolver:  resolver,
		validator: validator,
		clk:       clk,
		genID:     genID,
	}
}

func (s *svc) LinkOrUpdate(ctx context.Context, req grantdomain.LinkRequest) (*grantdomain.AccessGrant, error) {
	if req.Status == "" {
		req.Status = grantdomain.StatusActive
	}
	if !req.Status.Valid() || req.Status == grantdomain.StatusDeleted {
		return nil, grantdomain.ErrInvalidStatus
	}
	if req.Kind == "" {
		req.Kind = grantdomain.KindNormal
	}

	offering, err := s.offerings.FindByID(ctx, s.db, req.OrgID, req.OfferingID)
	if err != nil {
		return nil, err
	}

	resolution := s.resolver.Resolve(offering.ID, offering.PolicyBlob)
	if resolution.Degraded {
		obslogger.FromContext(ctx).Warn("policy.parse_degraded",
			zap.Int64("offering_id", offering.ID.Int64()),
		)
	}
	pol := resolution.Policy

	now := s.clk.Now()
	decision, err := s.validator.Validate(ctx, req.OrgID, req.LearnerID, req.OfferingID, pol, now)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &grantdomain.ReenrollmentBlockedError{
			RetryAfter: *decision.RetryAfter,
			GapDays:    decision.GapDays,
		}
	}

	var out *grantdomain.AccessGrant
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindCurrent(ctx, tx, req.OrgID, req.LearnerID, req.OfferingID)
		if err != nil {
			return err
		}

		destination, err := s.repo.FindActiveDestination(ctx, tx, req.OrgID, req.LearnerID, req.OfferingID)
		if err != nil {
			return err
		}
		destWindow := windowOf(destination, now)
		behavior := pol.Reenrollment.ActiveRepurchaseBehavior

		switch {
		case existing == nil:
			out, err = s.create(ctx, tx, req, offering, now, destWindow, behavior)
			return err
		case existing.Status == grantdomain.StatusInvited:
			out, err = s.supersedeInvited(ctx, tx, req, offering, existing, now, destWindow, behavior)
			return err
		default:
			out, err = s.update(ctx, tx, req, offering, pol, existing, now, destWindow, behavior)
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *svc) create(
	ctx context.Context,
	tx *gorm.DB,
	req grantdomain.LinkRequest,
	offering *offeringdomain.Offering,
	now time.Time,
	destWindow *expiry.Window,
	behavior policy.ActiveRepurchaseBehavior,
) (*grantdomain.AccessGrant, error) {
	base := expiry.DetermineBaseDate(now, nil, destWindow, behavior)
	end := expiry.ComputeExpiry(base, offering.ValidityDays, offering.LegacyAccessDays)

	grant := &grantdomain.AccessGrant{
		ID:                    s.genID.Generate(),
		OrgID:                 req.OrgID,
		UserID:                req.LearnerID,
		OfferingID:            req.OfferingID,
		DestinationOfferingID: req.DestinationOfferingID,
		PlanID:                req.PlanID,
		SubOrgID:              req.SubOrgID,
		RoleTags:              req.RoleTags,
		Status:                req.Status,
		Kind:                  req.Kind,
		StartDate:             base,
		EndDate:               end,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.Insert(ctx, tx, grant); err != nil {
		return nil, err
	}
	obsmetrics.Reconciler().IncGrantTransition("none", string(grant.Status))
	return grant, nil
}

// supersedeInvited atomically retires the prior INVITED row and
// activates a fresh one, so no intermediate state is observable.
func (s *svc) supersedeInvited(
	ctx context.Context,
	tx *gorm.DB,
	req grantdomain.LinkRequest,
	offering *offeringdomain.Offering,
	prior *grantdomain.AccessGrant,
	now time.Time,
	destWindow *expiry.Window,
	behavior policy.ActiveRepurchaseBehavior,
) (*grantdomain.AccessGrant, error) {
	base := expiry.DetermineBaseDate(now, nil, destWindow, behavior)
	end := expiry.ComputeExpiry(base, offering.ValidityDays, offering.LegacyAccessDays)

	grant := &grantdomain.AccessGrant{
		ID:                    s.genID.Generate(),
		OrgID:                 req.OrgID,
		UserID:                req.LearnerID,
		OfferingID:            req.OfferingID,
		DestinationOfferingID: req.DestinationOfferingID,
		PlanID:                req.PlanID,
		SubOrgID:              req.SubOrgID,
		RoleTags:              req.RoleTags,
		Status:                req.Status,
		Kind:                  req.Kind,
		StartDate:             base,
		EndDate:               end,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.repo.MarkDeleted(ctx, tx, req.OrgID, prior.ID, &grant.ID, now); err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, tx, grant); err != nil {
		return nil, err
	}

	obsmetrics.Reconciler().IncGrantTransition(string(grantdomain.StatusInvited), string(grantdomain.StatusDeleted))
	obsmetrics.Reconciler().IncGrantTransition("none", string(grant.Status))
	return grant, nil
}

func (s *svc) update(
	ctx context.Context,
	tx *gorm.DB,
	req grantdomain.LinkRequest,
	offering *offeringdomain.Offering,
	pol policy.EnrollmentPolicy,
	existing *grantdomain.AccessGrant,
	now time.Time,
	destWindow *expiry.Window,
	behavior policy.ActiveRepurchaseBehavior,
) (*grantdomain.AccessGrant, error) {
	// Re-validated here because this path can be reached by callers
	// that skipped the entry check.
	decision, err := s.validator.Validate(ctx, req.OrgID, req.LearnerID, req.OfferingID, pol, now)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &grantdomain.ReenrollmentBlockedError{
			RetryAfter: *decision.RetryAfter,
			GapDays:    decision.GapDays,
		}
	}

	currentWindow := &expiry.Window{
		Active: existing.ActiveAt(now),
		Expiry: existing.EndDate,
	}
	base := expiry.DetermineBaseDate(now, currentWindow, destWindow, behavior)
	end := expiry.ComputeExpiry(base, offering.ValidityDays, offering.LegacyAccessDays)

	from := existing.Status
	existing.Status = req.Status
	existing.EndDate = end
	existing.UpdatedAt = now
	if req.DestinationOfferingID != nil {
		existing.DestinationOfferingID = req.DestinationOfferingID
	}
	if req.PlanID != nil {
		existing.PlanID = req.PlanID
	}
	if req.SubOrgID != nil {
		existing.SubOrgID = req.SubOrgID
	}
	if req.RoleTags != "" {
		existing.RoleTags = req.RoleTags
	}

	if err := s.repo.UpdateLifecycle(ctx, tx, existing); err != nil {
		return nil, err
	}
	obsmetrics.Reconciler().IncGrantTransition(string(from), string(existing.Status))
	return existing, nil
}

func (s *svc) PromoteInvited(ctx context.Context, orgID, learnerID, offeringID snowflake.ID, destinationOfferingID *snowflake.ID) (*grantdomain.AccessGrant, error) {
	offering, err := s.offerings.FindByID(ctx, s.db, orgID, offeringID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	var out *grantdomain.AccessGrant
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindCurrent(ctx, tx, orgID, learnerID, offeringID)
		if err != nil {
			return err
		}
		if existing == nil {
			return grantdomain.ErrGrantNotFound
		}
		if existing.Status != grantdomain.StatusInvited {
			return grantdomain.ErrInvalidTransition
		}

		existing.Status = grantdomain.StatusActive
		existing.DestinationOfferingID = destinationOfferingID
		existing.StartDate = now
		existing.EndDate = expiry.ComputeExpiry(now, offering.ValidityDays, offering.LegacyAccessDays)
		existing.UpdatedAt = now

		if err := s.repo.UpdateLifecycle(ctx, tx, existing); err != nil {
			return err
		}
		obsmetrics.Reconciler().IncGrantTransition(string(grantdomain.StatusInvited), string(grantdomain.StatusActive))
		out = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *svc) ExpireDue(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	lockSuffix := pkgdb.LockSuffix(s.db)

	var total int64
	for {
		transitioned, err := s.repo.ExpireDue(ctx, s.db, s.clk.Now(), batchSize, lockSuffix)
		total += transitioned
		if err != nil {
			return total, err
		}
		if transitioned > 0 {
			for i := int64(0); i < transitioned; i++ {
				obsmetrics.Reconciler().IncGrantTransition(string(grantdomain.StatusActive), string(grantdomain.StatusExpired))
			}
		}
		if transitioned < int64(batchSize) {
			return total, nil
		}
	}
}

func windowOf(grant *grantdomain.AccessGrant, now time.Time) *expiry.Window {
	if grant == nil {
		return nil
	}
	return &expiry.Window{
		Active: grant.ActiveAt(now),
		Expiry: grant.EndDate,
	}
}
