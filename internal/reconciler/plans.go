package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	identitydomain "github.com/coursekit/enroll/internal/identity/domain"
	obslogger "github.com/coursekit/enroll/internal/observability/logger"
	obsmetrics "github.com/coursekit/enroll/internal/observability/metrics"
	plandomain "github.com/coursekit/enroll/internal/plan/domain"
	"github.com/coursekit/enroll/internal/policy"
	"github.com/coursekit/enroll/internal/renewal"
	pkgdb "github.com/coursekit/enroll/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errNoUsablePolicy = errors.New("no parseable offering policy")
	errOwnerNotFound  = errors.New("plan owner not found")
)

// planOutcome is the per-plan verdict computed inside the claim
// transaction. Exactly one of skip or disposition is set.
type planOutcome struct {
	skip           string
	disposition    string
	plan           *plandomain.BillingPlan
	representative *identitydomain.UserRecord
	attemptRenewal bool
}

// ReconcilePlansJob walks every discoverable plan in keyset batches and
// reconciles each one in its own transaction. One bad plan is logged
// and counted; it never stops the batch or the job.
func (s *Service) ReconcilePlansJob(ctx context.Context, run *jobRun) error {
	cfg := s.cfg.Get()
	now := s.clock.Now()

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	var jobErr error
	var afterID snowflake.ID

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		refs, err := s.plans.DiscoverIDs(ctx, s.db, cfg.DueOnlyDiscovery, now, cfg.BatchSize, afterID)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(refs) == 0 {
			break
		}
		afterID = refs[len(refs)-1].ID

		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup
		var mu sync.Mutex

		for _, ref := range refs {
			ref := ref
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				err := s.reconcilePlan(ctx, ref)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					jobErr = errors.Join(jobErr, err)
					run.RecordError(err)
					return
				}
				run.AddProcessed(1)
			}()
		}
		wg.Wait()

		if len(refs) < cfg.BatchSize {
			break
		}
	}

	return jobErr
}

func (s *Service) reconcilePlan(parent context.Context, ref plandomain.PlanRef) error {
	cfg := s.cfg.Get()
	ctx, cancel := context.WithTimeout(parent, cfg.PlanTimeout)
	defer cancel()

	now := s.clock.Now()
	recMetrics := obsmetrics.Reconciler()

	var out planOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.evaluatePlan(ctx, tx, ref, now, &out)
	})
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			// Claimed by another worker, or gone since discovery.
			return nil
		}
		recMetrics.IncPlanSkipped(obsmetrics.PlanSkipReasonError)
		obslogger.FromContext(ctx).Error("reconciler.plan_failed",
			zap.Int64("plan_id", ref.ID.Int64()),
			zap.String("error_reason", obsmetrics.ClassifyReconcilerError(err)),
			zap.Error(err),
		)
		return fmt.Errorf("plan %d: %w", ref.ID.Int64(), err)
	}

	if out.skip != "" {
		recMetrics.IncPlanSkipped(out.skip)
		return nil
	}

	recMetrics.IncPlanProcessed(out.disposition, string(ref.OwnerType))

	if !out.attemptRenewal {
		return nil
	}

	// The gateway call lives outside the claim transaction; the pending
	// order ref is the guard against a concurrent second submission.
	if err := s.orchestrator.Attempt(ctx, out.plan, out.representative); err != nil {
		obslogger.FromContext(ctx).Error("reconciler.renewal_failed",
			zap.Int64("plan_id", ref.ID.Int64()),
			zap.Error(err),
		)
		return fmt.Errorf("plan %d renewal: %w", ref.ID.Int64(), err)
	}
	return nil
}

func (s *Service) evaluatePlan(ctx context.Context, tx *gorm.DB, ref plandomain.PlanRef, now time.Time, out *planOutcome) error {
	plan, err := s.plans.FindByIDForUpdate(ctx, tx, ref.OrgID, ref.ID, pkgdb.LockSuffix(s.db))
	if err != nil {
		return err
	}
	out.plan = plan

	if plan.Status == plandomain.StatusSettled {
		out.skip = "already_settled"
		return nil
	}
	if plan.RenewalPending() {
		// A submitted payment is awaiting its webhook; touching the plan
		// now could race the confirmation.
		out.skip = obsmetrics.PlanSkipReasonRenewalHeld
		return nil
	}

	grants, err := s.grants.FindActiveByPlan(ctx, tx, plan.OrgID, plan.ID)
	if err != nil {
		return err
	}

	if plan.EndDate == nil {
		if err := s.backfillEndDate(ctx, tx, plan, now, out); err != nil || out.skip != "" {
			return err
		}
	}

	if len(grants) == 0 {
		if !plan.EndDate.After(now) {
			if err := s.plans.MarkSettled(ctx, tx, plan.OrgID, plan.ID, now); err != nil {
				return err
			}
		}
		out.skip = obsmetrics.PlanSkipReasonNoGrants
		return nil
	}

	if plan.EndDate.After(now.Add(s.cfg.Get().RenewalLeadTime)) {
		out.disposition = obsmetrics.PlanDispositionStillValid
		return nil
	}

	policies, err := s.planPolicies(ctx, tx, plan, grants)
	if err != nil {
		if errors.Is(err, errNoUsablePolicy) {
			out.skip = obsmetrics.PlanSkipReasonNoPolicy
			return nil
		}
		return err
	}

	if renewal.ShouldAttemptPayment(plan, policies) {
		representative, err := s.representative(ctx, plan)
		if err != nil {
			if errors.Is(err, identitydomain.ErrRootAdminNotFound) || errors.Is(err, errOwnerNotFound) {
				obslogger.FromContext(ctx).Warn("reconciler.representative_missing",
					zap.Int64("plan_id", plan.ID.Int64()),
					zap.String("owner_type", string(plan.OwnerType)),
					zap.Error(err),
				)
				out.skip = obsmetrics.PlanSkipReasonNoIdentity
				return nil
			}
			return err
		}
		out.representative = representative
		out.attemptRenewal = true
		out.disposition = obsmetrics.PlanDispositionDueForRenewal
		return nil
	}

	if !plan.EndDate.After(now) {
		// Lapsed with no renewal path. The grant sweep expires the
		// grants; settling stops discovery from revisiting the plan.
		if err := s.plans.MarkSettled(ctx, tx, plan.OrgID, plan.ID, now); err != nil {
			return err
		}
		out.disposition = obsmetrics.PlanDispositionExpired
		return nil
	}

	out.disposition = obsmetrics.PlanDispositionStillValid
	return nil
}

// backfillEndDate derives a missing plan end date from its grants'
// windows. Plans backed only by unlimited grants have nothing to
// reconcile against and are skipped.
func (s *Service) backfillEndDate(ctx context.Context, tx *gorm.DB, plan *plandomain.BillingPlan, now time.Time, out *planOutcome) error {
	window, err := s.grants.WindowByPlan(ctx, tx, plan.OrgID, plan.ID)
	if err != nil {
		return err
	}
	if window.HasUnlimited || window.LatestEnd == nil {
		out.skip = obsmetrics.PlanSkipReasonNoEndDate
		return nil
	}
	if err := s.plans.UpdateEndDate(ctx, tx, plan.OrgID, plan.ID, *window.LatestEnd, now); err != nil {
		return err
	}
	plan.EndDate = window.LatestEnd

	obslogger.FromContext(ctx).Info("reconciler.end_date_backfilled",
		zap.Int64("plan_id", plan.ID.Int64()),
		zap.Time("end_date", *window.LatestEnd),
	)
	return nil
}

// planPolicies resolves the enrollment policy of every offering the
// plan's active grants reference. Malformed policy blobs degrade to a
// logged warning; a plan whose offerings are all malformed yields
// errNoUsablePolicy.
func (s *Service) planPolicies(ctx context.Context, tx *gorm.DB, plan *plandomain.BillingPlan, grants []grantdomain.AccessGrant) ([]policy.EnrollmentPolicy, error) {
	seen := make(map[snowflake.ID]struct{}, len(grants))
	ids := make([]snowflake.ID, 0, len(grants))
	for _, grant := range grants {
		if _, ok := seen[grant.OfferingID]; ok {
			continue
		}
		seen[grant.OfferingID] = struct{}{}
		ids = append(ids, grant.OfferingID)
	}

	offerings, err := s.offerings.FindByIDs(ctx, tx, plan.OrgID, ids)
	if err != nil {
		return nil, err
	}

	policies := make([]policy.EnrollmentPolicy, 0, len(offerings))
	for _, offering := range offerings {
		resolution := s.resolver.Resolve(offering.ID, offering.PolicyBlob)
		if resolution.Degraded {
			obslogger.FromContext(ctx).Warn("reconciler.policy_degraded",
				zap.Int64("plan_id", plan.ID.Int64()),
				zap.Int64("offering_id", offering.ID.Int64()),
			)
			continue
		}
		policies = append(policies, resolution.Policy)
	}
	// Covers malformed blobs and grants whose offering no longer exists;
	// neither leaves anything to base a renewal decision on.
	if len(policies) == 0 {
		return nil, errNoUsablePolicy
	}
	return policies, nil
}

func (s *Service) representative(ctx context.Context, plan *plandomain.BillingPlan) (*identitydomain.UserRecord, error) {
	if plan.OwnerType == plandomain.SourceSubOrg {
		return s.identity.GetRootAdmin(ctx, plan.OwnerID)
	}
	users, err := s.identity.GetUsers(ctx, []snowflake.ID{plan.OwnerID})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, errOwnerNotFound
	}
	return &users[0], nil
}
