package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/clock"
	"github.com/coursekit/enroll/internal/expiry"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	identitydomain "github.com/coursekit/enroll/internal/identity/domain"
	notificationdomain "github.com/coursekit/enroll/internal/notification/domain"
	notificationservice "github.com/coursekit/enroll/internal/notification/service"
	obslogger "github.com/coursekit/enroll/internal/observability/logger"
	obsmetrics "github.com/coursekit/enroll/internal/observability/metrics"
	offeringdomain "github.com/coursekit/enroll/internal/offering/domain"
	"github.com/coursekit/enroll/internal/payment"
	"github.com/coursekit/enroll/internal/payment/adapters"
	paymentdomain "github.com/coursekit/enroll/internal/payment/domain"
	plandomain "github.com/coursekit/enroll/internal/plan/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNoRenewalPeriod = errors.New("no_renewal_period_source")

// Orchestrator submits renewal payments and applies their confirmed
// outcomes. Submission never blocks on the gateway outcome; that
// arrives later through the webhook path.
type Orchestrator struct {
	db        *gorm.DB
	plans     plandomain.Repository
	grants    grantdomain.Repository
	offerings offeringdomain.Repository
	identity  identitydomain.Resolver
	registry  *adapters.Registry
	outbox    *notificationservice.Outbox
	clk       clock.Clock
	genID     *snowflake.Node
}

func NewOrchestrator(
	db *gorm.DB,
	plans plandomain.Repository,
	grants grantdomain.Repository,
	offerings offeringdomain.Repository,
	identity identitydomain.Resolver,
	registry *adapters.Registry,
	outbox *notificationservice.Outbox,
	clk clock.Clock,
	genID *snowflake.Node,
) *Orchestrator {
	return &Orchestrator{
		db:        db,
		plans:     plans,
		grants:    grants,
		offerings: offerings,
		identity:  identity,
		registry:  registry,
		outbox:    outbox,
		clk:       clk,
		genID:     genID,
	}
}

// Attempt submits a renewal payment for the plan. The pending order
// ref is claimed first so a crash between claim and gateway ack cannot
// double-charge; a failed submission releases the claim.
func (o *Orchestrator) Attempt(ctx context.Context, plan *plandomain.BillingPlan, representative *identitydomain.UserRecord) error {
	if plan.RenewalPending() {
		return nil
	}

	boundary, err := o.registry.ForVendor(plan.Vendor)
	if err != nil {
		return err
	}

	now := o.clk.Now()
	orderRef := fmt.Sprintf("renew-%d-%d", plan.ID.Int64(), o.genID.Generate().Int64())

	if err := o.plans.SetPendingOrder(ctx, o.db, plan.OrgID, plan.ID, orderRef, now); err != nil {
		return err
	}

	_, err = boundary.Initiate(ctx, paymentdomain.InitiateRequest{
		OrderRef:      orderRef,
		PlanID:        plan.ID,
		Amount:        plan.Amount,
		Currency:      plan.Currency,
		CustomerName:  representative.FullName,
		CustomerEmail: representative.Email,
		Description:   "subscription renewal",
		VendorContext: plan.VendorContext,
	})
	if err != nil {
		if clearErr := o.plans.ClearPendingOrder(ctx, o.db, plan.OrgID, plan.ID, o.clk.Now()); clearErr != nil {
			obslogger.FromContext(ctx).Error("renewal.release_claim_failed",
				zap.Int64("plan_id", plan.ID.Int64()),
				zap.Error(clearErr),
			)
		}
		obsmetrics.Reconciler().IncRenewalAttempt("submit_failed")
		return fmt.Errorf("%w: %v", paymentdomain.ErrBoundaryFailure, err)
	}

	obsmetrics.Reconciler().IncRenewalAttempt("submitted")
	obslogger.FromContext(ctx).Info("renewal.submitted",
		zap.Int64("plan_id", plan.ID.Int64()),
		zap.String("order_ref", orderRef),
	)
	return nil
}

// ConfirmOutcome applies a webhook-confirmed result. Success extends
// the plan and every ACTIVE grant to the new end date atomically.
// Failure leaves all dates unchanged; expiry remains date-driven and a
// failed renewal simply lets the existing expiry stand.
func (o *Orchestrator) ConfirmOutcome(ctx context.Context, orderRef string, outcome payment.Outcome) error {
	if outcome == payment.OutcomeIndeterminate {
		return nil
	}

	plan, err := o.plans.FindByPendingOrderRef(ctx, o.db, orderRef)
	if err != nil {
		return err
	}

	now := o.clk.Now()

	if outcome == payment.OutcomeFailure {
		err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := o.plans.ClearPendingOrder(ctx, tx, plan.OrgID, plan.ID, now); err != nil {
				return err
			}
			return o.notify(ctx, tx, plan, notificationdomain.KindRenewalFailed, plan.EndDate)
		})
		if err != nil {
			return err
		}
		obsmetrics.Reconciler().IncRenewalAttempt("confirmed_failure")
		return nil
	}

	newEnd, err := o.renewedEndDate(ctx, plan, now)
	if err != nil {
		return err
	}

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := o.plans.UpdateEndDate(ctx, tx, plan.OrgID, plan.ID, newEnd, now); err != nil {
			return err
		}
		if _, err := o.grants.ExtendActiveByPlan(ctx, tx, plan.OrgID, plan.ID, newEnd, now); err != nil {
			return err
		}
		if err := o.plans.ClearPendingOrder(ctx, tx, plan.OrgID, plan.ID, now); err != nil {
			return err
		}
		return o.notify(ctx, tx, plan, notificationdomain.KindRenewalSucceeded, &newEnd)
	})
	if err != nil {
		return err
	}

	obsmetrics.Reconciler().IncRenewalAttempt("confirmed_success")
	obslogger.FromContext(ctx).Info("renewal.confirmed",
		zap.Int64("plan_id", plan.ID.Int64()),
		zap.String("order_ref", orderRef),
		zap.Time("new_end_date", newEnd),
	)
	return nil
}

// renewedEndDate extends the plan's end by its renewal period: the
// longest validity among its grants' offerings, falling back to the
// plan's own window length for offerings without one. The base is the
// stored end date so the extension is monotonic, never shortened by a
// late-arriving webhook.
func (o *Orchestrator) renewedEndDate(ctx context.Context, plan *plandomain.BillingPlan, now time.Time) (time.Time, error) {
	base := now
	if plan.EndDate != nil && plan.EndDate.After(now) {
		base = *plan.EndDate
	}

	days, err := o.renewalPeriodDays(ctx, plan)
	if err != nil {
		return time.Time{}, err
	}
	return expiry.AddDays(base, days), nil
}

func (o *Orchestrator) renewalPeriodDays(ctx context.Context, plan *plandomain.BillingPlan) (int, error) {
	grants, err := o.grants.FindActiveByPlan(ctx, o.db, plan.OrgID, plan.ID)
	if err != nil {
		return 0, err
	}

	offeringIDs := make([]snowflake.ID, 0, len(grants))
	for _, g := range grants {
		offeringIDs = append(offeringIDs, g.OfferingID)
	}
	offerings, err := o.offerings.FindByIDs(ctx, o.db, plan.OrgID, offeringIDs)
	if err != nil {
		return 0, err
	}

	best := 0
	for _, off := range offerings {
		if days, ok := expiry.ResolveValidityDays(off.ValidityDays, off.LegacyAccessDays); ok && days > best {
			best = days
		}
	}
	if best > 0 {
		return best, nil
	}

	if plan.EndDate != nil {
		if days := expiry.CalendarDaysBetween(plan.StartDate, *plan.EndDate); days > 0 {
			return days, nil
		}
	}
	return 0, ErrNoRenewalPeriod
}

func (o *Orchestrator) notify(ctx context.Context, tx *gorm.DB, plan *plandomain.BillingPlan, kind notificationdomain.IntentKind, endDate *time.Time) error {
	recipient, err := o.representativeEmail(ctx, plan)
	if err != nil {
		// Notification is fire-and-forget; a missing representative
		// must not undo a confirmed payment outcome.
		obslogger.FromContext(ctx).Warn("renewal.notify_skipped",
			zap.Int64("plan_id", plan.ID.Int64()),
			zap.Error(err),
		)
		return nil
	}

	variables := map[string]interface{}{
		"plan_id": plan.ID.Int64(),
	}
	if endDate != nil {
		variables["end_date"] = endDate.Format("2006-01-02")
	}
	return o.outbox.Enqueue(ctx, tx, notificationdomain.Intent{
		Kind:      kind,
		OrgID:     plan.OrgID,
		Recipient: recipient,
		Variables: variables,
	})
}

func (o *Orchestrator) representativeEmail(ctx context.Context, plan *plandomain.BillingPlan) (string, error) {
	if plan.OwnerType == plandomain.SourceSubOrg {
		admin, err := o.identity.GetRootAdmin(ctx, plan.OwnerID)
		if err != nil {
			return "", err
		}
		return admin.Email, nil
	}

	users, err := o.identity.GetUsers(ctx, []snowflake.ID{plan.OwnerID})
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", fmt.Errorf("owner %d not found", plan.OwnerID.Int64())
	}
	return users[0].Email, nil
}
