package renewal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/clock"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	grantrepo "github.com/coursekit/enroll/internal/grant/repository"
	identitydomain "github.com/coursekit/enroll/internal/identity/domain"
	identityrepo "github.com/coursekit/enroll/internal/identity/repository"
	notificationdomain "github.com/coursekit/enroll/internal/notification/domain"
	notificationrepo "github.com/coursekit/enroll/internal/notification/repository"
	notificationservice "github.com/coursekit/enroll/internal/notification/service"
	offeringdomain "github.com/coursekit/enroll/internal/offering/domain"
	offeringrepo "github.com/coursekit/enroll/internal/offering/repository"
	"github.com/coursekit/enroll/internal/payment"
	"github.com/coursekit/enroll/internal/payment/adapters"
	paymentdomain "github.com/coursekit/enroll/internal/payment/domain"
	plandomain "github.com/coursekit/enroll/internal/plan/domain"
	planrepo "github.com/coursekit/enroll/internal/plan/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testOrg = snowflake.ID(1)

type recordingBoundary struct {
	requests []paymentdomain.InitiateRequest
	err      error
}

func (b *recordingBoundary) Initiate(_ context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.SubmissionAck, error) {
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	return &paymentdomain.SubmissionAck{OrderRef: req.OrderRef}, nil
}

type noopSender struct{}

func (noopSender) Send(context.Context, notificationdomain.Intent) error { return nil }

type orchestratorFixture struct {
	db       *gorm.DB
	clk      *clock.FakeClock
	orch     *Orchestrator
	boundary *recordingBoundary
	plans    plandomain.Repository
	grants   grantdomain.Repository
	offs     offeringdomain.Repository
	genID    *snowflake.Node
}

func newOrchestratorFixture(t *testing.T, start time.Time) *orchestratorFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&offeringdomain.Offering{},
		&grantdomain.AccessGrant{},
		&plandomain.BillingPlan{},
		&identitydomain.UserRecord{},
		&identitydomain.OrgAdmin{},
		&notificationdomain.OutboxEntry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(start)
	boundary := &recordingBoundary{}
	registry := adapters.NewRegistry(map[string]paymentdomain.Boundary{
		"MIDTRANS": boundary,
	})
	plans := planrepo.Provide()
	grants := grantrepo.Provide()
	offs := offeringrepo.Provide()
	outbox := notificationservice.NewOutbox(db, notificationrepo.Provide(), noopSender{}, clk, node)
	orch := NewOrchestrator(db, plans, grants, offs, identityrepo.Provide(db), registry, outbox, clk, node)

	return &orchestratorFixture{
		db:       db,
		clk:      clk,
		orch:     orch,
		boundary: boundary,
		plans:    plans,
		grants:   grants,
		offs:     offs,
		genID:    node,
	}
}

func (f *orchestratorFixture) addOwner(t *testing.T, id snowflake.ID) {
	t.Helper()
	require.NoError(t, f.db.Create(&identitydomain.UserRecord{
		ID:       id,
		OrgID:    testOrg,
		Email:    "owner@example.com",
		FullName: "Plan Owner",
		Active:   true,
	}).Error)
}

func (f *orchestratorFixture) addPlan(t *testing.T, plan *plandomain.BillingPlan) *plandomain.BillingPlan {
	t.Helper()
	if plan.ID == 0 {
		plan.ID = f.genID.Generate()
	}
	if plan.OrgID == 0 {
		plan.OrgID = testOrg
	}
	if plan.Status == "" {
		plan.Status = plandomain.StatusActive
	}
	plan.CreatedAt = f.clk.Now()
	plan.UpdatedAt = f.clk.Now()
	require.NoError(t, f.plans.Insert(context.Background(), f.db, plan))
	return plan
}

func (f *orchestratorFixture) addGrant(t *testing.T, planID, offeringID snowflake.ID, end *time.Time) *grantdomain.AccessGrant {
	t.Helper()
	grant := &grantdomain.AccessGrant{
		ID:         f.genID.Generate(),
		OrgID:      testOrg,
		UserID:     100,
		OfferingID: offeringID,
		PlanID:     &planID,
		Status:     grantdomain.StatusActive,
		Kind:       grantdomain.KindNormal,
		StartDate:  f.clk.Now(),
		EndDate:    end,
		CreatedAt:  f.clk.Now(),
		UpdatedAt:  f.clk.Now(),
	}
	require.NoError(t, f.grants.Insert(context.Background(), f.db, grant))
	return grant
}

func (f *orchestratorFixture) outboxEntries(t *testing.T) []notificationdomain.OutboxEntry {
	t.Helper()
	var entries []notificationdomain.OutboxEntry
	require.NoError(t, f.db.Order("id").Find(&entries).Error)
	return entries
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestAttemptClaimsOrderAndSubmitsOnce(t *testing.T) {
	f := newOrchestratorFixture(t, date(2024, time.June, 1))
	f.addOwner(t, 100)
	plan := f.addPlan(t, &plandomain.BillingPlan{
		OwnerType: plandomain.SourceIndividual,
		OwnerID:   100,
		PlanType:  plandomain.TypeSubscription,
		Vendor:    "MIDTRANS",
		StartDate: date(2024, time.March, 1),
		EndDate:   timePtr(date(2024, time.June, 2)),
		Amount:    150000,
		Currency:  "IDR",
	})

	owner := &identitydomain.UserRecord{Email: "owner@example.com", FullName: "Plan Owner"}
	require.NoError(t, f.orch.Attempt(context.Background(), plan, owner))
	require.Len(t, f.boundary.requests, 1)
	require.Equal(t, int64(150000), f.boundary.requests[0].Amount)
	require.Equal(t, "owner@example.com", f.boundary.requests[0].CustomerEmail)

	stored, err := f.plans.FindByID(context.Background(), f.db, testOrg, plan.ID)
	require.NoError(t, err)
	require.True(t, stored.RenewalPending())

	// A pending order suppresses further submissions.
	require.NoError(t, f.orch.Attempt(context.Background(), stored, owner))
	require.Len(t, f.boundary.requests, 1)
}

func TestAttemptReleasesClaimOnGatewayFailure(t *testing.T) {
	f := newOrchestratorFixture(t, date(2024, time.June, 1))
	f.addOwner(t, 100)
	plan := f.addPlan(t, &plandomain.BillingPlan{
		OwnerType: plandomain.SourceIndividual,
		OwnerID:   100,
		PlanType:  plandomain.TypeSubscription,
		Vendor:    "MIDTRANS",
		StartDate: date(2024, time.March, 1),
		EndDate:   timePtr(date(2024, time.June, 2)),
	})

	f.boundary.err = errors.New("gateway unreachable")
	owner := &identitydomain.UserRecord{Email: "owner@example.com"}
	err := f.orch.Attempt(context.Background(), plan, owner)
	require.ErrorIs(t, err, paymentdomain.ErrBoundaryFailure)

	stored, findErr := f.plans.FindByID(context.Background(), f.db, testOrg, plan.ID)
	require.NoError(t, findErr)
	require.False(t, stored.RenewalPending())
}

func TestConfirmSuccessExtendsPlanAndGrants(t *testing.T) {
	f := newOrchestratorFixture(t, date(2024, time.June, 1))
	f.addOwner(t, 100)

	validity := 30
	offering := &offeringdomain.Offering{
		ID:           f.genID.Generate(),
		OrgID:        testOrg,
		Code:         "course-session",
		Title:        "Course Session",
		ValidityDays: &validity,
		Active:       true,
		CreatedAt:    f.clk.Now(),
		UpdatedAt:    f.clk.Now(),
	}
	require.NoError(t, f.offs.Insert(context.Background(), f.db, offering))

	plan := f.addPlan(t, &plandomain.BillingPlan{
		OwnerType: plandomain.SourceIndividual,
		OwnerID:   100,
		PlanType:  plandomain.TypeSubscription,
		Vendor:    "MIDTRANS",
		StartDate: date(2024, time.May, 3),
		EndDate:   timePtr(date(2024, time.June, 2)),
	})
	grant := f.addGrant(t, plan.ID, offering.ID, timePtr(date(2024, time.June, 2)))

	owner := &identitydomain.UserRecord{Email: "owner@example.com"}
	require.NoError(t, f.orch.Attempt(context.Background(), plan, owner))

	stored, err := f.plans.FindByID(context.Background(), f.db, testOrg, plan.ID)
	require.NoError(t, err)
	require.NoError(t, f.orch.ConfirmOutcome(context.Background(), *stored.PendingOrderRef, payment.OutcomeSuccess))

	renewed, err := f.plans.FindByID(context.Background(), f.db, testOrg, plan.ID)
	require.NoError(t, err)
	require.False(t, renewed.RenewalPending())
	// 30 days on top of the stored end, not on top of now.
	require.Equal(t, date(2024, time.July, 2), renewed.EndDate.UTC())

	extended, err := f.grants.FindByID(context.Background(), f.db, testOrg, grant.ID)
	require.NoError(t, err)
	require.Equal(t, date(2024, time.July, 2), extended.EndDate.UTC())

	entries := f.outboxEntries(t)
	require.Len(t, entries, 1)
	require.Equal(t, string(notificationdomain.KindRenewalSucceeded), entries[0].Template)
	require.Equal(t, "owner@example.com", entries[0].Recipient)
}

func TestConfirmFailureLeavesDatesUntouched(t *testing.T) {
	f := newOrchestratorFixture(t, date(2024, time.June, 1))
	f.addOwner(t, 100)
	plan := f.addPlan(t, &plandomain.BillingPlan{
		OwnerType: plandomain.SourceIndividual,
		OwnerID:   100,
		PlanType:  plandomain.TypeSubscription,
		Vendor:    "MIDTRANS",
		StartDate: date(2024, time.May, 3),
		EndDate:   timePtr(date(2024, time.June, 2)),
	})

	owner := &identitydomain.UserRecord{Email: "owner@example.com"}
	require.NoError(t, f.orch.Attempt(context.Background(), plan, owner))

	stored, err := f.plans.FindByID(context.Background(), f.db, testOrg, plan.ID)
	require.NoError(t, err)
	require.NoError(t, f.orch.ConfirmOutcome(context.Background(), *stored.PendingOrderRef, payment.OutcomeFailure))

	after, err := f.plans.FindByID(context.Background(), f.db, testOrg, plan.ID)
	require.NoError(t, err)
	require.False(t, after.RenewalPending())
	require.Equal(t, date(2024, time.June, 2), after.EndDate.UTC())

	entries := f.outboxEntries(t)
	require.Len(t, entries, 1)
	require.Equal(t, string(notificationdomain.KindRenewalFailed), entries[0].Template)
}

func TestConfirmIndeterminateIsNoOp(t *testing.T) {
	f := newOrchestratorFixture(t, date(2024, time.June, 1))
	require.NoError(t, f.orch.ConfirmOutcome(context.Background(), "renew-unknown", payment.OutcomeIndeterminate))
	require.Empty(t, f.outboxEntries(t))
}

func TestConfirmSuccessFallsBackToPlanWindowLength(t *testing.T) {
	f := newOrchestratorFixture(t, date(2024, time.June, 1))
	f.addOwner(t, 100)

	// No grants and no offering validity: the plan's own window length
	// is the renewal period.
	plan := f.addPlan(t, &plandomain.BillingPlan{
		OwnerType: plandomain.SourceIndividual,
		OwnerID:   100,
		PlanType:  plandomain.TypeSubscription,
		Vendor:    "MIDTRANS",
		StartDate: date(2024, time.May, 3),
		EndDate:   timePtr(date(2024, time.June, 2)),
	})

	owner := &identitydomain.UserRecord{Email: "owner@example.com"}
	require.NoError(t, f.orch.Attempt(context.Background(), plan, owner))

	stored, err := f.plans.FindByID(context.Background(), f.db, testOrg, plan.ID)
	require.NoError(t, err)
	require.NoError(t, f.orch.ConfirmOutcome(context.Background(), *stored.PendingOrderRef, payment.OutcomeSuccess))

	renewed, err := f.plans.FindByID(context.Background(), f.db, testOrg, plan.ID)
	require.NoError(t, err)
	require.Equal(t, date(2024, time.July, 2), renewed.EndDate.UTC())
}

func TestRepresentativeEmailForSubOrgRootAdmin(t *testing.T) {
	f := newOrchestratorFixture(t, date(2024, time.June, 1))

	subOrg := f.genID.Generate()
	admin := f.genID.Generate()
	require.NoError(t, f.db.Create(&identitydomain.UserRecord{
		ID:       admin,
		OrgID:    testOrg,
		Email:    "root@suborg.example.com",
		FullName: "Root Admin",
		Active:   true,
	}).Error)
	require.NoError(t, f.db.Create(&identitydomain.OrgAdmin{
		ID:       f.genID.Generate(),
		OrgID:    testOrg,
		SubOrgID: subOrg,
		UserID:   admin,
		Role:     identitydomain.RoleRoot,
	}).Error)

	plan := f.addPlan(t, &plandomain.BillingPlan{
		OwnerType: plandomain.SourceSubOrg,
		OwnerID:   subOrg,
		PlanType:  plandomain.TypeSubscription,
		Vendor:    "MIDTRANS",
		StartDate: date(2024, time.May, 3),
		EndDate:   timePtr(date(2024, time.June, 2)),
	})

	email, err := f.orch.representativeEmail(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, "root@suborg.example.com", email)

	// A sub-org without a designated root admin surfaces the sentinel.
	plan.OwnerID = f.genID.Generate()
	_, err = f.orch.representativeEmail(context.Background(), plan)
	require.ErrorIs(t, err, identitydomain.ErrRootAdminNotFound)
}
