package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/coursekit/enroll/internal/clock"
	"github.com/coursekit/enroll/internal/gap"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	grantrepo "github.com/coursekit/enroll/internal/grant/repository"
	offeringdomain "github.com/coursekit/enroll/internal/offering/domain"
	offeringrepo "github.com/coursekit/enroll/internal/offering/repository"
	"github.com/coursekit/enroll/internal/policy"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testOrg = snowflake.ID(1)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&offeringdomain.Offering{}, &grantdomain.AccessGrant{}))
	return db
}

type fixture struct {
	db    *gorm.DB
	clk   *clock.FakeClock
	svc   grantdomain.Service
	repo  grantdomain.Repository
	offs  offeringdomain.Repository
	genID *snowflake.Node
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := grantrepo.Provide()
	offs := offeringrepo.Provide()
	clk := clock.NewFakeClock(start)
	validator := gap.NewValidator(NewHistoryFinder(db, repo))
	svc := NewService(db, repo, offs, policy.NewCachedResolver(), validator, clk, node)

	return &fixture{db: db, clk: clk, svc: svc, repo: repo, offs: offs, genID: node}
}

func (f *fixture) addOffering(t *testing.T, validityDays *int, blob string) *offeringdomain.Offering {
	t.Helper()
	offering := &offeringdomain.Offering{
		ID:           f.genID.Generate(),
		OrgID:        testOrg,
		Code:         "course-session",
		Title:        "Course Session",
		ValidityDays: validityDays,
		Active:       true,
		CreatedAt:    f.clk.Now(),
		UpdatedAt:    f.clk.Now(),
	}
	if blob != "" {
		offering.PolicyBlob = datatypes.JSON([]byte(blob))
	}
	require.NoError(t, f.offs.Insert(context.Background(), f.db, offering))
	return offering
}

func intPtr(v int) *int { return &v }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLinkOrUpdateCreatesActiveGrant(t *testing.T) {
	f := newFixture(t, date(2024, time.March, 1))
	offering := f.addOffering(t, intPtr(90), "")

	grant, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
	})
	require.NoError(t, err)
	require.Equal(t, grantdomain.StatusActive, grant.Status)
	require.Equal(t, grantdomain.KindNormal, grant.Kind)
	require.NotNil(t, grant.EndDate)
	require.Equal(t, date(2024, time.May, 30), grant.EndDate.UTC())
}

func TestLinkOrUpdateUnlimitedOffering(t *testing.T) {
	f := newFixture(t, date(2024, time.March, 1))
	offering := f.addOffering(t, nil, "")

	grant, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
	})
	require.NoError(t, err)
	require.Nil(t, grant.EndDate)
}

func TestLinkOrUpdateUnknownOffering(t *testing.T) {
	f := newFixture(t, date(2024, time.March, 1))

	_, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: 999,
	})
	require.ErrorIs(t, err, offeringdomain.ErrOfferingNotFound)
}

func TestRepurchaseWhileActiveStacksFromExpiry(t *testing.T) {
	f := newFixture(t, date(2024, time.March, 1))
	offering := f.addOffering(t, intPtr(90), "")

	first, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
	})
	require.NoError(t, err)
	require.Equal(t, date(2024, time.May, 30), first.EndDate.UTC())

	// Repurchase one month in: new expiry stacks on the old one.
	f.clk.Set(date(2024, time.April, 1))
	second, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, date(2024, time.August, 28), second.EndDate.UTC())
}

func TestRepurchaseWithResetPolicyStartsFromNow(t *testing.T) {
	f := newFixture(t, date(2024, time.March, 1))
	offering := f.addOffering(t, intPtr(90),
		`{"reenrollmentPolicy": {"activeRepurchaseBehavior": "RESET"}}`)

	_, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
	})
	require.NoError(t, err)

	f.clk.Set(date(2024, time.April, 1))
	second, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
	})
	require.NoError(t, err)
	require.Equal(t, date(2024, time.June, 30), second.EndDate.UTC())
}

func TestReenrollmentBlockedInsideGap(t *testing.T) {
	f := newFixture(t, date(2023, time.October, 12))
	offering := f.addOffering(t, intPtr(90),
		`{"reenrollmentPolicy": {"allowReenrollmentAfterExpiry": false, "reenrollmentGapInDays": 30}}`)

	// First enrollment expires 2024-01-10.
	grant, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
	})
	require.NoError(t, err)
	require.Equal(t, date(2024, time.January, 10), grant.EndDate.UTC())

	f.clk.Set(date(2024, time.January, 12))
	_, err = f.svc.ExpireDue(context.Background(), 10)
	require.NoError(t, err)

	// 15 days after expiry: blocked with the exact retry date.
	f.clk.Set(date(2024, time.January, 25))
	_, err = f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
	})
	var blocked *grantdomain.ReenrollmentBlockedError
	require.True(t, errors.As(err, &blocked))
	require.Equal(t, 30, blocked.GapDays)
	require.Equal(t, date(2024, time.February, 9), blocked.RetryAfter.UTC())

	// Exactly 30 days after expiry: allowed again.
	f.clk.Set(date(2024, time.February, 9))
	renewed, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
	})
	require.NoError(t, err)
	require.Equal(t, grantdomain.StatusActive, renewed.Status)
	require.Equal(t, date(2024, time.May, 9), renewed.EndDate.UTC())
}

func TestAbandonedCartExcludedFromGapHistory(t *testing.T) {
	f := newFixture(t, date(2024, time.January, 1))
	offering := f.addOffering(t, intPtr(30),
		`{"reenrollmentPolicy": {"allowReenrollmentAfterExpiry": false, "reenrollmentGapInDays": 60}}`)

	// An abandoned-cart record exists but must not feed the gap check.
	cart := &grantdomain.AccessGrant{
		ID:         f.genID.Generate(),
		OrgID:      testOrg,
		UserID:     100,
		OfferingID: offering.ID,
		Status:     grantdomain.StatusInactive,
		Kind:       grantdomain.KindAbandonedCart,
		StartDate:  date(2023, time.December, 1),
		EndDate:    timePtr(date(2023, time.December, 31)),
		CreatedAt:  date(2023, time.December, 1),
		UpdatedAt:  date(2023, time.December, 1),
	}
	require.NoError(t, f.repo.Insert(context.Background(), f.db, cart))

	record, err := NewHistoryFinder(f.db, f.repo).LastTerminalGrant(context.Background(), testOrg, 100, offering.ID)
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestSupersedingInvitedGrantMarksOldDeleted(t *testing.T) {
	f := newFixture(t, date(2024, time.March, 1))
	offering := f.addOffering(t, intPtr(30), "")

	invited, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
		Status:     grantdomain.StatusInvited,
	})
	require.NoError(t, err)

	activated, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
	})
	require.NoError(t, err)
	require.NotEqual(t, invited.ID, activated.ID)
	require.Equal(t, grantdomain.StatusActive, activated.Status)

	old, err := f.repo.FindByID(context.Background(), f.db, testOrg, invited.ID)
	require.NoError(t, err)
	require.Equal(t, grantdomain.StatusDeleted, old.Status)
	require.NotNil(t, old.SupersededBy)
	require.Equal(t, activated.ID, *old.SupersededBy)
}

func TestPromoteInvited(t *testing.T) {
	f := newFixture(t, date(2024, time.March, 1))
	offering := f.addOffering(t, intPtr(30), "")
	dest := f.genID.Generate()

	_, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: offering.ID,
		Status:     grantdomain.StatusInvited,
	})
	require.NoError(t, err)

	promoted, err := f.svc.PromoteInvited(context.Background(), testOrg, 100, offering.ID, &dest)
	require.NoError(t, err)
	require.Equal(t, grantdomain.StatusActive, promoted.Status)
	require.NotNil(t, promoted.DestinationOfferingID)
	require.Equal(t, dest, *promoted.DestinationOfferingID)

	_, err = f.svc.PromoteInvited(context.Background(), testOrg, 100, offering.ID, &dest)
	require.ErrorIs(t, err, grantdomain.ErrInvalidTransition)
}

func TestDestinationGrantExtendsBaseDate(t *testing.T) {
	f := newFixture(t, date(2024, time.March, 1))
	gateway := f.addOffering(t, intPtr(120), "")
	target := f.addOffering(t, intPtr(30), "")

	// Gateway grant pointing at the target offering, expiring 2024-06-29.
	_, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:                 testOrg,
		LearnerID:             100,
		OfferingID:            gateway.ID,
		DestinationOfferingID: &target.ID,
	})
	require.NoError(t, err)

	// Enrolling in the target chains from the gateway's expiry.
	grant, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
		OrgID:      testOrg,
		LearnerID:  100,
		OfferingID: target.ID,
	})
	require.NoError(t, err)
	require.Equal(t, date(2024, time.July, 29), grant.EndDate.UTC())
}

func TestExpireDueSweep(t *testing.T) {
	f := newFixture(t, date(2024, time.March, 1))
	offering := f.addOffering(t, intPtr(10), "")

	for learner := snowflake.ID(100); learner < 105; learner++ {
		_, err := f.svc.LinkOrUpdate(context.Background(), grantdomain.LinkRequest{
			OrgID:      testOrg,
			LearnerID:  learner,
			OfferingID: offering.ID,
		})
		require.NoError(t, err)
	}

	// Not yet due.
	transitioned, err := f.svc.ExpireDue(context.Background(), 2)
	require.NoError(t, err)
	require.Zero(t, transitioned)

	f.clk.Set(date(2024, time.March, 12))
	transitioned, err = f.svc.ExpireDue(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, int64(5), transitioned)

	// Second sweep is a no-op: idempotent.
	transitioned, err = f.svc.ExpireDue(context.Background(), 2)
	require.NoError(t, err)
	require.Zero(t, transitioned)
}

func timePtr(t time.Time) *time.Time { return &t }
