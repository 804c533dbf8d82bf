// Package seed bootstraps demo data for local development: a learner,
// a sub-org with its root admin, and a pair of offerings with contrasting
// enrollment policies. Every helper is idempotent so repeated startups
// leave the database unchanged.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	identitydomain "github.com/coursekit/enroll/internal/identity/domain"
	offeringdomain "github.com/coursekit/enroll/internal/offering/domain"
	plandomain "github.com/coursekit/enroll/internal/plan/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	demoLearnerEmail  = "learner@coursekit.local"
	demoLearnerName   = "Demo Learner"
	demoAdminEmail    = "admin@coursekit.local"
	demoAdminName     = "Demo Admin"
	demoOpenCode      = "open-course"
	demoGatedCode     = "cohort-course"
	demoGatedPolicy   = `{"reenrollmentPolicy": {"allowReenrollmentAfterExpiry": false, "reenrollmentGapInDays": 30}}`
	demoPlanValidDays = 30
)

// EnsureDemoData seeds the demo learner, sub-org root admin, offerings,
// and one active subscription plan under the given org.
func EnsureDemoData(db *gorm.DB, orgID snowflake.ID) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if orgID == 0 {
		return errors.New("seed org id is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		learner, err := ensureUserTx(ctx, tx, node, orgID, demoLearnerEmail, demoLearnerName)
		if err != nil {
			return err
		}
		admin, err := ensureUserTx(ctx, tx, node, orgID, demoAdminEmail, demoAdminName)
		if err != nil {
			return err
		}
		if err := ensureRootAdminTx(ctx, tx, node, orgID, admin.ID); err != nil {
			return err
		}

		open, err := ensureOfferingTx(ctx, tx, node, orgID, demoOpenCode, "Open Course", "")
		if err != nil {
			return err
		}
		if _, err := ensureOfferingTx(ctx, tx, node, orgID, demoGatedCode, "Cohort Course", demoGatedPolicy); err != nil {
			return err
		}

		return ensureSubscriptionTx(ctx, tx, node, orgID, learner.ID, open.ID)
	})
}

func ensureUserTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID, email, name string) (identitydomain.UserRecord, error) {
	var user identitydomain.UserRecord
	err := tx.WithContext(ctx).
		Where("org_id = ? AND email = ?", orgID, strings.ToLower(email)).
		First(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return user, err
	}

	now := time.Now().UTC()
	user = identitydomain.UserRecord{
		ID:        node.Generate(),
		OrgID:     orgID,
		Email:     strings.ToLower(email),
		FullName:  name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		return user, err
	}
	return user, nil
}

func ensureRootAdminTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID, userID snowflake.ID) error {
	// The demo sub-org shares the admin's id; a real deployment carries
	// its own sub-org catalog.
	subOrgID := userID

	var admin identitydomain.OrgAdmin
	err := tx.WithContext(ctx).
		Where("org_id = ? AND sub_org_id = ? AND role = ?", orgID, subOrgID, identitydomain.RoleRoot).
		First(&admin).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	admin = identitydomain.OrgAdmin{
		ID:        node.Generate(),
		OrgID:     orgID,
		SubOrgID:  subOrgID,
		UserID:    userID,
		Role:      identitydomain.RoleRoot,
		CreatedAt: time.Now().UTC(),
	}
	return tx.WithContext(ctx).Create(&admin).Error
}

func ensureOfferingTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID, code, title, policyBlob string) (offeringdomain.Offering, error) {
	var offering offeringdomain.Offering
	err := tx.WithContext(ctx).
		Where("org_id = ? AND code = ?", orgID, code).
		First(&offering).Error
	if err == nil {
		return offering, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return offering, err
	}

	validity := demoPlanValidDays
	now := time.Now().UTC()
	offering = offeringdomain.Offering{
		ID:           node.Generate(),
		OrgID:        orgID,
		Code:         code,
		Title:        title,
		ValidityDays: &validity,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if policyBlob != "" {
		offering.PolicyBlob = datatypes.JSON([]byte(policyBlob))
	}
	if err := tx.WithContext(ctx).Create(&offering).Error; err != nil {
		return offering, err
	}
	return offering, nil
}

func ensureSubscriptionTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID, learnerID, offeringID snowflake.ID) error {
	var existing plandomain.BillingPlan
	err := tx.WithContext(ctx).
		Where("org_id = ? AND owner_type = ? AND owner_id = ?", orgID, plandomain.SourceIndividual, learnerID).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	end := now.AddDate(0, 0, demoPlanValidDays)
	plan := plandomain.BillingPlan{
		ID:        node.Generate(),
		OrgID:     orgID,
		OwnerType: plandomain.SourceIndividual,
		OwnerID:   learnerID,
		PlanType:  plandomain.TypeSubscription,
		Vendor:    "MIDTRANS",
		Status:    plandomain.StatusActive,
		StartDate: now,
		EndDate:   &end,
		Amount:    150000,
		Currency:  "IDR",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&plan).Error; err != nil {
		return err
	}

	grant := grantdomain.AccessGrant{
		ID:         node.Generate(),
		OrgID:      orgID,
		UserID:     learnerID,
		OfferingID: offeringID,
		PlanID:     &plan.ID,
		Status:     grantdomain.StatusActive,
		Kind:       grantdomain.KindNormal,
		StartDate:  now,
		EndDate:    &end,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return tx.WithContext(ctx).Create(&grant).Error
}
