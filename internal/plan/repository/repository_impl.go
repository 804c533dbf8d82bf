package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/coursekit/enroll/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *plandomain.BillingPlan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_plans (
			id, org_id, owner_type, owner_id, plan_type, vendor, status,
			start_date, end_date, amount, currency, vendor_context,
			pending_order_ref, renewal_requested_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.OrgID,
		plan.OwnerType,
		plan.OwnerID,
		plan.PlanType,
		plan.Vendor,
		plan.Status,
		plan.StartDate,
		plan.EndDate,
		plan.Amount,
		plan.Currency,
		plan.VendorContext,
		plan.PendingOrderRef,
		plan.RenewalRequestedAt,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*plandomain.BillingPlan, error) {
	var plan plandomain.BillingPlan
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM billing_plans WHERE org_id = ? AND id = ?`, orgID, id).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, plandomain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, lockSuffix string) (*plandomain.BillingPlan, error) {
	query := fmt.Sprintf(`SELECT * FROM billing_plans WHERE org_id = ? AND id = ? %s`, lockSuffix)

	var plan plandomain.BillingPlan
	err := db.WithContext(ctx).Raw(query, orgID, id).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, plandomain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) FindByPendingOrderRef(ctx context.Context, db *gorm.DB, orderRef string) (*plandomain.BillingPlan, error) {
	var plan plandomain.BillingPlan
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM billing_plans WHERE pending_order_ref = ?`, orderRef).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, plandomain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) DiscoverIDs(ctx context.Context, db *gorm.DB, dueOnly bool, now time.Time, limit int, afterID snowflake.ID) ([]plandomain.PlanRef, error) {
	query := `SELECT id, org_id, owner_type FROM billing_plans
		WHERE status = ? AND id > ?`
	args := []interface{}{plandomain.StatusActive, afterID}

	if dueOnly {
		query += ` AND end_date IS NOT NULL AND end_date < ?`
		args = append(args, now)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	var refs []plandomain.PlanRef
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *repo) UpdateWindow(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, start time.Time, end *time.Time, at time.Time) error {
	return r.exec(db.WithContext(ctx).Exec(
		`UPDATE billing_plans SET start_date = ?, end_date = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		start, end, at, orgID, id,
	))
}

func (r *repo) UpdateEndDate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, end time.Time, at time.Time) error {
	return r.exec(db.WithContext(ctx).Exec(
		`UPDATE billing_plans SET end_date = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		end, at, orgID, id,
	))
}

func (r *repo) MarkSettled(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error {
	return r.exec(db.WithContext(ctx).Exec(
		`UPDATE billing_plans SET status = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		plandomain.StatusSettled, at, orgID, id,
	))
}

func (r *repo) SetPendingOrder(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, orderRef string, at time.Time) error {
	return r.exec(db.WithContext(ctx).Exec(
		`UPDATE billing_plans SET pending_order_ref = ?, renewal_requested_at = ?, updated_at = ?
		WHERE org_id = ? AND id = ? AND pending_order_ref IS NULL`,
		orderRef, at, at, orgID, id,
	))
}

func (r *repo) ClearPendingOrder(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error {
	return r.exec(db.WithContext(ctx).Exec(
		`UPDATE billing_plans SET pending_order_ref = NULL, renewal_requested_at = NULL, updated_at = ?
		WHERE org_id = ? AND id = ?`,
		at, orgID, id,
	))
}

func (r *repo) exec(result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return plandomain.ErrPlanNotFound
	}
	return nil
}
