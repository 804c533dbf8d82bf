package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() grantdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, grant *grantdomain.AccessGrant) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO access_grants (
			id, org_id, user_id, offering_id, destination_offering_id, plan_id,
			sub_org_id, role_tags, status, kind, start_date, end_date,
			superseded_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		grant.ID,
		grant.OrgID,
		grant.UserID,
		grant.OfferingID,
		grant.DestinationOfferingID,
		grant.PlanID,
		grant.SubOrgID,
		grant.RoleTags,
		grant.Status,
		grant.Kind,
		grant.StartDate,
		grant.EndDate,
		grant.SupersededBy,
		grant.CreatedAt,
		grant.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*grantdomain.AccessGrant, error) {
	var grant grantdomain.AccessGrant
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM access_grants WHERE org_id = ? AND id = ?`, orgID, id).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, grantdomain.ErrGrantNotFound
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repo) FindCurrent(ctx context.Context, db *gorm.DB, orgID, userID, offeringID snowflake.ID) (*grantdomain.AccessGrant, error) {
	var grant grantdomain.AccessGrant
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM access_grants
			WHERE org_id = ? AND user_id = ? AND offering_id = ? AND status <> ?
			ORDER BY updated_at DESC
			LIMIT 1`,
			orgID, userID, offeringID, grantdomain.StatusDeleted).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repo) FindLastForGap(ctx context.Context, db *gorm.DB, orgID, userID, offeringID snowflake.ID) (*grantdomain.AccessGrant, error) {
	// Direct offering match wins over a destination-link match.
	var grant grantdomain.AccessGrant
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM access_grants
			WHERE org_id = ? AND user_id = ? AND offering_id = ?
			AND status <> ? AND kind <> ?
			ORDER BY updated_at DESC
			LIMIT 1`,
			orgID, userID, offeringID, grantdomain.StatusDeleted, grantdomain.KindAbandonedCart).
		First(&grant).Error
	if err == nil {
		return &grant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = db.WithContext(ctx).
		Raw(`SELECT * FROM access_grants
			WHERE org_id = ? AND user_id = ? AND destination_offering_id = ?
			AND status <> ? AND kind <> ?
			ORDER BY updated_at DESC
			LIMIT 1`,
			orgID, userID, offeringID, grantdomain.StatusDeleted, grantdomain.KindAbandonedCart).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repo) FindActiveDestination(ctx context.Context, db *gorm.DB, orgID, userID, offeringID snowflake.ID) (*grantdomain.AccessGrant, error) {
	var grant grantdomain.AccessGrant
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM access_grants
			WHERE org_id = ? AND user_id = ? AND destination_offering_id = ? AND status = ?
			ORDER BY updated_at DESC
			LIMIT 1`,
			orgID, userID, offeringID, grantdomain.StatusActive).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repo) FindActiveByPlan(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID) ([]grantdomain.AccessGrant, error) {
	var grants []grantdomain.AccessGrant
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM access_grants
			WHERE org_id = ? AND plan_id = ? AND status = ?
			ORDER BY id`,
			orgID, planID, grantdomain.StatusActive).
		Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, grant *grantdomain.AccessGrant) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_grants SET
			destination_offering_id = ?,
			plan_id = ?,
			sub_org_id = ?,
			role_tags = ?,
			status = ?,
			start_date = ?,
			end_date = ?,
			updated_at = ?
		WHERE org_id = ? AND id = ?`,
		grant.DestinationOfferingID,
		grant.PlanID,
		grant.SubOrgID,
		grant.RoleTags,
		grant.Status,
		grant.StartDate,
		grant.EndDate,
		grant.UpdatedAt,
		grant.OrgID,
		grant.ID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return grantdomain.ErrGrantNotFound
	}
	return nil
}

func (r *repo) MarkDeleted(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, supersededBy *snowflake.ID, at time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_grants SET status = ?, superseded_by = ?, updated_at = ?
		WHERE org_id = ? AND id = ? AND status <> ?`,
		grantdomain.StatusDeleted, supersededBy, at,
		orgID, id, grantdomain.StatusDeleted,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return grantdomain.ErrGrantNotFound
	}
	return nil
}

func (r *repo) ExpireDue(ctx context.Context, db *gorm.DB, now time.Time, limit int, lockSuffix string) (int64, error) {
	// The derived table keeps MySQL from rejecting an UPDATE that
	// selects from its own target (error 1093).
	query := fmt.Sprintf(`UPDATE access_grants SET status = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM (
				SELECT id FROM access_grants
				WHERE status = ? AND end_date IS NOT NULL AND end_date < ?
				ORDER BY end_date
				LIMIT ? %s
			) AS due
		)`, lockSuffix)

	result := db.WithContext(ctx).Exec(query,
		grantdomain.StatusExpired, now,
		grantdomain.StatusActive, now, limit,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ExtendActiveByPlan(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID, newEnd time.Time, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_grants SET end_date = ?, updated_at = ?
		WHERE org_id = ? AND plan_id = ? AND status = ?`,
		newEnd, at,
		orgID, planID, grantdomain.StatusActive,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) WindowByPlan(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID) (grantdomain.PlanWindow, error) {
	var row struct {
		EarliestStart *time.Time
		LatestEnd     *time.Time
		Unlimited     int64
	}
	err := db.WithContext(ctx).
		Raw(`SELECT
			MIN(start_date) AS earliest_start,
			MAX(end_date) AS latest_end,
			SUM(CASE WHEN end_date IS NULL THEN 1 ELSE 0 END) AS unlimited
		FROM access_grants
		WHERE org_id = ? AND plan_id = ? AND status <> ?`,
			orgID, planID, grantdomain.StatusDeleted).
		Scan(&row).Error
	if err != nil {
		return grantdomain.PlanWindow{}, err
	}
	return grantdomain.PlanWindow{
		EarliestStart: row.EarliestStart,
		LatestEnd:     row.LatestEnd,
		HasUnlimited:  row.Unlimited > 0,
	}, nil
}
