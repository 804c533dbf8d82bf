package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	offeringdomain "github.com/coursekit/enroll/internal/offering/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() offeringdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, offering *offeringdomain.Offering) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO offerings (
			id, org_id, code, title, policy_blob, validity_days, legacy_access_days,
			active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		offering.ID,
		offering.OrgID,
		offering.Code,
		offering.Title,
		offering.PolicyBlob,
		offering.ValidityDays,
		offering.LegacyAccessDays,
		offering.Active,
		offering.CreatedAt,
		offering.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*offeringdomain.Offering, error) {
	var offering offeringdomain.Offering
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM offerings WHERE org_id = ? AND id = ?`, orgID, id).
		First(&offering).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, offeringdomain.ErrOfferingNotFound
		}
		return nil, err
	}
	return &offering, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]offeringdomain.Offering, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var offerings []offeringdomain.Offering
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM offerings WHERE org_id = ? AND id IN ?`, orgID, ids).
		Scan(&offerings).Error
	if err != nil {
		return nil, err
	}
	return offerings, nil
}

func (r *repo) UpdatePolicyBlob(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, blob []byte) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE offerings SET policy_blob = ?, updated_at = CURRENT_TIMESTAMP WHERE org_id = ? AND id = ?`,
		blob, orgID, id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return offeringdomain.ErrOfferingNotFound
	}
	return nil
}
