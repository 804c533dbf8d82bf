package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/coursekit/enroll/internal/identity/domain"
	"gorm.io/gorm"
)

type resolver struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) identitydomain.Resolver {
	return &resolver{db: db}
}

func (r *resolver) GetUsers(ctx context.Context, ids []snowflake.ID) ([]identitydomain.UserRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []identitydomain.UserRecord
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM users WHERE id IN ? AND active`, ids).
		Scan(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *resolver) GetRootAdmin(ctx context.Context, subOrgID snowflake.ID) (*identitydomain.UserRecord, error) {
	var user identitydomain.UserRecord
	err := r.db.WithContext(ctx).
		Raw(`SELECT u.* FROM users u
			JOIN org_admins a ON a.user_id = u.id
			WHERE a.sub_org_id = ? AND a.role = ? AND u.active
			ORDER BY a.created_at
			LIMIT 1`,
			subOrgID, identitydomain.RoleRoot).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identitydomain.ErrRootAdminNotFound
		}
		return nil, err
	}
	return &user, nil
}
