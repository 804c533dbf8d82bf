package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrOfferingNotFound = errors.New("offering_not_found")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, offering *Offering) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Offering, error)
	FindByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]Offering, error)
	UpdatePolicyBlob(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, blob []byte) error
}
