// Package domain contains persistence models for purchasable offerings.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Offering is the purchasable unit an access grant refers to, e.g. a
// course session. Policy configuration rides along as a raw JSON blob
// and is parsed on demand.
type Offering struct {
	ID               snowflake.ID   `gorm:"primaryKey"`
	OrgID            snowflake.ID   `gorm:"not null;index"`
	Code             string         `gorm:"type:text;not null"`
	Title            string         `gorm:"type:text;not null"`
	PolicyBlob       datatypes.JSON `gorm:"type:jsonb"`
	ValidityDays     *int           `gorm:""`
	LegacyAccessDays *string        `gorm:"type:text"`
	Active           bool           `gorm:"not null;default:true"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Offering) TableName() string { return "offerings" }
