// Package domain defines notification intents and the outbox that
// decouples the engine from delivery. The engine enqueues and moves
// on; a dispatcher drains the outbox out-of-band.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IntentKind names the notification templates the engine emits.
type IntentKind string

const (
	KindRenewalSucceeded IntentKind = "renewal_succeeded"
	KindRenewalFailed    IntentKind = "renewal_failed"
	KindGrantExpired     IntentKind = "grant_expired"
)

// Intent is a fire-and-forget notification request.
type Intent struct {
	Kind      IntentKind
	OrgID     snowflake.ID
	Recipient string
	Variables map[string]interface{}
}

// Sender delivers one intent. Implementations must not be called from
// reconciliation workers directly; enqueue through the outbox instead.
type Sender interface {
	Send(ctx context.Context, intent Intent) error
}

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSending OutboxStatus = "SENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

// OutboxEntry is a durably queued intent.
type OutboxEntry struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	OrgID     snowflake.ID      `gorm:"not null;index"`
	Recipient string            `gorm:"type:text;not null"`
	Channel   string            `gorm:"type:text;not null;default:'email'"`
	Template  string            `gorm:"type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	Status    OutboxStatus      `gorm:"type:text;not null;default:'PENDING'"`
	Attempts  int               `gorm:"not null;default:0"`
	LastError *string           `gorm:"type:text"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	SentAt    *time.Time        `gorm:""`
}

// TableName sets the database table name.
func (OutboxEntry) TableName() string { return "notification_outbox" }

type Repository interface {
	Enqueue(ctx context.Context, db *gorm.DB, entry *OutboxEntry) error
	// ClaimPending fetches up to limit pending entries for delivery.
	ClaimPending(ctx context.Context, db *gorm.DB, limit int, lockSuffix string) ([]OutboxEntry, error)
	// MarkDispatching flips claimed entries to SENDING so no other
	// dispatcher picks them up once the claim commits.
	MarkDispatching(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error
}
