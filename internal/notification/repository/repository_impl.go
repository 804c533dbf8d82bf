package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	notificationdomain "github.com/coursekit/enroll/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() notificationdomain.Repository {
	return &repo{}
}

func (r *repo) Enqueue(ctx context.Context, db *gorm.DB, entry *notificationdomain.OutboxEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO notification_outbox (
			id, org_id, recipient, channel, template, payload, status,
			attempts, last_error, created_at, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OrgID,
		entry.Recipient,
		entry.Channel,
		entry.Template,
		entry.Payload,
		entry.Status,
		entry.Attempts,
		entry.LastError,
		entry.CreatedAt,
		entry.SentAt,
	).Error
}

func (r *repo) ClaimPending(ctx context.Context, db *gorm.DB, limit int, lockSuffix string) ([]notificationdomain.OutboxEntry, error) {
	query := fmt.Sprintf(`SELECT * FROM notification_outbox
		WHERE status = ?
		ORDER BY created_at
		LIMIT ? %s`, lockSuffix)

	var entries []notificationdomain.OutboxEntry
	err := db.WithContext(ctx).
		Raw(query, notificationdomain.OutboxPending, limit).
		Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) MarkDispatching(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE notification_outbox SET status = ? WHERE id IN ?`,
		notificationdomain.OutboxSending, ids,
	).Error
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_outbox SET status = ?, sent_at = ?, attempts = attempts + 1
		WHERE id = ?`,
		notificationdomain.OutboxSent, at, id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_outbox SET status = ?, last_error = ?, attempts = attempts + 1
		WHERE id = ?`,
		notificationdomain.OutboxFailed, reason, id,
	).Error
}
