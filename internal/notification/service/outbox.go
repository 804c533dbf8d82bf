package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/clock"
	notificationdomain "github.com/coursekit/enroll/internal/notification/domain"
	obslogger "github.com/coursekit/enroll/internal/observability/logger"
	pkgdb "github.com/coursekit/enroll/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outbox enqueues intents durably and drains them to the configured
// sender.
type Outbox struct {
	db     *gorm.DB
	repo   notificationdomain.Repository
	sender notificationdomain.Sender
	clk    clock.Clock
	genID  *snowflake.Node
}

func NewOutbox(
	db *gorm.DB,
	repo notificationdomain.Repository,
	sender notificationdomain.Sender,
	clk clock.Clock,
	genID *snowflake.Node,
) *Outbox {
	return &Outbox{db: db, repo: repo, sender: sender, clk: clk, genID: genID}
}

// Enqueue stores an intent for later delivery. Callers may pass a
// transaction so the enqueue commits atomically with their own writes.
func (o *Outbox) Enqueue(ctx context.Context, db *gorm.DB, intent notificationdomain.Intent) error {
	if db == nil {
		db = o.db
	}
	entry := &notificationdomain.OutboxEntry{
		ID:        o.genID.Generate(),
		OrgID:     intent.OrgID,
		Recipient: intent.Recipient,
		Channel:   "email",
		Template:  string(intent.Kind),
		Payload:   intent.Variables,
		Status:    notificationdomain.OutboxPending,
		CreatedAt: o.clk.Now(),
	}
	return o.repo.Enqueue(ctx, db, entry)
}

// Dispatch drains up to limit pending entries. Delivery failures mark
// the entry FAILED and move on; one bad recipient never blocks the
// queue.
func (o *Outbox) Dispatch(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	// The claim flips entries to SENDING inside one transaction, so the
	// row locks are held until the flip commits and a concurrent
	// dispatcher cannot pick up the same entries. Delivery itself runs
	// after commit; a crash mid-send leaves SENDING rows for operators
	// rather than risking a double send.
	var entries []notificationdomain.OutboxEntry
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := o.repo.ClaimPending(ctx, tx, limit, pkgdb.LockSuffix(o.db))
		if err != nil {
			return err
		}
		ids := make([]snowflake.ID, 0, len(claimed))
		for _, entry := range claimed {
			ids = append(ids, entry.ID)
		}
		if err := o.repo.MarkDispatching(ctx, tx, ids); err != nil {
			return err
		}
		entries = claimed
		return nil
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, entry := range entries {
		intent := notificationdomain.Intent{
			Kind:      notificationdomain.IntentKind(entry.Template),
			OrgID:     entry.OrgID,
			Recipient: entry.Recipient,
			Variables: entry.Payload,
		}

		if err := o.sender.Send(ctx, intent); err != nil {
			obslogger.FromContext(ctx).Warn("notification.send_failed",
				zap.Int64("entry_id", entry.ID.Int64()),
				zap.String("template", entry.Template),
				zap.Error(err),
			)
			if markErr := o.repo.MarkFailed(ctx, o.db, entry.ID, err.Error(), o.clk.Now()); markErr != nil {
				return sent, markErr
			}
			continue
		}

		if err := o.repo.MarkSent(ctx, o.db, entry.ID, o.clk.Now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
