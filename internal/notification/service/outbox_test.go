package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/clock"
	notificationdomain "github.com/coursekit/enroll/internal/notification/domain"
	notificationrepo "github.com/coursekit/enroll/internal/notification/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingSender struct {
	mu     sync.Mutex
	sent   []notificationdomain.Intent
	failOn string
}

func (s *recordingSender) Send(_ context.Context, intent notificationdomain.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && intent.Recipient == s.failOn {
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, intent)
	return nil
}

func (s *recordingSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, intent := range s.sent {
		out = append(out, intent.Recipient)
	}
	return out
}

type outboxFixture struct {
	db     *gorm.DB
	clk    *clock.FakeClock
	sender *recordingSender
	outbox *Outbox
}

func newOutboxFixture(t *testing.T) *outboxFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&notificationdomain.OutboxEntry{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC))
	sender := &recordingSender{}
	outbox := NewOutbox(db, notificationrepo.Provide(), sender, clk, node)

	return &outboxFixture{db: db, clk: clk, sender: sender, outbox: outbox}
}

func (f *outboxFixture) enqueue(t *testing.T, recipient string) {
	t.Helper()
	err := f.outbox.Enqueue(context.Background(), nil, notificationdomain.Intent{
		Kind:      notificationdomain.KindRenewalSucceeded,
		OrgID:     1,
		Recipient: recipient,
	})
	require.NoError(t, err)
	// Distinct created_at keeps the drain order deterministic.
	f.clk.Advance(time.Second)
}

func (f *outboxFixture) entries(t *testing.T) []notificationdomain.OutboxEntry {
	t.Helper()
	var entries []notificationdomain.OutboxEntry
	require.NoError(t, f.db.Order("created_at").Find(&entries).Error)
	return entries
}

func TestDispatchSendsAndMarksSent(t *testing.T) {
	f := newOutboxFixture(t)
	f.enqueue(t, "a@example.com")
	f.enqueue(t, "b@example.com")

	sent, err := f.outbox.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	require.Equal(t, []string{"a@example.com", "b@example.com"}, f.sender.recipients())

	for _, entry := range f.entries(t) {
		require.Equal(t, notificationdomain.OutboxSent, entry.Status)
		require.NotNil(t, entry.SentAt)
		require.Equal(t, 1, entry.Attempts)
	}

	// Nothing pending: a second drain is a no-op.
	sent, err = f.outbox.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Len(t, f.sender.recipients(), 2)
}

func TestDispatchFailureMarksFailedAndContinues(t *testing.T) {
	f := newOutboxFixture(t)
	f.enqueue(t, "a@example.com")
	f.enqueue(t, "broken@example.com")
	f.enqueue(t, "c@example.com")
	f.sender.failOn = "broken@example.com"

	sent, err := f.outbox.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	require.Equal(t, []string{"a@example.com", "c@example.com"}, f.sender.recipients())

	entries := f.entries(t)
	require.Equal(t, notificationdomain.OutboxSent, entries[0].Status)
	require.Equal(t, notificationdomain.OutboxFailed, entries[1].Status)
	require.NotNil(t, entries[1].LastError)
	require.Equal(t, "smtp unavailable", *entries[1].LastError)
	require.Equal(t, notificationdomain.OutboxSent, entries[2].Status)
}

func TestDispatchIgnoresEntriesClaimedElsewhere(t *testing.T) {
	f := newOutboxFixture(t)
	f.enqueue(t, "a@example.com")
	f.enqueue(t, "claimed@example.com")

	// Another dispatcher already flipped this entry to SENDING; this
	// drain must not deliver it a second time.
	require.NoError(t, f.db.Exec(
		`UPDATE notification_outbox SET status = ? WHERE recipient = ?`,
		notificationdomain.OutboxSending, "claimed@example.com",
	).Error)

	sent, err := f.outbox.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.Equal(t, []string{"a@example.com"}, f.sender.recipients())

	entries := f.entries(t)
	require.Equal(t, notificationdomain.OutboxSent, entries[0].Status)
	require.Equal(t, notificationdomain.OutboxSending, entries[1].Status)
	require.Nil(t, entries[1].SentAt)
}
