package testutil

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/store"
)

func SeedUser(t *testing.T, db *sql.DB, role string) *models.User {
	t.Helper()
	id := strings.ToLower(ulid.Make().String())
	u, err := store.CreateUser(context.Background(), db, id+"@example.com", "User "+id[:6], role)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// SeedEvent creates a PUBLISHED event starting at startsAt and lasting four hours.
func SeedEvent(t *testing.T, db *sql.DB, startsAt time.Time) *models.Event {
	t.Helper()
	ev, err := store.CreateEvent(context.Background(), db, "Event "+ulid.Make().String(),
		models.EventStatusPublished, startsAt, startsAt.Add(4*time.Hour), "PEN")
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return ev
}

func SeedTicketType(t *testing.T, db *sql.DB, eventID int64, price string, stock int) *models.TicketType {
	t.Helper()
	return SeedTicketTypeWith(t, db, store.NewTicketType{
		EventID:     eventID,
		Name:        "General",
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
		MaxPerOrder: 10,
	})
}

func SeedTicketTypeWith(t *testing.T, db *sql.DB, in store.NewTicketType) *models.TicketType {
	t.Helper()
	tt, err := store.CreateTicketType(context.Background(), db, in)
	if err != nil {
		t.Fatalf("seed ticket type: %v", err)
	}
	return tt
}

// RecordingNotifier collects enqueued ticket notifications.
type RecordingNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (n *RecordingNotifier) EnqueueTicketNotification(_ context.Context, registrationID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, registrationID)
	return nil
}

func (n *RecordingNotifier) IDs() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.ids...)
}

// FixedClock returns a clock that can be moved by tests.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
