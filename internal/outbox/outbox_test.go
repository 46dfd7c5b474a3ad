package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-ticket-store/internal/audit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueTicketNotification(ctx, 5))
	require.NoError(t, s.EnqueueTicketNotification(ctx, 5))
	require.NoError(t, s.EnqueueTicketNotification(ctx, 6))

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(5), pending[0].RegistrationID)
	assert.Equal(t, int64(6), pending[1].RegistrationID)
}

func TestDrainMovesDelivered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnqueueTicketNotification(ctx, 1))
	require.NoError(t, s.EnqueueTicketNotification(ctx, 2))

	n, err := s.Drain(ctx, func(_ context.Context, n Notification) error {
		if n.RegistrationID == 2 {
			return errors.New("smtp down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "smtp down", pending[0].LastError)
	assert.Nil(t, pending[0].DeliveredAt)

	delivered, err := s.Delivered()
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, int64(1), delivered[0].RegistrationID)
	require.NotNil(t, delivered[0].DeliveredAt)
	assert.False(t, delivered[0].DeliveredAt.IsZero())

	// Delivered notifications are not queued again.
	require.NoError(t, s.EnqueueTicketNotification(ctx, 1))
	pending, err = s.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRecordAuditEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordAuditEntry(ctx, audit.Entry{EntityType: audit.EntityOrder, EntityID: 1, Action: "order.paid", OccurredAt: at}))
	require.NoError(t, s.RecordAuditEntry(ctx, audit.Entry{EntityType: audit.EntityOrder, EntityID: 1, Action: "order.cancelled", OccurredAt: at.Add(time.Second)}))

	entries, err := s.AuditEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "order.paid", entries[0].Action)
	assert.True(t, entries[0].OccurredAt.Equal(at))
}
