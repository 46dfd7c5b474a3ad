package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memoryRecorder struct {
	entries []Entry
	fail    bool
}

func (m *memoryRecorder) RecordAuditEntry(_ context.Context, e Entry) error {
	if m.fail {
		return errors.New("disk full")
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestBatchFlush(t *testing.T) {
	actor := int64(42)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	b := NewBatch(&actor, now)
	b.Status(EntityOrder, 7, "order.paid", "PENDING", "PAID", "")
	b.Add(EntityPerson, 3, "person.risk_flagged", map[string]any{"is_risk_flagged": false}, map[string]any{"is_risk_flagged": true}, "chargeback")

	rec := &memoryRecorder{}
	NewWriter(rec, nil).Flush(context.Background(), b)

	require.Len(t, rec.entries, 2)
	assert.Equal(t, "PAID", rec.entries[0].NewValues["status"])
	assert.Equal(t, &actor, rec.entries[1].ActorID)
	assert.Equal(t, now, rec.entries[1].OccurredAt)
	assert.Equal(t, "chargeback", rec.entries[1].Reason)
}

func TestFlushSwallowsRecorderFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := NewBatch(nil, time.Now())
	b.Status(EntityPayment, 1, "payment.chargeback_confirmed", "COMPLETED", "CHARGEBACK", "")

	NewWriter(&memoryRecorder{fail: true}, zap.New(core)).Flush(context.Background(), b)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "audit entry not recorded", logs.All()[0].Message)
}

func TestMultiRecorder(t *testing.T) {
	ok := &memoryRecorder{}
	m := MultiRecorder{&memoryRecorder{fail: true}, ok}

	err := m.RecordAuditEntry(context.Background(), Entry{Action: "x"})
	assert.Error(t, err)
	assert.Len(t, ok.entries, 1)
}
