// Package audit carries audit entries from state-transition sites to a best-effort recorder.
// Entries are collected while a transaction runs and written only after it commits.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	EntityOrder        = "order"
	EntityRegistration = "registration"
	EntityPayment      = "payment"
	EntityCertificate  = "certificate"
	EntityPerson       = "person"
	EntityRefund       = "refund"
	EntityCoupon       = "coupon"
)

type Entry struct {
	EntityType     string         `json:"entity_type"`
	EntityID       int64          `json:"entity_id"`
	Action         string         `json:"action"`
	PreviousValues map[string]any `json:"previous_values,omitempty"`
	NewValues      map[string]any `json:"new_values,omitempty"`
	ActorID        *int64         `json:"actor_id,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Recorder persists audit entries. Implementations may fail; callers never let that abort business work.
type Recorder interface {
	RecordAuditEntry(ctx context.Context, entry Entry) error
}

// Batch accumulates the entries of one transaction.
type Batch struct {
	actorID *int64
	now     time.Time
	entries []Entry
}

func NewBatch(actorID *int64, now time.Time) *Batch {
	return &Batch{actorID: actorID, now: now}
}

// Status records a status change of one entity.
func (b *Batch) Status(entityType string, id int64, action, from, to, reason string) {
	b.Add(entityType, id, action, map[string]any{"status": from}, map[string]any{"status": to}, reason)
}

func (b *Batch) Add(entityType string, id int64, action string, previous, next map[string]any, reason string) {
	b.entries = append(b.entries, Entry{
		EntityType:     entityType,
		EntityID:       id,
		Action:         action,
		PreviousValues: previous,
		NewValues:      next,
		ActorID:        b.actorID,
		Reason:         reason,
		OccurredAt:     b.now,
	})
}

func (b *Batch) Entries() []Entry {
	return b.entries
}

// Writer flushes batches after commit, logging and swallowing recorder failures.
type Writer struct {
	recorder Recorder
	logger   *zap.Logger
}

func NewWriter(recorder Recorder, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{recorder: recorder, logger: logger}
}

func (w *Writer) Flush(ctx context.Context, b *Batch) {
	if w == nil || w.recorder == nil || b == nil {
		return
	}
	for _, e := range b.entries {
		if err := w.recorder.RecordAuditEntry(ctx, e); err != nil {
			w.logger.Warn("audit entry not recorded",
				zap.String("entity_type", e.EntityType),
				zap.Int64("entity_id", e.EntityID),
				zap.String("action", e.Action),
				zap.Error(err))
		}
	}
}

// LogRecorder writes entries to the structured log.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) RecordAuditEntry(_ context.Context, e Entry) error {
	fields := []zap.Field{
		zap.String("entity_type", e.EntityType),
		zap.Int64("entity_id", e.EntityID),
		zap.String("action", e.Action),
		zap.Any("previous", e.PreviousValues),
		zap.Any("new", e.NewValues),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.ActorID != nil {
		fields = append(fields, zap.Int64("actor_id", *e.ActorID))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	r.logger.Info("audit", fields...)
	return nil
}

// MultiRecorder fans an entry out to several recorders and returns the first failure.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordAuditEntry(ctx context.Context, e Entry) error {
	var first error
	for _, r := range m {
		if err := r.RecordAuditEntry(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
