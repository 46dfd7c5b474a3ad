// Package outbox is an embedded bolt-backed queue for work that must happen after a commit:
// ticket notifications and audit entries. Writes are idempotent per key so replays never duplicate a send.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/oklog/ulid/v2"

	"github.com/safar/go-ticket-store/internal/audit"
)

var (
	bucketPending   = []byte("notifications_pending")
	bucketDelivered = []byte("notifications_delivered")
	bucketAudit     = []byte("audit_entries")
)

// ErrNotFound is returned when a notification key is absent.
var ErrNotFound = errors.New("notification not found")

type Notification struct {
	Key            string     `json:"key"`
	RegistrationID int64      `json:"registration_id"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// DeliverFunc sends one notification. A returned error leaves it pending.
type DeliverFunc func(ctx context.Context, n Notification) error

type Store struct {
	db    *bolt.DB
	clock func() time.Time
}

// Open opens or creates the outbox file and its buckets.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPending, bucketDelivered, bucketAudit} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create outbox buckets: %w", err)
	}

	return &Store{db: db, clock: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func notificationKey(registrationID int64) string {
	return fmt.Sprintf("ticket-%020d", registrationID)
}

// EnqueueTicketNotification queues the ticket notification of a confirmed registration.
// A registration already queued or delivered is left untouched.
func (s *Store) EnqueueTicketNotification(_ context.Context, registrationID int64) error {
	key := []byte(notificationKey(registrationID))
	return s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		if pending.Get(key) != nil || tx.Bucket(bucketDelivered).Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(Notification{
			Key:            string(key),
			RegistrationID: registrationID,
			EnqueuedAt:     s.clock(),
		})
		if err != nil {
			return err
		}
		return pending.Put(key, data)
	})
}

// RecordAuditEntry appends an entry under a time-ordered ulid key.
func (s *Store) RecordAuditEntry(_ context.Context, entry audit.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	at := entry.OccurredAt
	if at.IsZero() {
		at = s.clock()
	}
	key := ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).Put([]byte(key), data)
	})
}

func (s *Store) Pending() ([]Notification, error) {
	return s.list(bucketPending)
}

func (s *Store) Delivered() ([]Notification, error) {
	return s.list(bucketDelivered)
}

func (s *Store) list(bucket []byte) ([]Notification, error) {
	items := []Notification{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			var n Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			items = append(items, n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) AuditEntries() ([]audit.Entry, error) {
	entries := []audit.Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).ForEach(func(_, v []byte) error {
			var e audit.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Drain delivers pending notifications in key order, moving each delivered one aside.
// Failed deliveries stay pending with their attempt count bumped. It returns the number delivered.
func (s *Store) Drain(ctx context.Context, deliver DeliverFunc) (int, error) {
	pending, err := s.Pending()
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, n := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		sendErr := deliver(ctx, n)
		if err := s.settle(n.Key, sendErr); err != nil {
			return delivered, err
		}
		if sendErr == nil {
			delivered++
		}
	}
	return delivered, nil
}

func (s *Store) settle(key string, sendErr error) error {
	k := []byte(key)
	return s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		raw := pending.Get(k)
		if raw == nil {
			return ErrNotFound
		}
		var n Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		n.Attempts++

		if sendErr != nil {
			n.LastError = sendErr.Error()
			data, err := json.Marshal(n)
			if err != nil {
				return err
			}
			return pending.Put(k, data)
		}

		n.LastError = ""
		delivered := s.clock()
		n.DeliveredAt = &delivered
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDelivered).Put(k, data); err != nil {
			return err
		}
		return pending.Delete(k)
	})
}
