// Package fiscal allocates gap-free correlatives per (document type, series) and issues the
// sale documents and credit notes that consume them.
package fiscal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/store"
)

const defaultMaxRetries = 5

type Allocator struct {
	db         *sql.DB
	maxRetries int
}

func NewAllocator(db *sql.DB) *Allocator {
	return &Allocator{db: db, maxRetries: defaultMaxRetries}
}

// NextCorrelative allocates the next number of the series in its own transaction.
// The counter row lock is held only for the increment.
func (a *Allocator) NextCorrelative(ctx context.Context, documentType, series string) (int64, error) {
	if err := validateSeriesKey(documentType, series); err != nil {
		return 0, err
	}

	var next int64
	opts := database.DefaultTxOptions()
	opts.MaxRetries = a.maxRetries
	err := database.WithRetry(ctx, a.db, opts, func(tx *sql.Tx) error {
		n, err := NextCorrelativeTx(ctx, tx, documentType, series)
		if err != nil {
			return err
		}
		next = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// NextCorrelativeTx allocates inside the caller's transaction. The number is only consumed if tx commits.
func NextCorrelativeTx(ctx context.Context, tx *sql.Tx, documentType, series string) (int64, error) {
	if err := validateSeriesKey(documentType, series); err != nil {
		return 0, err
	}
	counter, err := store.LockFiscalCounter(ctx, tx, documentType, series)
	if err != nil {
		return 0, err
	}
	return store.AdvanceFiscalCounter(ctx, tx, counter)
}

func validateSeriesKey(documentType, series string) error {
	if strings.TrimSpace(documentType) == "" || strings.TrimSpace(series) == "" {
		return database.ErrInvalidInput.WithMessage("document type and series are required")
	}
	return nil
}

// FormatNumber renders the printed document number, e.g. B001-00000042.
func FormatNumber(series string, correlative int64) string {
	return fmt.Sprintf("%s-%08d", series, correlative)
}

// CreditNoteSeries derives the credit note series from the series of the document it corrects:
// the first character, then "C", then the rest from the third character on (B001 -> BC01).
func CreditNoteSeries(original string) string {
	r := []rune(original)
	switch {
	case len(r) == 0:
		return "C"
	case len(r) < 3:
		return string(r[0]) + "C"
	default:
		return string(r[0]) + "C" + string(r[2:])
	}
}
