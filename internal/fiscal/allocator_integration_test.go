package fiscal_test

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/fiscal"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/store"
	"github.com/safar/go-ticket-store/internal/testutil"
)

func TestNextCorrelativeConcurrentIsContiguous(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	alloc := fiscal.NewAllocator(db)

	const workers = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := alloc.NextCorrelative(ctx, models.DocumentTypeReceipt, "B001")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers = append(numbers, n)
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("allocation failed: %v", errs[0])
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, n := range numbers {
		if n != int64(i+1) {
			t.Fatalf("expected contiguous 1..%d, got %v", workers, numbers)
		}
	}

	counter, err := store.GetFiscalCounter(ctx, db, models.DocumentTypeReceipt, "B001")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if counter.LastCorrelative != workers {
		t.Errorf("expected last correlative %d, got %d", workers, counter.LastCorrelative)
	}
}

func TestNextCorrelativeRolledBackIsReused(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	rollback := errors.New("rollback")

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		n, err := fiscal.NextCorrelativeTx(ctx, tx, models.DocumentTypeInvoice, "F001")
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("expected 1 inside the transaction, got %d", n)
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("expected rollback error, got %v", err)
	}

	n, err := fiscal.NewAllocator(db).NextCorrelative(ctx, models.DocumentTypeInvoice, "F001")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if n != 1 {
		t.Errorf("rolled back number should be reused, got %d", n)
	}
}

func TestSeriesAreIndependent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	alloc := fiscal.NewAllocator(db)

	for _, series := range []string{"B001", "B001", "B002"} {
		if _, err := alloc.NextCorrelative(ctx, models.DocumentTypeReceipt, series); err != nil {
			t.Fatalf("allocate %s: %v", series, err)
		}
	}
	n, err := alloc.NextCorrelative(ctx, models.DocumentTypeCreditNote, "B001")
	if err != nil {
		t.Fatalf("allocate credit note: %v", err)
	}
	if n != 1 {
		t.Errorf("credit notes keep their own counter, got %d", n)
	}
	n, err = alloc.NextCorrelative(ctx, models.DocumentTypeReceipt, "B002")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if n != 2 {
		t.Errorf("expected B002 at 2, got %d", n)
	}
}
