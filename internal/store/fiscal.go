package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
)

// LockFiscalCounter takes the row lock on the (documentType, series) counter, creating it at 0 first
// when absent. The lock is held until tx ends.
func LockFiscalCounter(ctx context.Context, tx *sql.Tx, documentType, series string) (*models.FiscalSeriesCounter, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO fiscal_series_counters (document_type, series, last_correlative, version, updated_at)
		VALUES ($1, $2, 0, 1, NOW())
		ON CONFLICT (document_type, series) DO NOTHING`, documentType, series)
	if err != nil {
		return nil, fmt.Errorf("ensure fiscal counter: %w", err)
	}

	c := &models.FiscalSeriesCounter{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, document_type, series, last_correlative, version, updated_at
		FROM fiscal_series_counters
		WHERE document_type = $1 AND series = $2
		FOR UPDATE`, documentType, series).Scan(
		&c.ID, &c.DocumentType, &c.Series, &c.LastCorrelative, &c.Version, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock fiscal counter: %w", err)
	}
	return c, nil
}

// AdvanceFiscalCounter persists the incremented correlative of a counter locked by LockFiscalCounter.
func AdvanceFiscalCounter(ctx context.Context, tx *sql.Tx, c *models.FiscalSeriesCounter) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `
		UPDATE fiscal_series_counters
		SET last_correlative = last_correlative + 1, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING last_correlative`, c.ID, c.Version).Scan(&next)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, database.ErrOptimisticLockFailed
		}
		return 0, fmt.Errorf("advance fiscal counter: %w", err)
	}
	c.LastCorrelative = next
	c.Version++
	return next, nil
}

func GetFiscalCounter(ctx context.Context, q database.Querier, documentType, series string) (*models.FiscalSeriesCounter, error) {
	c := &models.FiscalSeriesCounter{}
	err := q.QueryRowContext(ctx, `
		SELECT id, document_type, series, last_correlative, version, updated_at
		FROM fiscal_series_counters
		WHERE document_type = $1 AND series = $2`, documentType, series).Scan(
		&c.ID, &c.DocumentType, &c.Series, &c.LastCorrelative, &c.Version, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.NotFound("FISCAL_SERIES_NOT_FOUND", "fiscal series not found")
		}
		return nil, fmt.Errorf("get fiscal counter: %w", err)
	}
	return c, nil
}

const fiscalDocumentColumns = `id, document_type, series, correlative, full_number, order_id, refund_id,
	related_document_id, amount, currency, issued_at`

func scanFiscalDocument(row rowScanner) (*models.FiscalDocument, error) {
	d := &models.FiscalDocument{}
	var refundID, relatedID sql.NullInt64
	err := row.Scan(&d.ID, &d.DocumentType, &d.Series, &d.Correlative, &d.FullNumber, &d.OrderID,
		&refundID, &relatedID, &d.Amount, &d.Currency, &d.IssuedAt)
	d.RefundID = int64Ptr(refundID)
	d.RelatedDocumentID = int64Ptr(relatedID)
	return d, err
}

func InsertFiscalDocument(ctx context.Context, q database.Querier, d *models.FiscalDocument) error {
	created, err := scanFiscalDocument(q.QueryRowContext(ctx, `
		INSERT INTO fiscal_documents (document_type, series, correlative, full_number, order_id, refund_id,
			related_document_id, amount, currency, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+fiscalDocumentColumns,
		d.DocumentType, d.Series, d.Correlative, d.FullNumber, d.OrderID, nullInt64(d.RefundID),
		nullInt64(d.RelatedDocumentID), d.Amount, d.Currency, d.IssuedAt))
	if err != nil {
		return fmt.Errorf("create fiscal document: %w", err)
	}
	*d = *created
	return nil
}

// GetSaleDocumentByOrder returns the receipt or invoice issued when the order was paid.
func GetSaleDocumentByOrder(ctx context.Context, q database.Querier, orderID int64) (*models.FiscalDocument, error) {
	d, err := scanFiscalDocument(q.QueryRowContext(ctx, `
		SELECT `+fiscalDocumentColumns+`
		FROM fiscal_documents
		WHERE order_id = $1 AND document_type IN ($2, $3)
		ORDER BY id
		LIMIT 1`, orderID, models.DocumentTypeReceipt, models.DocumentTypeInvoice))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrFiscalDocumentNotFound.WithMessage("no sale document for order")
		}
		return nil, fmt.Errorf("get sale document: %w", err)
	}
	return d, nil
}

func ListFiscalDocumentsByOrder(ctx context.Context, q database.Querier, orderID int64) ([]models.FiscalDocument, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+fiscalDocumentColumns+` FROM fiscal_documents WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list fiscal documents: %w", err)
	}
	defer rows.Close()

	var docs []models.FiscalDocument
	for rows.Next() {
		d, err := scanFiscalDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fiscal document: %w", err)
		}
		docs = append(docs, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return docs, nil
}
