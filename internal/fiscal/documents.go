package fiscal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/store"
)

var ErrFiscalDocumentNotFound = database.ErrFiscalDocumentNotFound

// Issuer issues fiscal documents inside the caller's transaction.
type Issuer struct {
	ReceiptSeries string
	InvoiceSeries string
}

const (
	DefaultReceiptSeries = "B001"
	DefaultInvoiceSeries = "F001"
)

func NewIssuer(receiptSeries, invoiceSeries string) Issuer {
	return Issuer{ReceiptSeries: receiptSeries, InvoiceSeries: invoiceSeries}.WithDefaults()
}

// WithDefaults fills unset series with DefaultReceiptSeries and DefaultInvoiceSeries.
func (is Issuer) WithDefaults() Issuer {
	if is.ReceiptSeries == "" {
		is.ReceiptSeries = DefaultReceiptSeries
	}
	if is.InvoiceSeries == "" {
		is.InvoiceSeries = DefaultInvoiceSeries
	}
	return is
}

// SaleDocumentType picks INVOICE for buyers who gave a tax id and RECEIPT otherwise.
func (is Issuer) SaleDocumentType(order *models.Order) (docType, series string) {
	if order.BuyerTaxID != "" {
		return models.DocumentTypeInvoice, is.InvoiceSeries
	}
	return models.DocumentTypeReceipt, is.ReceiptSeries
}

// IssueSaleDocument issues the receipt or invoice of a paid order. An order that already has one
// gets it back unchanged; free orders get none and the result is nil.
func (is Issuer) IssueSaleDocument(ctx context.Context, tx *sql.Tx, order *models.Order, now time.Time) (*models.FiscalDocument, error) {
	if !order.TotalAmount.IsPositive() {
		return nil, nil
	}

	existing, err := store.GetSaleDocumentByOrder(ctx, tx, order.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrFiscalDocumentNotFound) {
		return nil, err
	}

	docType, series := is.SaleDocumentType(order)
	correlative, err := NextCorrelativeTx(ctx, tx, docType, series)
	if err != nil {
		return nil, err
	}

	doc := &models.FiscalDocument{
		DocumentType: docType,
		Series:       series,
		Correlative:  correlative,
		FullNumber:   FormatNumber(series, correlative),
		OrderID:      order.ID,
		Amount:       order.TotalAmount,
		Currency:     order.Currency,
		IssuedAt:     now,
	}
	if err := store.InsertFiscalDocument(ctx, tx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// IssueCreditNote issues a credit note for amount against the order's sale document.
func (is Issuer) IssueCreditNote(ctx context.Context, tx *sql.Tx, orderID, refundID int64, amount decimal.Decimal, currency string, now time.Time) (*models.FiscalDocument, error) {
	if !amount.IsPositive() {
		return nil, database.ErrInvalidInput.WithMessage("credit note amount must be positive")
	}

	originalSeries := is.ReceiptSeries
	var relatedID *int64
	sale, err := store.GetSaleDocumentByOrder(ctx, tx, orderID)
	switch {
	case err == nil:
		originalSeries = sale.Series
		relatedID = &sale.ID
		currency = sale.Currency
	case errors.Is(err, ErrFiscalDocumentNotFound):
	default:
		return nil, err
	}

	series := CreditNoteSeries(originalSeries)
	correlative, err := NextCorrelativeTx(ctx, tx, models.DocumentTypeCreditNote, series)
	if err != nil {
		return nil, err
	}

	doc := &models.FiscalDocument{
		DocumentType:      models.DocumentTypeCreditNote,
		Series:            series,
		Correlative:       correlative,
		FullNumber:        FormatNumber(series, correlative),
		OrderID:           orderID,
		RefundID:          &refundID,
		RelatedDocumentID: relatedID,
		Amount:            amount.Round(2),
		Currency:          currency,
		IssuedAt:          now,
	}
	if err := store.InsertFiscalDocument(ctx, tx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
