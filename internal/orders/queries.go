package orders

import (
	"context"
	"errors"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/store"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type OrderDetail struct {
	*models.Order
	Payment   *models.PaymentRecord   `json:"payment,omitempty"`
	Documents []models.FiscalDocument `json:"documents,omitempty"`
}

// GetOrder returns the order with its registrations, payment record and fiscal documents.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*OrderDetail, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	detail := &OrderDetail{Order: order}
	payment, err := store.GetPaymentByOrder(ctx, s.db, orderID)
	switch {
	case err == nil:
		detail.Payment = payment
	case !errors.Is(err, database.ErrPaymentNotFound):
		return nil, err
	}

	detail.Documents, err = store.ListFiscalDocumentsByOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// ListOrders pages through a buyer's orders newest first.
func (s *Service) ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return store.ListOrdersCursor(ctx, s.db, userID, cursor, limit)
}
