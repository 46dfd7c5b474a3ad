package orders

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/store"
)

type Availability struct {
	TicketTypeID int64 `json:"ticket_type_id"`
	Stock        int   `json:"stock"`
	Reserved     int   `json:"reserved"`
	Available    int   `json:"available"`
}

// Availability reports the seats of a ticket type still free, counting every non-terminal registration as held.
func (s *Service) Availability(ctx context.Context, ticketTypeID int64) (*Availability, error) {
	tt, err := store.GetTicketType(ctx, s.db, ticketTypeID)
	if err != nil {
		return nil, err
	}
	reserved, err := store.CountReserved(ctx, s.db, ticketTypeID)
	if err != nil {
		return nil, err
	}
	return &Availability{
		TicketTypeID: tt.ID,
		Stock:        tt.Stock,
		Reserved:     reserved,
		Available:    max(tt.Stock-reserved, 0),
	}, nil
}

// UpdateTicketStock changes capacity if version still matches the stored ticket type.
// It runs serializably so it cannot interleave with a reservation reading the old stock, and takes
// the row lock NOWAIT so an edit backs off instead of queueing behind checkouts.
func (s *Service) UpdateTicketStock(ctx context.Context, ticketTypeID int64, stock, version int, actorID int64) (*Availability, error) {
	if stock < 0 {
		return nil, database.ErrInvalidInput.WithMessage("stock must not be negative")
	}

	err := database.WithRetry(ctx, s.db, s.serializable(), func(tx *sql.Tx) error {
		if err := store.RequireStaff(ctx, tx, actorID, "edit ticket stock"); err != nil {
			return err
		}
		if _, err := store.LockTicketTypeNoWait(ctx, tx, ticketTypeID); err != nil {
			return err
		}
		return store.UpdateTicketStockOptimistic(ctx, tx, ticketTypeID, stock, version)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket stock updated",
		zap.Int64("ticket_type_id", ticketTypeID),
		zap.Int("stock", stock),
		zap.Int64("actor_id", actorID))
	return s.Availability(ctx, ticketTypeID)
}

// ListTicketTypes pages through the ticket types of an event, newest first.
func (s *Service) ListTicketTypes(ctx context.Context, eventID int64, page, pageSize int) (*store.OffsetPage, error) {
	if _, err := store.GetEvent(ctx, s.db, eventID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageLimit {
		pageSize = defaultPageLimit
	}
	return store.ListTicketTypes(ctx, s.db, eventID, page, pageSize)
}

// SweepCoupons deactivates coupons whose validity window has closed.
func (s *Service) SweepCoupons(ctx context.Context) (int64, error) {
	n, err := store.DeactivateExpiredCoupons(ctx, s.db, s.now())
	if err != nil {
		s.logger.Error("coupon sweep failed", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		s.logger.Info("deactivated expired coupons", zap.Int64("count", n))
	}
	return n, nil
}
