package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/safar/go-ticket-store/internal/audit"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/store"
)

// MarkPaid confirms the order and its PENDING registrations on behalf of a staff member
// recording an external payment. Calling it on a PAID order returns the order unchanged.
func (s *Service) MarkPaid(ctx context.Context, orderID, actorID int64, paymentReference string) (*models.Order, error) {
	var (
		order *models.Order
		fx    *Effects
	)
	err := database.WithRetry(ctx, s.db, s.readCommitted(), func(tx *sql.Tx) error {
		now := s.now()
		fx = NewEffects(&actorID, now)

		if err := store.RequireStaff(ctx, tx, actorID, "confirm payments"); err != nil {
			return err
		}
		var err error
		order, err = s.MarkPaidTx(ctx, tx, orderID, paymentReference, now, fx)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Dispatch(ctx, fx)
	return order, nil
}

// MarkPaidTx is the payment confirmation path shared by MarkPaid, free orders and approved
// payments. It locks the order row; the caller's transaction decides whether it sticks.
func (s *Service) MarkPaidTx(ctx context.Context, tx *sql.Tx, orderID int64, paymentReference string, now time.Time, fx *Effects) (*models.Order, error) {
	order, err := store.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusPaid {
		return order, nil
	}
	if order.Status != models.OrderStatusPending {
		return nil, database.ErrInvalidState.WithMessage("order %s is %s and cannot be paid", order.OrderNumber, order.Status)
	}

	if err := store.TransitionOrder(ctx, tx, order.ID, models.OrderStatusPaid, now, paymentReference); err != nil {
		return nil, err
	}
	fx.Audit.Status(audit.EntityOrder, order.ID, "order.paid", models.OrderStatusPending, models.OrderStatusPaid, "")

	confirmed, err := store.TransitionOrderRegistrations(ctx, tx, order.ID,
		models.RegistrationStatusPending, models.RegistrationStatusConfirmed, now)
	if err != nil {
		return nil, err
	}
	for _, id := range confirmed {
		fx.NotifyTicket(id)
		fx.Audit.Status(audit.EntityRegistration, id, "registration.confirmed",
			models.RegistrationStatusPending, models.RegistrationStatusConfirmed, "")
	}

	if err := s.completePayment(ctx, tx, order.ID, paymentReference, now, fx); err != nil {
		return nil, err
	}

	order.Status = models.OrderStatusPaid
	order.PaidAt = &now
	if paymentReference != "" {
		order.PaymentReference = paymentReference
	}

	if _, err := s.fiscal.IssueSaleDocument(ctx, tx, order, now); err != nil {
		return nil, err
	}
	return order, nil
}

// completePayment settles the open payment record of a freshly paid order.
func (s *Service) completePayment(ctx context.Context, tx *sql.Tx, orderID int64, reference string, now time.Time, fx *Effects) error {
	p, err := store.GetPaymentByOrder(ctx, tx, orderID)
	if errors.Is(err, database.ErrPaymentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status != models.PaymentStatusPending && p.Status != models.PaymentStatusWaitingApproval {
		return nil
	}

	previous := p.Status
	p.Status = models.PaymentStatusCompleted
	if p.OperationCode == "" {
		p.OperationCode = reference
	}
	if p.ReviewedAt == nil {
		p.ReviewedAt = &now
	}
	if err := store.SavePayment(ctx, tx, p, previous); err != nil {
		return err
	}
	fx.Audit.Status(audit.EntityPayment, p.ID, "payment.completed", previous, p.Status, "")
	return nil
}

// Cancel closes a PENDING order and releases its seats. Only the buyer or staff may cancel.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64) (*models.Order, error) {
	return s.close(ctx, orderID, &actorID, models.OrderStatusCancelled, models.RegistrationStatusCancelled, false)
}

// Expire closes a PENDING order whose deadline has passed and releases its seats.
func (s *Service) Expire(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.close(ctx, orderID, nil, models.OrderStatusExpired, models.RegistrationStatusExpired, true)
}

func (s *Service) close(ctx context.Context, orderID int64, actorID *int64, orderStatus, registrationStatus string, requireDeadline bool) (*models.Order, error) {
	var (
		order *models.Order
		fx    *Effects
	)
	err := database.WithRetry(ctx, s.db, s.readCommitted(), func(tx *sql.Tx) error {
		now := s.now()
		fx = NewEffects(actorID, now)

		locked, err := store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if actorID != nil && locked.UserID != *actorID {
			if err := store.RequireStaff(ctx, tx, *actorID, "cancel another buyer's order"); err != nil {
				return err
			}
		}
		if locked.Status != models.OrderStatusPending {
			return database.ErrInvalidState.WithMessage("order %s is %s, not PENDING", locked.OrderNumber, locked.Status)
		}
		if requireDeadline && now.Before(locked.ExpiresAt) {
			return database.ErrInvalidState.WithMessage("order %s does not expire until %s", locked.OrderNumber, locked.ExpiresAt.Format(time.RFC3339))
		}

		order, err = s.closeTx(ctx, tx, locked, orderStatus, registrationStatus, now, fx)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Dispatch(ctx, fx)
	return order, nil
}

// closeTx moves a locked PENDING order and its PENDING registrations to their terminal statuses.
func (s *Service) closeTx(ctx context.Context, tx *sql.Tx, order *models.Order, orderStatus, registrationStatus string, now time.Time, fx *Effects) (*models.Order, error) {
	if err := store.TransitionOrder(ctx, tx, order.ID, orderStatus, now, ""); err != nil {
		return nil, err
	}
	fx.Audit.Status(audit.EntityOrder, order.ID, "order."+actionSuffix(orderStatus), models.OrderStatusPending, orderStatus, "")

	released, err := store.TransitionOrderRegistrations(ctx, tx, order.ID, models.RegistrationStatusPending, registrationStatus, now)
	if err != nil {
		return nil, err
	}
	for _, id := range released {
		fx.Audit.Status(audit.EntityRegistration, id, "registration."+actionSuffix(registrationStatus),
			models.RegistrationStatusPending, registrationStatus, "")
	}

	order.Status = orderStatus
	switch orderStatus {
	case models.OrderStatusCancelled:
		order.CancelledAt = &now
	case models.OrderStatusExpired:
		order.ExpiredAt = &now
	}
	return order, nil
}

func actionSuffix(status string) string {
	switch status {
	case models.OrderStatusCancelled:
		return "cancelled"
	case models.OrderStatusExpired:
		return "expired"
	default:
		return "updated"
	}
}

// SweepExpired expires overdue PENDING orders one transaction at a time. Rows locked by a
// concurrent sweep or payment are skipped; a run with nothing overdue is a no-op.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired := 0
	for expired < sweepBatchLimit {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		var (
			done bool
			fx   *Effects
		)
		err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			now := s.now()
			fx = NewEffects(nil, now)

			order, err := store.LockNextExpiredOrder(ctx, tx, now)
			if errors.Is(err, database.ErrOrderNotFound) {
				done = true
				return nil
			}
			if err != nil {
				return err
			}
			_, err = s.closeTx(ctx, tx, order, models.OrderStatusExpired, models.RegistrationStatusExpired, now, fx)
			return err
		})
		if err != nil {
			s.logger.Error("expire sweep aborted", zap.Int("expired", expired), zap.Error(err))
			return expired, err
		}
		if done {
			break
		}

		s.Dispatch(ctx, fx)
		expired++
	}

	if expired > 0 {
		s.logger.Info("expired overdue orders", zap.Int("count", expired))
	}
	return expired, nil
}
