package refunds

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/go-ticket-store/internal/audit"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/fiscal"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/orders"
	"github.com/safar/go-ticket-store/internal/store"
)

const zeroTierReason = "no refund applies this close to the event"

var hundred = decimal.NewFromInt(100)

type Deps struct {
	DB         *sql.DB
	Orders     *orders.Service
	Fiscal     fiscal.Issuer
	Logger     *zap.Logger
	Clock      func() time.Time
	MaxRetries int
}

type Service struct {
	db         *sql.DB
	orders     *orders.Service
	fiscal     fiscal.Issuer
	logger     *zap.Logger
	clock      func() time.Time
	maxRetries int

	// processStep is called after each refund side effect; an error leaves the refund PROCESSING.
	processStep func(step string) error
}

func New(deps Deps) (*Service, error) {
	if deps.DB == nil {
		return nil, errors.New("refund service: database is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("refund service: order service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	retries := deps.MaxRetries
	if retries <= 0 {
		retries = 5
	}
	return &Service{
		db:          deps.DB,
		orders:      deps.Orders,
		fiscal:      deps.Fiscal.WithDefaults(),
		logger:      logger,
		clock:       clock,
		maxRetries:  retries,
		processStep: func(string) error { return nil },
	}, nil
}

func (s *Service) txOptions() database.TxOptions {
	opts := database.DefaultTxOptions()
	opts.MaxRetries = s.maxRetries
	return opts
}

func (s *Service) Get(ctx context.Context, refundID int64) (*models.RefundRequest, error) {
	return store.GetRefund(ctx, s.db, refundID)
}

// ListRefundPolicy returns the tiers that currently apply to the event.
func (s *Service) ListRefundPolicy(ctx context.Context, eventID int64) (Policy, error) {
	if _, err := store.GetEvent(ctx, s.db, eventID); err != nil {
		return Policy{}, err
	}
	return LoadPolicy(ctx, s.db, eventID)
}

// RequestRefund opens a refund for the owner of a confirmed, paid registration. The percentage comes
// from the event's policy; a 0% outcome is stored already REJECTED.
func (s *Service) RequestRefund(ctx context.Context, registrationID, requesterID int64, reason, details string) (*models.RefundRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, database.ErrInvalidInput.WithMessage("refund reason is required")
	}

	var (
		refund *models.RefundRequest
		fx     *orders.Effects
	)
	err := database.WithRetry(ctx, s.db, s.txOptions(), func(tx *sql.Tx) error {
		now := s.clock()
		fx = orders.NewEffects(&requesterID, now)

		reg, err := store.GetRegistrationForUpdate(ctx, tx, registrationID)
		if err != nil {
			return err
		}
		order, err := store.GetOrder(ctx, tx, reg.OrderID)
		if err != nil {
			return err
		}
		if order.UserID != requesterID {
			return database.ErrForbidden.WithMessage("only the registration owner may request a refund")
		}
		if reg.AttendedAt != nil || reg.Status == models.RegistrationStatusAttended {
			return database.ErrInvalidState.WithMessage("attendee already checked in")
		}
		if reg.Status != models.RegistrationStatusConfirmed {
			return database.ErrInvalidState.WithMessage("registration is %s, not CONFIRMED", reg.Status)
		}

		ev, err := store.GetEvent(ctx, tx, reg.EventID)
		if err != nil {
			return err
		}
		if ev.Ended(now) {
			return database.ErrInvalidState.WithMessage("event has already ended")
		}

		payment, err := store.GetPaymentByOrder(ctx, tx, reg.OrderID)
		if errors.Is(err, database.ErrPaymentNotFound) {
			return database.ErrInvalidState.WithMessage("registration has no completed payment")
		}
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusCompleted || payment.ChargebackAt != nil {
			return database.ErrInvalidState.WithMessage("payment is %s and cannot be refunded", payment.Status)
		}

		open, err := store.HasOpenRefund(ctx, tx, reg.ID)
		if err != nil {
			return err
		}
		if open {
			return store.ErrRefundAlreadyOpen
		}

		policy, err := LoadPolicy(ctx, tx, ev.ID)
		if err != nil {
			return err
		}
		percentage := policy.Percentage(DaysUntil(ev.StartsAt, now))

		r := &models.RefundRequest{
			RegistrationID:   reg.ID,
			PaymentID:        payment.ID,
			RequestedBy:      requesterID,
			Status:           models.RefundStatusRequested,
			Reason:           reason,
			Details:          strings.TrimSpace(details),
			OriginalAmount:   reg.FinalPrice,
			RefundPercentage: percentage,
			RefundAmount:     RefundAmount(reg.FinalPrice, percentage),
			CreatedAt:        now,
		}
		if percentage.IsZero() {
			r.Status = models.RefundStatusRejected
			r.ReviewNotes = zeroTierReason
			r.RejectedAt = &now
		}
		if err := store.InsertRefund(ctx, tx, r); err != nil {
			return err
		}
		fx.Audit.Add(audit.EntityRefund, r.ID, "refund.requested", nil, map[string]any{
			"status":            r.Status,
			"refund_percentage": r.RefundPercentage.String(),
			"refund_amount":     r.RefundAmount.StringFixed(2),
			"policy_source":     policy.Source,
		}, reason)

		refund = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.orders.Dispatch(ctx, fx)
	return refund, nil
}

// ReviewRefund approves (optionally with a different percentage) or rejects a REQUESTED refund.
func (s *Service) ReviewRefund(ctx context.Context, refundID, reviewerID int64, approve bool, notes string, overridePercentage *decimal.Decimal) (*models.RefundRequest, error) {
	notes = strings.TrimSpace(notes)
	if !approve && notes == "" {
		return nil, database.ErrInvalidInput.WithMessage("a rejection needs a reason")
	}
	if overridePercentage != nil && (!overridePercentage.IsPositive() || overridePercentage.GreaterThan(hundred)) {
		return nil, database.ErrInvalidInput.WithMessage("refund percentage must be within (0, 100]")
	}

	var (
		refund *models.RefundRequest
		fx     *orders.Effects
	)
	err := database.WithRetry(ctx, s.db, s.txOptions(), func(tx *sql.Tx) error {
		now := s.clock()
		fx = orders.NewEffects(&reviewerID, now)

		if err := store.RequireStaff(ctx, tx, reviewerID, "review refunds"); err != nil {
			return err
		}
		r, err := store.GetRefundForUpdate(ctx, tx, refundID)
		if err != nil {
			return err
		}
		if r.Status != models.RefundStatusRequested {
			return database.ErrInvalidState.WithMessage("refund is %s, not REQUESTED", r.Status)
		}

		r.ReviewedBy = &reviewerID
		r.ReviewedAt = &now
		r.ReviewNotes = notes
		if approve {
			r.Status = models.RefundStatusApproved
			if overridePercentage != nil {
				r.RefundPercentage = *overridePercentage
				r.RefundAmount = RefundAmount(r.OriginalAmount, *overridePercentage)
			}
		} else {
			r.Status = models.RefundStatusRejected
			r.RejectedAt = &now
		}
		if err := store.SaveRefund(ctx, tx, r, models.RefundStatusRequested); err != nil {
			return err
		}
		fx.Audit.Add(audit.EntityRefund, r.ID, "refund.reviewed",
			map[string]any{"status": models.RefundStatusRequested},
			map[string]any{"status": r.Status, "refund_percentage": r.RefundPercentage.String()}, notes)

		refund = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.orders.Dispatch(ctx, fx)
	return refund, nil
}

// ProcessRefund moves an APPROVED refund to PROCESSING, then applies its side effects and completes
// it in a second transaction. If that fails the refund stays PROCESSING and a later call resumes it.
func (s *Service) ProcessRefund(ctx context.Context, refundID, processorID int64) (*models.RefundRequest, error) {
	var fx *orders.Effects
	err := database.WithRetry(ctx, s.db, s.txOptions(), func(tx *sql.Tx) error {
		now := s.clock()
		fx = orders.NewEffects(&processorID, now)

		if err := store.RequireStaff(ctx, tx, processorID, "process refunds"); err != nil {
			return err
		}
		r, err := store.GetRefundForUpdate(ctx, tx, refundID)
		if err != nil {
			return err
		}
		switch r.Status {
		case models.RefundStatusProcessing:
			return nil
		case models.RefundStatusApproved:
		default:
			return database.ErrInvalidState.WithMessage("refund is %s, not APPROVED", r.Status)
		}

		r.Status = models.RefundStatusProcessing
		r.ProcessedBy = &processorID
		r.ProcessingAt = &now
		if err := store.SaveRefund(ctx, tx, r, models.RefundStatusApproved); err != nil {
			return err
		}
		fx.Audit.Status(audit.EntityRefund, r.ID, "refund.processing", models.RefundStatusApproved, r.Status, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.orders.Dispatch(ctx, fx)

	var refund *models.RefundRequest
	err = database.WithRetry(ctx, s.db, s.txOptions(), func(tx *sql.Tx) error {
		now := s.clock()
		fx = orders.NewEffects(&processorID, now)
		var err error
		refund, err = s.completeTx(ctx, tx, refundID, now, fx)
		return err
	})
	if err != nil {
		s.logger.Error("refund left in PROCESSING",
			zap.Int64("refund_id", refundID),
			zap.Error(err))
		return nil, err
	}

	s.orders.Dispatch(ctx, fx)
	s.logger.Info("refund completed",
		zap.Int64("refund_id", refund.ID),
		zap.String("amount", refund.RefundAmount.StringFixed(2)))
	return refund, nil
}

func (s *Service) completeTx(ctx context.Context, tx *sql.Tx, refundID int64, now time.Time, fx *orders.Effects) (*models.RefundRequest, error) {
	r, err := store.GetRefundForUpdate(ctx, tx, refundID)
	if err != nil {
		return nil, err
	}
	if r.Status == models.RefundStatusCompleted {
		return r, nil
	}
	if r.Status != models.RefundStatusProcessing {
		return nil, database.ErrInvalidState.WithMessage("refund is %s, not PROCESSING", r.Status)
	}

	p, err := store.GetPaymentForUpdate(ctx, tx, r.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusCompleted {
		return nil, database.ErrInvalidState.WithMessage("payment is %s and cannot be refunded", p.Status)
	}
	previous := p.Status
	// REFUNDED only once the seats refunded so far cover the whole payment.
	p.RefundedAmount = p.RefundedAmount.Add(r.RefundAmount)
	if p.RefundedAmount.GreaterThanOrEqual(p.Amount) {
		p.Status = models.PaymentStatusRefunded
	}
	if err := store.SavePayment(ctx, tx, p, previous); err != nil {
		return nil, err
	}
	fx.Audit.Add(audit.EntityPayment, p.ID, "payment.refunded",
		map[string]any{"status": previous},
		map[string]any{"status": p.Status, "refunded_amount": p.RefundedAmount.StringFixed(2)}, "")
	if err := s.processStep("payment"); err != nil {
		return nil, err
	}

	if err := store.TransitionRegistration(ctx, tx, r.RegistrationID,
		[]string{models.RegistrationStatusConfirmed}, models.RegistrationStatusCancelled, now); err != nil {
		return nil, err
	}
	fx.Audit.Status(audit.EntityRegistration, r.RegistrationID, "registration.cancelled",
		models.RegistrationStatusConfirmed, models.RegistrationStatusCancelled, "refund")
	if err := s.processStep("registration"); err != nil {
		return nil, err
	}

	if r.RefundAmount.IsPositive() {
		note, err := s.fiscal.IssueCreditNote(ctx, tx, p.OrderID, r.ID, r.RefundAmount, p.Currency, now)
		if err != nil {
			return nil, err
		}
		r.CreditNoteID = &note.ID
		if err := s.processStep("credit_note"); err != nil {
			return nil, err
		}
	}

	r.Status = models.RefundStatusCompleted
	r.CompletedAt = &now
	if err := store.SaveRefund(ctx, tx, r, models.RefundStatusProcessing); err != nil {
		return nil, err
	}
	fx.Audit.Status(audit.EntityRefund, r.ID, "refund.completed", models.RefundStatusProcessing, r.Status, "")
	return r, nil
}
