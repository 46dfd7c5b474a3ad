// Package payments handles manual payment reporting and review, and the chargeback state machine.
package payments

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safar/go-ticket-store/internal/audit"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/orders"
	"github.com/safar/go-ticket-store/internal/store"
)

const (
	defaultRejectionReason  = "payment evidence could not be verified"
	defaultChargebackWindow = 30 * 24 * time.Hour
)

type Deps struct {
	DB         *sql.DB
	Orders     *orders.Service
	Logger     *zap.Logger
	Clock      func() time.Time
	MaxRetries int
	// ChargebackWindow is how long an initiated chargeback may stay open before the sweep confirms it.
	ChargebackWindow time.Duration
}

type Service struct {
	db         *sql.DB
	orders     *orders.Service
	logger     *zap.Logger
	clock      func() time.Time
	maxRetries int

	chargebackWindow time.Duration

	// cascadeStep is called after each chargeback confirmation sub-step; an error aborts the cascade.
	cascadeStep func(step string) error
}

func New(deps Deps) (*Service, error) {
	if deps.DB == nil {
		return nil, errors.New("payment service: database is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
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
	window := deps.ChargebackWindow
	if window <= 0 {
		window = defaultChargebackWindow
	}
	return &Service{
		db:               deps.DB,
		orders:           deps.Orders,
		logger:           logger,
		clock:            clock,
		maxRetries:       retries,
		chargebackWindow: window,
		cascadeStep:      func(string) error { return nil },
	}, nil
}

func (s *Service) txOptions() database.TxOptions {
	opts := database.DefaultTxOptions()
	opts.MaxRetries = s.maxRetries
	return opts
}

func (s *Service) Get(ctx context.Context, paymentID int64) (*models.PaymentRecord, error) {
	return store.GetPayment(ctx, s.db, paymentID)
}

type Report struct {
	Provider      string
	OperationCode string
	EvidenceURL   string
}

// ReportPayment records the payer's evidence and queues the payment for review.
func (s *Service) ReportPayment(ctx context.Context, paymentID, payerID int64, report Report) (*models.PaymentRecord, error) {
	report.Provider = strings.TrimSpace(report.Provider)
	report.OperationCode = strings.TrimSpace(report.OperationCode)
	if report.Provider == "" || report.OperationCode == "" {
		return nil, database.ErrInvalidInput.WithMessage("provider and operation code are required")
	}

	var (
		payment *models.PaymentRecord
		fx      *orders.Effects
	)
	err := database.WithRetry(ctx, s.db, s.txOptions(), func(tx *sql.Tx) error {
		now := s.clock()
		fx = orders.NewEffects(&payerID, now)

		p, err := store.GetPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.UserID != payerID {
			return database.ErrForbidden.WithMessage("only the paying party may report this payment")
		}
		switch p.Status {
		case models.PaymentStatusPending, models.PaymentStatusRejected, models.PaymentStatusWaitingApproval:
		default:
			return database.ErrInvalidState.WithMessage("payment is %s and cannot be reported", p.Status)
		}

		order, err := store.GetOrder(ctx, tx, p.OrderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return database.ErrInvalidState.WithMessage("order %s is %s", order.OrderNumber, order.Status)
		}

		previous := p.Status
		p.Status = models.PaymentStatusWaitingApproval
		p.Provider = report.Provider
		p.OperationCode = report.OperationCode
		p.EvidenceURL = strings.TrimSpace(report.EvidenceURL)
		p.ReportedAt = &now
		p.RejectionReason = ""
		if err := store.SavePayment(ctx, tx, p, previous); err != nil {
			return err
		}
		fx.Audit.Add(audit.EntityPayment, p.ID, "payment.reported",
			map[string]any{"status": previous},
			map[string]any{"status": p.Status, "provider": p.Provider, "operation_code": p.OperationCode}, "")

		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.orders.Dispatch(ctx, fx)
	return payment, nil
}

// ReviewPayment approves or rejects a reported payment. Approval confirms the order in the same
// transaction; an order that can no longer be paid makes the approval fail as a whole.
func (s *Service) ReviewPayment(ctx context.Context, paymentID, reviewerID int64, approve bool, rejectionReason string) (*models.PaymentRecord, error) {
	var (
		payment *models.PaymentRecord
		fx      *orders.Effects
	)
	err := database.WithRetry(ctx, s.db, s.txOptions(), func(tx *sql.Tx) error {
		now := s.clock()
		fx = orders.NewEffects(&reviewerID, now)

		if err := store.RequireStaff(ctx, tx, reviewerID, "review payments"); err != nil {
			return err
		}

		// Order row first, payment second: the same order MarkPaid takes them in.
		current, err := store.GetPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if _, err := store.GetOrderForUpdate(ctx, tx, current.OrderID); err != nil {
			return err
		}
		p, err := store.GetPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusWaitingApproval {
			return database.ErrInvalidState.WithMessage("payment is %s, not WAITING_APPROVAL", p.Status)
		}

		p.ReviewedBy = &reviewerID
		p.ReviewedAt = &now
		if approve {
			p.Status = models.PaymentStatusCompleted
		} else {
			p.Status = models.PaymentStatusRejected
			p.RejectionReason = strings.TrimSpace(rejectionReason)
			if p.RejectionReason == "" {
				p.RejectionReason = defaultRejectionReason
			}
		}
		if err := store.SavePayment(ctx, tx, p, models.PaymentStatusWaitingApproval); err != nil {
			return err
		}
		fx.Audit.Status(audit.EntityPayment, p.ID, "payment.reviewed", models.PaymentStatusWaitingApproval, p.Status, p.RejectionReason)

		if approve {
			if _, err := s.orders.MarkPaidTx(ctx, tx, p.OrderID, p.OperationCode, now, fx); err != nil {
				return err
			}
		}

		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.orders.Dispatch(ctx, fx)
	s.logger.Info("payment reviewed",
		zap.Int64("payment_id", payment.ID),
		zap.String("status", payment.Status),
		zap.Int64("reviewer_id", reviewerID))
	return payment, nil
}
