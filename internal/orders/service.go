// Package orders owns the purchase transaction and the order lifecycle: reservation, payment
// confirmation, cancellation, expiry, check-in and certificates.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/safar/go-ticket-store/internal/audit"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/eligibility"
	"github.com/safar/go-ticket-store/internal/fiscal"
)

const (
	defaultOrderTTL   = 15 * time.Minute
	defaultMaxRetries = 5
	defaultCurrency   = "PEN"
	sweepBatchLimit   = 500
)

// TicketNotifier queues the "send ticket" notification of a confirmed registration.
type TicketNotifier interface {
	EnqueueTicketNotification(ctx context.Context, registrationID int64) error
}

// Deps bundles the collaborators of the order service.
type Deps struct {
	DB          *sql.DB
	Eligibility *eligibility.Checker
	Coupons     *eligibility.CouponValidator
	Fiscal      fiscal.Issuer
	Notifier    TicketNotifier
	Audit       audit.Recorder
	Logger      *zap.Logger
	Clock       func() time.Time
	OrderTTL    time.Duration
	MaxRetries  int
	Currency    string
}

type Service struct {
	db          *sql.DB
	eligibility *eligibility.Checker
	coupons     *eligibility.CouponValidator
	fiscal      fiscal.Issuer
	notifier    TicketNotifier
	audit       *audit.Writer
	logger      *zap.Logger
	clock       func() time.Time
	orderTTL    time.Duration
	maxRetries  int
	currency    string
}

func New(deps Deps) (*Service, error) {
	if deps.DB == nil {
		return nil, errors.New("order service: database is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	ttl := deps.OrderTTL
	if ttl <= 0 {
		ttl = defaultOrderTTL
	}
	retries := deps.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	currency := deps.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	issuer := deps.Fiscal.WithDefaults()
	checker := deps.Eligibility
	coupons := deps.Coupons
	if coupons == nil {
		coupons = eligibility.NewCouponValidator(checker, clock)
	}

	return &Service{
		db:          deps.DB,
		eligibility: checker,
		coupons:     coupons,
		fiscal:      issuer,
		notifier:    deps.Notifier,
		audit:       audit.NewWriter(deps.Audit, logger),
		logger:      logger,
		clock:       clock,
		orderTTL:    ttl,
		maxRetries:  retries,
		currency:    currency,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock()
}

func (s *Service) serializable() database.TxOptions {
	return database.SerializableTxOptions(s.maxRetries)
}

func (s *Service) readCommitted() database.TxOptions {
	opts := database.DefaultTxOptions()
	opts.MaxRetries = s.maxRetries
	return opts
}

// Effects collects the side effects of one transaction attempt. They run only after commit.
type Effects struct {
	Audit   *audit.Batch
	tickets []int64
}

func NewEffects(actorID *int64, now time.Time) *Effects {
	return &Effects{Audit: audit.NewBatch(actorID, now)}
}

func (fx *Effects) NotifyTicket(registrationID int64) {
	fx.tickets = append(fx.tickets, registrationID)
}

// Dispatch runs committed side effects. Failures are logged and never returned.
func (s *Service) Dispatch(ctx context.Context, fx *Effects) {
	if fx == nil {
		return
	}
	if s.notifier != nil {
		for _, id := range fx.tickets {
			if err := s.notifier.EnqueueTicketNotification(ctx, id); err != nil {
				s.logger.Warn("ticket notification not enqueued",
					zap.Int64("registration_id", id),
					zap.Error(err))
			}
		}
	}
	s.audit.Flush(ctx, fx.Audit)
}
