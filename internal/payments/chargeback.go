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

type ChargebackAction string

const (
	ChargebackInitiate ChargebackAction = "INITIATE"
	ChargebackConfirm  ChargebackAction = "CONFIRM"
	ChargebackReverse  ChargebackAction = "REVERSE"
)

const (
	revocationReason = "chargeback confirmed"
	lapsedReason     = "chargeback response window elapsed"
	sweepBatchLimit  = 200
)

func ParseChargebackAction(s string) (ChargebackAction, error) {
	switch a := ChargebackAction(strings.ToUpper(strings.TrimSpace(s))); a {
	case ChargebackInitiate, ChargebackConfirm, ChargebackReverse:
		return a, nil
	}
	return "", database.ErrInvalidInput.WithMessage("unknown chargeback action %q", s)
}

type ChargebackRequest struct {
	Action  ChargebackAction
	Reason  string
	CaseID  string
	ActorID int64
}

// ProcessChargeback applies one chargeback action in its own transaction, re-checking the payment's
// state under its row lock.
func (s *Service) ProcessChargeback(ctx context.Context, paymentID int64, req ChargebackRequest) (*models.PaymentRecord, error) {
	if _, err := ParseChargebackAction(string(req.Action)); err != nil {
		return nil, err
	}

	var (
		payment *models.PaymentRecord
		fx      *orders.Effects
	)
	err := database.WithRetry(ctx, s.db, s.txOptions(), func(tx *sql.Tx) error {
		now := s.clock()
		fx = orders.NewEffects(&req.ActorID, now)

		if err := store.RequireStaff(ctx, tx, req.ActorID, "process chargebacks"); err != nil {
			return err
		}
		p, err := store.GetPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}

		switch req.Action {
		case ChargebackInitiate:
			err = s.initiate(ctx, tx, p, req, now, fx)
		case ChargebackConfirm:
			err = s.confirm(ctx, tx, p, req.Reason, &req.ActorID, now, fx)
		case ChargebackReverse:
			err = s.reverse(ctx, tx, p, now, fx)
		}
		if err != nil {
			return err
		}

		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.orders.Dispatch(ctx, fx)
	s.logger.Info("chargeback processed",
		zap.Int64("payment_id", payment.ID),
		zap.String("action", string(req.Action)),
		zap.String("status", payment.Status),
		zap.Int64("actor_id", req.ActorID))
	return payment, nil
}

// initiate disputes the CONFIRMED registrations the payment covers. Attendees already checked in
// keep their ATTENDED status; a confirmed chargeback still cancels them.
func (s *Service) initiate(ctx context.Context, tx *sql.Tx, p *models.PaymentRecord, req ChargebackRequest, now time.Time, fx *orders.Effects) error {
	if p.Status != models.PaymentStatusCompleted {
		return database.ErrInvalidState.WithMessage("chargebacks need a COMPLETED payment, this one is %s", p.Status)
	}
	if p.ChargebackAt != nil {
		return database.ErrInvalidState.WithMessage("chargeback already initiated")
	}

	p.ChargebackAt = &now
	p.ChargebackReason = strings.TrimSpace(req.Reason)
	p.ChargebackCaseID = strings.TrimSpace(req.CaseID)
	if err := store.SavePayment(ctx, tx, p, models.PaymentStatusCompleted); err != nil {
		return err
	}
	fx.Audit.Add(audit.EntityPayment, p.ID, "payment.chargeback_initiated", nil, map[string]any{
		"chargeback_reason":  p.ChargebackReason,
		"chargeback_case_id": p.ChargebackCaseID,
	}, p.ChargebackReason)

	regs, err := s.disputeTargets(ctx, tx, p, []string{models.RegistrationStatusConfirmed})
	if err != nil {
		return err
	}
	for _, r := range regs {
		if err := store.TransitionRegistration(ctx, tx, r.ID, []string{models.RegistrationStatusConfirmed},
			models.RegistrationStatusInDispute, now); err != nil {
			return err
		}
		fx.Audit.Status(audit.EntityRegistration, r.ID, "registration.in_dispute",
			models.RegistrationStatusConfirmed, models.RegistrationStatusInDispute, p.ChargebackReason)
	}
	return nil
}

// confirm settles the chargeback and runs its cascade. actorID is nil when the sweep settles it.
func (s *Service) confirm(ctx context.Context, tx *sql.Tx, p *models.PaymentRecord, reason string, actorID *int64, now time.Time, fx *orders.Effects) error {
	if p.ChargebackAt == nil {
		return database.ErrInvalidState.WithMessage("no chargeback was initiated for this payment")
	}
	if p.Status != models.PaymentStatusCompleted {
		return database.ErrInvalidState.WithMessage("chargeback already settled as %s", p.Status)
	}

	p.Status = models.PaymentStatusChargeback
	p.ChargebackConfirmedAt = &now
	if reason = strings.TrimSpace(reason); reason != "" {
		p.ChargebackReason = reason
	}
	if err := store.SavePayment(ctx, tx, p, models.PaymentStatusCompleted); err != nil {
		return err
	}
	fx.Audit.Status(audit.EntityPayment, p.ID, "payment.chargeback_confirmed", models.PaymentStatusCompleted, p.Status, p.ChargebackReason)
	if err := s.cascadeStep("payment"); err != nil {
		return err
	}

	regs, err := s.disputeTargets(ctx, tx, p, []string{models.RegistrationStatusInDispute, models.RegistrationStatusAttended})
	if err != nil {
		return err
	}
	for _, r := range regs {
		if err := store.TransitionRegistration(ctx, tx, r.ID, []string{r.Status},
			models.RegistrationStatusCancelledByChargeback, now); err != nil {
			return err
		}
		fx.Audit.Status(audit.EntityRegistration, r.ID, "registration.cancelled_by_chargeback",
			r.Status, models.RegistrationStatusCancelledByChargeback, p.ChargebackReason)
		if err := s.cascadeStep("registration"); err != nil {
			return err
		}

		certs, err := store.ListCertificatesByRegistration(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		for _, c := range certs {
			if c.Status != models.CertificateStatusActive {
				continue
			}
			revoked, err := store.RevokeCertificate(ctx, tx, c.ID, revocationReason, actorID, now)
			if err != nil {
				return err
			}
			if revoked {
				fx.Audit.Status(audit.EntityCertificate, c.ID, "certificate.revoked",
					models.CertificateStatusActive, models.CertificateStatusRevoked, revocationReason)
			}
			if err := s.cascadeStep("certificate"); err != nil {
				return err
			}
		}

		previous, err := store.FlagPersonRisk(ctx, tx, r.AttendeeID)
		if err != nil {
			return err
		}
		fx.Audit.Add(audit.EntityPerson, r.AttendeeID, "person.risk_flagged",
			map[string]any{"is_risk_flagged": previous}, map[string]any{"is_risk_flagged": true}, revocationReason)
		if err := s.cascadeStep("risk_flag"); err != nil {
			return err
		}
	}
	return nil
}

// reverse restores disputed registrations to CONFIRMED; ATTENDED ones were never disputed and stay
// as they are. The attendee's risk flag stays set until someone reviews it.
func (s *Service) reverse(ctx context.Context, tx *sql.Tx, p *models.PaymentRecord, now time.Time, fx *orders.Effects) error {
	if p.ChargebackAt == nil {
		return database.ErrInvalidState.WithMessage("no chargeback was initiated for this payment")
	}
	if p.Status != models.PaymentStatusCompleted {
		return database.ErrInvalidState.WithMessage("chargeback already settled as %s", p.Status)
	}

	p.Status = models.PaymentStatusChargebackReversed
	p.ChargebackReversedAt = &now
	if err := store.SavePayment(ctx, tx, p, models.PaymentStatusCompleted); err != nil {
		return err
	}
	fx.Audit.Status(audit.EntityPayment, p.ID, "payment.chargeback_reversed", models.PaymentStatusCompleted, p.Status, "")

	regs, err := s.disputeTargets(ctx, tx, p, []string{models.RegistrationStatusInDispute})
	if err != nil {
		return err
	}
	for _, r := range regs {
		if err := store.TransitionRegistration(ctx, tx, r.ID, []string{models.RegistrationStatusInDispute},
			models.RegistrationStatusConfirmed, now); err != nil {
			return err
		}
		fx.Audit.Status(audit.EntityRegistration, r.ID, "registration.dispute_reversed",
			models.RegistrationStatusInDispute, models.RegistrationStatusConfirmed, "")
	}
	return nil
}

// disputeTargets returns the registrations a chargeback applies to that are currently in one of
// statuses: the payment's own registration when it has one, otherwise those of its order.
func (s *Service) disputeTargets(ctx context.Context, tx *sql.Tx, p *models.PaymentRecord, statuses []string) ([]models.Registration, error) {
	var candidates []models.Registration
	if p.RegistrationID != nil {
		r, err := store.GetRegistrationForUpdate(ctx, tx, *p.RegistrationID)
		if err != nil {
			return nil, err
		}
		candidates = []models.Registration{*r}
	} else {
		all, err := store.ListRegistrationsByOrder(ctx, tx, p.OrderID)
		if err != nil {
			return nil, err
		}
		candidates = all
	}

	var out []models.Registration
	for _, r := range candidates {
		for _, st := range statuses {
			if r.Status == st {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

// SweepStaleChargebacks confirms chargebacks left open longer than the response window, one
// transaction per payment. Disputes settled meanwhile are no longer COMPLETED and are skipped.
func (s *Service) SweepStaleChargebacks(ctx context.Context) (int, error) {
	confirmed := 0
	for confirmed < sweepBatchLimit {
		if err := ctx.Err(); err != nil {
			return confirmed, err
		}

		var (
			done bool
			fx   *orders.Effects
		)
		err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			now := s.clock()
			fx = orders.NewEffects(nil, now)

			p, err := store.LockNextStaleChargeback(ctx, tx, now.Add(-s.chargebackWindow))
			if errors.Is(err, database.ErrPaymentNotFound) {
				done = true
				return nil
			}
			if err != nil {
				return err
			}
			return s.confirm(ctx, tx, p, lapsedReason, nil, now, fx)
		})
		if err != nil {
			s.logger.Error("chargeback sweep aborted", zap.Int("confirmed", confirmed), zap.Error(err))
			return confirmed, err
		}
		if done {
			break
		}

		s.orders.Dispatch(ctx, fx)
		confirmed++
	}

	if confirmed > 0 {
		s.logger.Info("confirmed lapsed chargebacks", zap.Int("count", confirmed))
	}
	return confirmed, nil
}
