package orders

import (
	"context"
	"database/sql"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/safar/go-ticket-store/internal/audit"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/store"
)

const certificateCodePrefix = "CERT-"

// CheckIn marks the holder of ticketCode as attended. Only CONFIRMED registrations are admitted.
func (s *Service) CheckIn(ctx context.Context, ticketCode string, actorID int64) (*models.Registration, error) {
	ticketCode = strings.TrimSpace(ticketCode)
	if ticketCode == "" {
		return nil, database.ErrInvalidInput.WithMessage("ticket code is required")
	}

	var (
		reg *models.Registration
		fx  *Effects
	)
	err := database.WithRetry(ctx, s.db, s.readCommitted(), func(tx *sql.Tx) error {
		now := s.now()
		fx = NewEffects(&actorID, now)

		if err := store.RequireStaff(ctx, tx, actorID, "check in attendees"); err != nil {
			return err
		}
		found, err := store.GetRegistrationByTicketCode(ctx, tx, ticketCode)
		if err != nil {
			return err
		}
		if found.Status != models.RegistrationStatusConfirmed {
			return database.ErrInvalidState.WithMessage("ticket is %s and cannot be checked in", found.Status)
		}
		if err := store.TransitionRegistration(ctx, tx, found.ID,
			[]string{models.RegistrationStatusConfirmed}, models.RegistrationStatusAttended, now); err != nil {
			return err
		}
		fx.Audit.Status(audit.EntityRegistration, found.ID, "registration.attended",
			models.RegistrationStatusConfirmed, models.RegistrationStatusAttended, "")

		found.Status = models.RegistrationStatusAttended
		found.AttendedAt = &now
		reg = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Dispatch(ctx, fx)
	return reg, nil
}

// IssueCertificate grants an ACTIVE certificate to a confirmed or attended registration.
func (s *Service) IssueCertificate(ctx context.Context, registrationID, actorID int64) (*models.Certificate, error) {
	var (
		cert *models.Certificate
		fx   *Effects
	)
	err := database.WithRetry(ctx, s.db, s.readCommitted(), func(tx *sql.Tx) error {
		now := s.now()
		fx = NewEffects(&actorID, now)

		if err := store.RequireStaff(ctx, tx, actorID, "issue certificates"); err != nil {
			return err
		}
		reg, err := store.GetRegistrationForUpdate(ctx, tx, registrationID)
		if err != nil {
			return err
		}
		if reg.Status != models.RegistrationStatusAttended && reg.Status != models.RegistrationStatusConfirmed {
			return database.ErrInvalidState.WithMessage("registration %d is %s and cannot receive a certificate", reg.ID, reg.Status)
		}

		cert, err = store.InsertCertificate(ctx, tx, reg.ID, certificateCodePrefix+ulid.Make().String(), now)
		if err != nil {
			return err
		}
		fx.Audit.Add(audit.EntityCertificate, cert.ID, "certificate.issued", nil,
			map[string]any{"status": cert.Status, "registration_id": reg.ID}, "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Dispatch(ctx, fx)
	return cert, nil
}
