package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
)

const registrationColumns = `id, order_id, event_id, ticket_type_id, attendee_id, status, ticket_code,
	original_price, discount_amount, final_price, confirmed_at, attended_at, cancelled_at, created_at, updated_at`

const activeAttendeeIndex = "registrations_active_attendee_uq"

func scanRegistration(row rowScanner) (*models.Registration, error) {
	r := &models.Registration{}
	var confirmedAt, attendedAt, cancelledAt sql.NullTime
	err := row.Scan(
		&r.ID,
		&r.OrderID,
		&r.EventID,
		&r.TicketTypeID,
		&r.AttendeeID,
		&r.Status,
		&r.TicketCode,
		&r.OriginalPrice,
		&r.DiscountAmount,
		&r.FinalPrice,
		&confirmedAt,
		&attendedAt,
		&cancelledAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	r.ConfirmedAt = timePtr(confirmedAt)
	r.AttendedAt = timePtr(attendedAt)
	r.CancelledAt = timePtr(cancelledAt)
	return r, err
}

// CountReserved counts the seats of a ticket type held by registrations in a non-terminal status.
func CountReserved(ctx context.Context, q database.Querier, ticketTypeID int64) (int, error) {
	var reserved int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE ticket_type_id = $1 AND status = ANY($2)`,
		ticketTypeID, pq.Array(models.ActiveRegistrationStatuses)).Scan(&reserved)
	if err != nil {
		return 0, fmt.Errorf("count reserved seats: %w", err)
	}
	return reserved, nil
}

// HasActiveRegistration reports whether the attendee already holds a seat at the event.
func HasActiveRegistration(ctx context.Context, q database.Querier, attendeeID, eventID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM registrations WHERE attendee_id = $1 AND event_id = $2 AND status = ANY($3))`,
		attendeeID, eventID, pq.Array(models.ActiveRegistrationStatuses)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active registration: %w", err)
	}
	return exists, nil
}

// InsertRegistration stores r as PENDING. A concurrent active registration for the same attendee
// and event surfaces as ErrDuplicateRegistration.
func InsertRegistration(ctx context.Context, q database.Querier, r *models.Registration) error {
	query := `
		INSERT INTO registrations (order_id, event_id, ticket_type_id, attendee_id, status, ticket_code,
			original_price, discount_amount, final_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := q.QueryRowContext(ctx, query,
		r.OrderID,
		r.EventID,
		r.TicketTypeID,
		r.AttendeeID,
		models.RegistrationStatusPending,
		r.TicketCode,
		r.OriginalPrice,
		r.DiscountAmount,
		r.FinalPrice,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, activeAttendeeIndex) {
			return database.ErrDuplicateRegistration.Wrap(err)
		}
		return fmt.Errorf("create registration: %w", err)
	}

	r.Status = models.RegistrationStatusPending
	return nil
}

func GetRegistration(ctx context.Context, q database.Querier, id int64) (*models.Registration, error) {
	r, err := scanRegistration(q.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return r, nil
}

func GetRegistrationForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Registration, error) {
	r, err := scanRegistration(tx.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("lock registration: %w", err)
	}
	return r, nil
}

func GetRegistrationByTicketCode(ctx context.Context, q database.Querier, code string) (*models.Registration, error) {
	r, err := scanRegistration(q.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE ticket_code = $1`, code))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("get registration by ticket code: %w", err)
	}
	return r, nil
}

func ListRegistrationsByOrder(ctx context.Context, q database.Querier, orderID int64) ([]models.Registration, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var registrations []models.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		registrations = append(registrations, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return registrations, nil
}

// TransitionRegistration moves one registration from any of from to to. It returns
// ErrInvalidState when the registration is no longer in one of the from statuses.
func TransitionRegistration(ctx context.Context, q database.Querier, id int64, from []string, to string, now time.Time) error {
	for _, f := range from {
		if !models.CanTransitionRegistration(f, to) {
			return database.ErrInvalidState.WithMessage("registrations cannot move from %s to %s", f, to)
		}
	}

	result, err := q.ExecContext(ctx, `
		UPDATE registrations
		SET status = $1::varchar,
		    confirmed_at = CASE WHEN $1::varchar = 'CONFIRMED' AND confirmed_at IS NULL THEN $2::timestamptz ELSE confirmed_at END,
		    attended_at  = CASE WHEN $1::varchar = 'ATTENDED' THEN $2::timestamptz ELSE attended_at END,
		    cancelled_at = CASE WHEN $1::varchar IN ('CANCELLED', 'EXPIRED', 'CANCELLED_BY_CHARGEBACK') THEN $2::timestamptz ELSE cancelled_at END,
		    updated_at = $2::timestamptz
		WHERE id = $3 AND status = ANY($4)`,
		to, now, id, pq.Array(from))
	if err != nil {
		return fmt.Errorf("transition registration: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := GetRegistration(ctx, q, id); err != nil {
			return err
		}
		return database.ErrInvalidState.WithMessage("registration %d cannot move to %s", id, to)
	}
	return nil
}

// TransitionOrderRegistrations moves every registration of the order currently in from to to and
// returns the ids it changed.
func TransitionOrderRegistrations(ctx context.Context, q database.Querier, orderID int64, from, to string, now time.Time) ([]int64, error) {
	if !models.CanTransitionRegistration(from, to) {
		return nil, database.ErrInvalidState.WithMessage("registrations cannot move from %s to %s", from, to)
	}

	rows, err := q.QueryContext(ctx, `
		UPDATE registrations
		SET status = $1::varchar,
		    confirmed_at = CASE WHEN $1::varchar = 'CONFIRMED' THEN $2::timestamptz ELSE confirmed_at END,
		    cancelled_at = CASE WHEN $1::varchar IN ('CANCELLED', 'EXPIRED') THEN $2::timestamptz ELSE cancelled_at END,
		    updated_at = $2::timestamptz
		WHERE order_id = $3 AND status = $4
		RETURNING id`,
		to, now, orderID, from)
	if err != nil {
		return nil, fmt.Errorf("transition order registrations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan registration id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}
