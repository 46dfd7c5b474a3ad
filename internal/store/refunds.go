package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/shopspring/decimal"
)

const refundColumns = `id, registration_id, payment_id, requested_by, status, reason, COALESCE(details, ''),
	original_amount, refund_percentage, refund_amount, COALESCE(review_notes, ''), reviewed_by, reviewed_at,
	processed_by, processing_at, completed_at, rejected_at, credit_note_id, created_at, updated_at`

const openRefundIndex = "refund_requests_open_uq"

// ErrRefundAlreadyOpen is returned when the registration already has a refund in progress.
var ErrRefundAlreadyOpen = database.Conflict("REFUND_ALREADY_OPEN", "a refund request is already open for this registration")

func scanRefund(row rowScanner) (*models.RefundRequest, error) {
	r := &models.RefundRequest{}
	var reviewedBy, processedBy, creditNoteID sql.NullInt64
	var reviewedAt, processingAt, completedAt, rejectedAt sql.NullTime
	err := row.Scan(
		&r.ID,
		&r.RegistrationID,
		&r.PaymentID,
		&r.RequestedBy,
		&r.Status,
		&r.Reason,
		&r.Details,
		&r.OriginalAmount,
		&r.RefundPercentage,
		&r.RefundAmount,
		&r.ReviewNotes,
		&reviewedBy,
		&reviewedAt,
		&processedBy,
		&processingAt,
		&completedAt,
		&rejectedAt,
		&creditNoteID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	r.ReviewedBy = int64Ptr(reviewedBy)
	r.ReviewedAt = timePtr(reviewedAt)
	r.ProcessedBy = int64Ptr(processedBy)
	r.ProcessingAt = timePtr(processingAt)
	r.CompletedAt = timePtr(completedAt)
	r.RejectedAt = timePtr(rejectedAt)
	r.CreditNoteID = int64Ptr(creditNoteID)
	return r, err
}

func InsertRefund(ctx context.Context, q database.Querier, r *models.RefundRequest) error {
	query := `
		INSERT INTO refund_requests (registration_id, payment_id, requested_by, status, reason, details,
			original_amount, refund_percentage, refund_amount, review_notes, rejected_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING ` + refundColumns

	created, err := scanRefund(q.QueryRowContext(ctx, query,
		r.RegistrationID,
		r.PaymentID,
		r.RequestedBy,
		r.Status,
		r.Reason,
		nullString(r.Details),
		r.OriginalAmount,
		r.RefundPercentage,
		r.RefundAmount,
		nullString(r.ReviewNotes),
		nullTime(r.RejectedAt),
		r.CreatedAt,
	))
	if err != nil {
		if database.IsUniqueViolation(err, openRefundIndex) {
			return ErrRefundAlreadyOpen.Wrap(err)
		}
		return fmt.Errorf("create refund request: %w", err)
	}

	*r = *created
	return nil
}

func GetRefund(ctx context.Context, q database.Querier, id int64) (*models.RefundRequest, error) {
	r, err := scanRefund(q.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrRefundNotFound
		}
		return nil, fmt.Errorf("get refund request: %w", err)
	}
	return r, nil
}

func GetRefundForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.RefundRequest, error) {
	r, err := scanRefund(tx.QueryRowContext(ctx,
		`SELECT `+refundColumns+` FROM refund_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrRefundNotFound
		}
		return nil, fmt.Errorf("lock refund request: %w", err)
	}
	return r, nil
}

// HasOpenRefund reports whether the registration has a refund that is neither completed nor rejected.
func HasOpenRefund(ctx context.Context, q database.Querier, registrationID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM refund_requests WHERE registration_id = $1 AND status = ANY($2))`,
		registrationID, pq.Array([]string{
			models.RefundStatusRequested,
			models.RefundStatusApproved,
			models.RefundStatusProcessing,
		})).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open refund: %w", err)
	}
	return exists, nil
}

// SaveRefund writes back every mutable column of r, provided the stored status is still from and
// from may move to r.Status.
func SaveRefund(ctx context.Context, q database.Querier, r *models.RefundRequest, from string) error {
	if from != r.Status && !models.CanTransitionRefund(from, r.Status) {
		return database.ErrInvalidState.WithMessage("refund cannot move from %s to %s", from, r.Status)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE refund_requests
		SET status = $1,
		    refund_percentage = $2,
		    refund_amount = $3,
		    review_notes = $4,
		    reviewed_by = $5,
		    reviewed_at = $6,
		    processed_by = $7,
		    processing_at = $8,
		    completed_at = $9,
		    rejected_at = $10,
		    credit_note_id = $11,
		    updated_at = NOW()
		WHERE id = $12 AND status = $13`,
		r.Status,
		r.RefundPercentage,
		r.RefundAmount,
		nullString(r.ReviewNotes),
		nullInt64(r.ReviewedBy),
		nullTime(r.ReviewedAt),
		nullInt64(r.ProcessedBy),
		nullTime(r.ProcessingAt),
		nullTime(r.CompletedAt),
		nullTime(r.RejectedAt),
		nullInt64(r.CreditNoteID),
		r.ID,
		from,
	)
	if err != nil {
		return fmt.Errorf("save refund request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrInvalidState.WithMessage("refund %d is no longer %s", r.ID, from)
	}
	return nil
}

// ListRefundPolicyTiers returns the tiers configured for eventID (or the global tiers when eventID
// is nil), ordered by threshold descending.
func ListRefundPolicyTiers(ctx context.Context, q database.Querier, eventID *int64) ([]models.RefundPolicyTier, error) {
	query := `
		SELECT id, event_id, days_before_event, refund_percentage
		FROM refund_policy_tiers
		WHERE event_id IS NULL
		ORDER BY days_before_event DESC`
	args := []any{}
	if eventID != nil {
		query = `
			SELECT id, event_id, days_before_event, refund_percentage
			FROM refund_policy_tiers
			WHERE event_id = $1
			ORDER BY days_before_event DESC`
		args = append(args, *eventID)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list refund policy tiers: %w", err)
	}
	defer rows.Close()

	var tiers []models.RefundPolicyTier
	for rows.Next() {
		var tier models.RefundPolicyTier
		var tierEventID sql.NullInt64
		if err := rows.Scan(&tier.ID, &tierEventID, &tier.DaysBeforeEvent, &tier.RefundPercentage); err != nil {
			return nil, fmt.Errorf("scan refund policy tier: %w", err)
		}
		tier.EventID = int64Ptr(tierEventID)
		tiers = append(tiers, tier)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tiers, nil
}

func InsertRefundPolicyTier(ctx context.Context, q database.Querier, eventID *int64, daysBeforeEvent int, percentage decimal.Decimal) (*models.RefundPolicyTier, error) {
	tier := &models.RefundPolicyTier{EventID: eventID, DaysBeforeEvent: daysBeforeEvent, RefundPercentage: percentage}
	err := q.QueryRowContext(ctx, `
		INSERT INTO refund_policy_tiers (event_id, days_before_event, refund_percentage)
		VALUES ($1, $2, $3)
		RETURNING id`, nullInt64(eventID), daysBeforeEvent, percentage).Scan(&tier.ID)
	if err != nil {
		return nil, fmt.Errorf("create refund policy tier: %w", err)
	}
	return tier, nil
}
