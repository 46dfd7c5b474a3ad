package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
)

const paymentColumns = `id, order_id, registration_id, user_id, status, amount, currency,
	COALESCE(provider, ''), COALESCE(operation_code, ''), COALESCE(evidence_url, ''), reported_at,
	reviewed_by, reviewed_at, COALESCE(rejection_reason, ''), chargeback_at, COALESCE(chargeback_reason, ''),
	COALESCE(chargeback_case_id, ''), chargeback_confirmed_at, chargeback_reversed_at, refunded_amount,
	created_at, updated_at`

func scanPayment(row rowScanner) (*models.PaymentRecord, error) {
	p := &models.PaymentRecord{}
	var registrationID, reviewedBy sql.NullInt64
	var reportedAt, reviewedAt, chargebackAt, confirmedAt, reversedAt sql.NullTime
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&registrationID,
		&p.UserID,
		&p.Status,
		&p.Amount,
		&p.Currency,
		&p.Provider,
		&p.OperationCode,
		&p.EvidenceURL,
		&reportedAt,
		&reviewedBy,
		&reviewedAt,
		&p.RejectionReason,
		&chargebackAt,
		&p.ChargebackReason,
		&p.ChargebackCaseID,
		&confirmedAt,
		&reversedAt,
		&p.RefundedAmount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	p.RegistrationID = int64Ptr(registrationID)
	p.ReviewedBy = int64Ptr(reviewedBy)
	p.ReportedAt = timePtr(reportedAt)
	p.ReviewedAt = timePtr(reviewedAt)
	p.ChargebackAt = timePtr(chargebackAt)
	p.ChargebackConfirmedAt = timePtr(confirmedAt)
	p.ChargebackReversedAt = timePtr(reversedAt)
	return p, err
}

func InsertPayment(ctx context.Context, q database.Querier, p *models.PaymentRecord) error {
	query := `
		INSERT INTO payment_records (order_id, registration_id, user_id, status, amount, currency, provider,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING ` + paymentColumns

	created, err := scanPayment(q.QueryRowContext(ctx, query,
		p.OrderID,
		nullInt64(p.RegistrationID),
		p.UserID,
		p.Status,
		p.Amount,
		p.Currency,
		nullString(p.Provider),
	))
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	*p = *created
	return nil
}

func GetPayment(ctx context.Context, q database.Querier, id int64) (*models.PaymentRecord, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payment_records WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func GetPaymentForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.PaymentRecord, error) {
	p, err := scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	return p, nil
}

// GetPaymentByOrder returns the most recent payment record of the order.
func GetPaymentByOrder(ctx context.Context, q database.Querier, orderID int64) (*models.PaymentRecord, error) {
	p, err := scanPayment(q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE order_id = $1 ORDER BY id DESC LIMIT 1`, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by order: %w", err)
	}
	return p, nil
}

// SavePayment writes back every mutable column of p, provided the stored status is still from and
// from may move to p.Status.
func SavePayment(ctx context.Context, q database.Querier, p *models.PaymentRecord, from string) error {
	if from != p.Status && !models.CanTransitionPayment(from, p.Status) {
		return database.ErrInvalidState.WithMessage("payment cannot move from %s to %s", from, p.Status)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE payment_records
		SET status = $1,
		    provider = $2,
		    operation_code = $3,
		    evidence_url = $4,
		    reported_at = $5,
		    reviewed_by = $6,
		    reviewed_at = $7,
		    rejection_reason = $8,
		    chargeback_at = $9,
		    chargeback_reason = $10,
		    chargeback_case_id = $11,
		    chargeback_confirmed_at = $12,
		    chargeback_reversed_at = $13,
		    refunded_amount = $14,
		    updated_at = NOW()
		WHERE id = $15 AND status = $16`,
		p.Status,
		nullString(p.Provider),
		nullString(p.OperationCode),
		nullString(p.EvidenceURL),
		nullTime(p.ReportedAt),
		nullInt64(p.ReviewedBy),
		nullTime(p.ReviewedAt),
		nullString(p.RejectionReason),
		nullTime(p.ChargebackAt),
		nullString(p.ChargebackReason),
		nullString(p.ChargebackCaseID),
		nullTime(p.ChargebackConfirmedAt),
		nullTime(p.ChargebackReversedAt),
		p.RefundedAmount,
		p.ID,
		from,
	)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrInvalidState.WithMessage("payment %d is no longer %s", p.ID, from)
	}
	return nil
}

// LockNextStaleChargeback claims one COMPLETED payment whose chargeback was initiated at or before
// cutoff and never settled, skipping rows held by a concurrent sweep or a manual action.
func LockNextStaleChargeback(ctx context.Context, tx *sql.Tx, cutoff time.Time) (*models.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE status = $1 AND chargeback_at IS NOT NULL AND chargeback_at <= $2
		ORDER BY chargeback_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT 1`

	p, err := scanPayment(tx.QueryRowContext(ctx, query, models.PaymentStatusCompleted, cutoff))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get next stale chargeback: %w", err)
	}
	return p, nil
}
