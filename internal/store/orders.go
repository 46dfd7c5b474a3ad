package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, order_number, status, total_amount, currency, COALESCE(buyer_tax_id, ''),
	metadata, COALESCE(payment_reference, ''), expires_at, paid_at, cancelled_at, expired_at,
	created_at, updated_at, version`

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var metadata []byte
	var paidAt, cancelledAt, expiredAt sql.NullTime
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&order.Currency,
		&order.BuyerTaxID,
		&metadata,
		&order.PaymentReference,
		&order.ExpiresAt,
		&paidAt,
		&cancelledAt,
		&expiredAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	order.Metadata = json.RawMessage(metadata)
	order.PaidAt = timePtr(paidAt)
	order.CancelledAt = timePtr(cancelledAt)
	order.ExpiredAt = timePtr(expiredAt)
	return order, err
}

// InsertOrder stores a PENDING order with a zero total; the total is written once all lines are priced.
func InsertOrder(ctx context.Context, q database.Querier, order *models.Order) error {
	metadata := order.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO orders (user_id, order_number, status, total_amount, currency, buyer_tax_id, metadata,
			expires_at, created_at, updated_at, version)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $8, 1)
		RETURNING ` + orderColumns

	created, err := scanOrder(q.QueryRowContext(ctx, query,
		order.UserID,
		order.OrderNumber,
		models.OrderStatusPending,
		order.Currency,
		nullString(order.BuyerTaxID),
		string(metadata),
		order.ExpiresAt,
		order.CreatedAt,
	))
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	*order = *created
	return nil
}

func SetOrderTotal(ctx context.Context, q database.Querier, orderID int64, total decimal.Decimal) error {
	_, err := q.ExecContext(ctx,
		`UPDATE orders SET total_amount = $1, version = version + 1 WHERE id = $2`, total, orderID)
	if err != nil {
		return fmt.Errorf("set order total: %w", err)
	}
	return nil
}

func GetOrder(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	order.Registrations, err = ListRegistrationsByOrder(ctx, q, id)
	if err != nil {
		return nil, err
	}

	return order, nil
}

func GetOrderForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return order, nil
}

// TransitionOrder moves a PENDING order to a terminal status. The status guard is the only
// protection against double expiry or expiry after payment.
func TransitionOrder(ctx context.Context, q database.Querier, id int64, to string, now time.Time, paymentReference string) error {
	if !models.CanTransitionOrder(models.OrderStatusPending, to) {
		return database.ErrInvalidState.WithMessage("orders cannot move to %s", to)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1::varchar,
		    paid_at = CASE WHEN $1::varchar = 'PAID' THEN $2::timestamptz ELSE paid_at END,
		    cancelled_at = CASE WHEN $1::varchar = 'CANCELLED' THEN $2::timestamptz ELSE cancelled_at END,
		    expired_at = CASE WHEN $1::varchar = 'EXPIRED' THEN $2::timestamptz ELSE expired_at END,
		    payment_reference = COALESCE($3, payment_reference),
		    updated_at = $2::timestamptz,
		    version = version + 1
		WHERE id = $4 AND status = 'PENDING'`,
		to, now, nullString(paymentReference), id)
	if err != nil {
		return fmt.Errorf("transition order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var status string
		err := q.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return database.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("get order status: %w", err)
		}
		return database.ErrInvalidState.WithMessage("order %d is %s, not PENDING", id, status)
	}

	return nil
}

func ListOrdersCursor(ctx context.Context, q database.Querier, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, database.ErrInvalidInput.WithMessage("invalid cursor: %v", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// LockNextExpiredOrder claims one PENDING order whose deadline passed, skipping rows other
// sweepers or payment confirmations currently hold.
func LockNextExpiredOrder(ctx context.Context, tx *sql.Tx, now time.Time) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT 1`

	order, err := scanOrder(tx.QueryRowContext(ctx, query, models.OrderStatusPending, now))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get next expired order: %w", err)
	}

	return order, nil
}
