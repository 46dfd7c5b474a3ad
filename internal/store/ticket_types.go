package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/shopspring/decimal"
)

const ticketTypeColumns = `id, event_id, name, price, stock, max_per_order, requires_credential,
	credential_groups, allows_waitlist, is_active, created_at, updated_at, version`

// NewTicketType carries the administrative fields of a ticket type.
type NewTicketType struct {
	EventID            int64
	Name               string
	Price              decimal.Decimal
	Stock              int
	MaxPerOrder        int
	RequiresCredential bool
	CredentialGroups   []string
	AllowsWaitlist     bool
}

func scanTicketType(row rowScanner) (*models.TicketType, error) {
	tt := &models.TicketType{}
	var groups pq.StringArray
	err := row.Scan(
		&tt.ID,
		&tt.EventID,
		&tt.Name,
		&tt.Price,
		&tt.Stock,
		&tt.MaxPerOrder,
		&tt.RequiresCredential,
		&groups,
		&tt.AllowsWaitlist,
		&tt.IsActive,
		&tt.CreatedAt,
		&tt.UpdatedAt,
		&tt.Version,
	)
	tt.CredentialGroups = []string(groups)
	return tt, err
}

func CreateTicketType(ctx context.Context, q database.Querier, in NewTicketType) (*models.TicketType, error) {
	if in.MaxPerOrder <= 0 {
		in.MaxPerOrder = 10
	}
	if in.CredentialGroups == nil {
		in.CredentialGroups = []string{}
	}

	query := `
		INSERT INTO ticket_types (event_id, name, price, stock, max_per_order, requires_credential,
			credential_groups, allows_waitlist, is_active, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, NOW(), NOW(), 1)
		RETURNING ` + ticketTypeColumns

	tt, err := scanTicketType(q.QueryRowContext(ctx, query,
		in.EventID,
		in.Name,
		in.Price,
		in.Stock,
		in.MaxPerOrder,
		in.RequiresCredential,
		pq.Array(in.CredentialGroups),
		in.AllowsWaitlist,
	))
	if err != nil {
		return nil, fmt.Errorf("create ticket type: %w", err)
	}

	return tt, nil
}

func GetTicketType(ctx context.Context, q database.Querier, id int64) (*models.TicketType, error) {
	tt, err := scanTicketType(q.QueryRowContext(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrTicketTypeNotFound
		}
		return nil, fmt.Errorf("get ticket type: %w", err)
	}

	return tt, nil
}

// LockTicketType reads the ticket type row FOR UPDATE, blocking concurrent reservations of it.
func LockTicketType(ctx context.Context, tx *sql.Tx, id int64) (*models.TicketType, error) {
	tt, err := scanTicketType(tx.QueryRowContext(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrTicketTypeNotFound
		}
		return nil, fmt.Errorf("lock ticket type: %w", err)
	}

	return tt, nil
}

// LockTicketTypeNoWait is LockTicketType failing fast with ErrLockTimeout when another transaction holds the row.
func LockTicketTypeNoWait(ctx context.Context, tx *sql.Tx, id int64) (*models.TicketType, error) {
	tt, err := scanTicketType(tx.QueryRowContext(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = $1 FOR UPDATE NOWAIT`, id))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
			return nil, database.ErrLockTimeout
		}
		if err == sql.ErrNoRows {
			return nil, database.ErrTicketTypeNotFound
		}
		return nil, fmt.Errorf("lock ticket type (nowait): %w", err)
	}

	return tt, nil
}

// UpdateTicketStockOptimistic changes capacity if version still matches. Capacity may not drop below
// the seats already held.
func UpdateTicketStockOptimistic(ctx context.Context, q database.Querier, id int64, newStock int, version int) error {
	if newStock < 0 {
		return database.ErrInvalidInput.WithMessage("stock must not be negative")
	}

	result, err := q.ExecContext(ctx,
		`UPDATE ticket_types
		 SET stock = $1::int, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3
		   AND $1::int >= (SELECT COUNT(*) FROM registrations
		              WHERE ticket_type_id = $2 AND status = ANY($4))`,
		newStock, id, version, pq.Array(models.ActiveRegistrationStatuses))
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		current, err := GetTicketType(ctx, q, id)
		if err != nil {
			return err
		}
		if current.Version != version {
			return database.ErrOptimisticLockFailed
		}
		return database.ErrInsufficientStock.WithMessage("stock %d is below the seats already reserved", newStock)
	}

	return nil
}

func ListTicketTypes(ctx context.Context, q database.Querier, eventID int64, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticket_types WHERE event_id = $1`, eventID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count ticket types: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + ticketTypeColumns + `
		FROM ticket_types
		WHERE event_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.QueryContext(ctx, query, eventID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list ticket types: %w", err)
	}
	defer rows.Close()

	var ticketTypes []models.TicketType
	for rows.Next() {
		tt, err := scanTicketType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket type: %w", err)
		}
		ticketTypes = append(ticketTypes, *tt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(ticketTypes, total, page, pageSize), nil
}
