package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
)

const eventColumns = `id, title, status, starts_at, ends_at, currency, created_at, updated_at`

func scanEvent(row rowScanner) (*models.Event, error) {
	e := &models.Event{}
	err := row.Scan(&e.ID, &e.Title, &e.Status, &e.StartsAt, &e.EndsAt, &e.Currency, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func CreateEvent(ctx context.Context, q database.Querier, title, status string, startsAt, endsAt time.Time, currency string) (*models.Event, error) {
	query := `
		INSERT INTO events (title, status, starts_at, ends_at, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING ` + eventColumns

	e, err := scanEvent(q.QueryRowContext(ctx, query, title, status, startsAt, endsAt, currency))
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return e, nil
}

func GetEvent(ctx context.Context, q database.Querier, id int64) (*models.Event, error) {
	e, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func UpdateEventStatus(ctx context.Context, q database.Querier, id int64, status string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE events SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrEventNotFound
	}
	return nil
}
