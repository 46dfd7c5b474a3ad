package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
)

const userColumns = `id, email, name, role, created_at, updated_at, version`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	return user, err
}

func CreateUser(ctx context.Context, q database.Querier, email, name, role string) (*models.User, error) {
	if role == "" {
		role = models.UserRoleBuyer
	}

	query := `
		INSERT INTO users (email, name, role, created_at, updated_at, version)
		VALUES ($1, $2, $3, NOW(), NOW(), 1)
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRowContext(ctx, query, email, name, role))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, q database.Querier, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

// RequireStaff returns ErrForbidden unless userID is a STAFF user. Unknown users are forbidden too.
func RequireStaff(ctx context.Context, q database.Querier, userID int64, action string) error {
	u, err := GetUser(ctx, q, userID)
	if errors.Is(err, database.ErrUserNotFound) {
		return database.ErrForbidden.WithMessage("user %d may not %s", userID, action)
	}
	if err != nil {
		return err
	}
	if u.Role != models.UserRoleStaff {
		return database.ErrForbidden.WithMessage("user %d may not %s", userID, action)
	}
	return nil
}
