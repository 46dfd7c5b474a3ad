package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
)

const personColumns = `id, COALESCE(email, ''), COALESCE(document_type, ''), COALESCE(document_number, ''),
	first_name, last_name, COALESCE(credential_id, ''), is_risk_flagged, created_at, updated_at`

// PersonInput identifies an attendee by government document number or email.
type PersonInput struct {
	Email          string
	DocumentType   string
	DocumentNumber string
	FirstName      string
	LastName       string
	CredentialID   string
}

func scanPerson(row rowScanner) (*models.Person, error) {
	p := &models.Person{}
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.DocumentType,
		&p.DocumentNumber,
		&p.FirstName,
		&p.LastName,
		&p.CredentialID,
		&p.IsRiskFlagged,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func GetPerson(ctx context.Context, q database.Querier, id int64) (*models.Person, error) {
	p, err := scanPerson(q.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPersonNotFound
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

// FindPerson looks a person up by document number first, then by email.
func FindPerson(ctx context.Context, q database.Querier, documentNumber, email string) (*models.Person, error) {
	if documentNumber != "" {
		p, err := scanPerson(q.QueryRowContext(ctx,
			`SELECT `+personColumns+` FROM persons WHERE document_number = $1`, documentNumber))
		if err == nil {
			return p, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("find person by document: %w", err)
		}
	}

	if email != "" {
		p, err := scanPerson(q.QueryRowContext(ctx,
			`SELECT `+personColumns+` FROM persons WHERE LOWER(email) = LOWER($1)`, email))
		if err == nil {
			return p, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("find person by email: %w", err)
		}
	}

	return nil, database.ErrPersonNotFound
}

// ResolvePerson returns the existing person matching in, creating one when none exists.
// A credential supplied for a person who has none is recorded.
func ResolvePerson(ctx context.Context, q database.Querier, in PersonInput) (*models.Person, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.DocumentNumber = strings.TrimSpace(in.DocumentNumber)
	if in.Email == "" && in.DocumentNumber == "" {
		return nil, database.ErrInvalidInput.WithMessage("attendee needs an email or a document number")
	}

	p, err := FindPerson(ctx, q, in.DocumentNumber, in.Email)
	if err == nil {
		if in.CredentialID != "" && p.CredentialID == "" {
			_, err := q.ExecContext(ctx,
				`UPDATE persons SET credential_id = $1, updated_at = NOW() WHERE id = $2`,
				in.CredentialID, p.ID)
			if err != nil {
				return nil, fmt.Errorf("attach credential: %w", err)
			}
			p.CredentialID = in.CredentialID
		}
		return p, nil
	}
	if !errors.Is(err, database.ErrPersonNotFound) {
		return nil, err
	}

	query := `
		INSERT INTO persons (email, document_type, document_number, first_name, last_name, credential_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT DO NOTHING
		RETURNING ` + personColumns

	p, err = scanPerson(q.QueryRowContext(ctx, query,
		nullString(in.Email),
		nullString(in.DocumentType),
		nullString(in.DocumentNumber),
		in.FirstName,
		in.LastName,
		nullString(in.CredentialID),
	))
	if err == sql.ErrNoRows {
		// Lost a race with a concurrent insert of the same identity.
		return FindPerson(ctx, q, in.DocumentNumber, in.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}

	return p, nil
}

// FlagPersonRisk marks the identity as risky. It returns the previous flag value.
func FlagPersonRisk(ctx context.Context, q database.Querier, id int64) (bool, error) {
	var previous bool
	err := q.QueryRowContext(ctx,
		`SELECT is_risk_flagged FROM persons WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, database.ErrPersonNotFound
		}
		return false, fmt.Errorf("lock person: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`UPDATE persons SET is_risk_flagged = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("flag person risk: %w", err)
	}
	return previous, nil
}
