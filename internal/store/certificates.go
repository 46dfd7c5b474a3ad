package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
)

const certificateColumns = `id, registration_id, code, status, issued_at, revoked_at,
	COALESCE(revocation_reason, ''), revoked_by`

func scanCertificate(row rowScanner) (*models.Certificate, error) {
	c := &models.Certificate{}
	var revokedAt sql.NullTime
	var revokedBy sql.NullInt64
	err := row.Scan(&c.ID, &c.RegistrationID, &c.Code, &c.Status, &c.IssuedAt, &revokedAt, &c.RevocationReason, &revokedBy)
	c.RevokedAt = timePtr(revokedAt)
	c.RevokedBy = int64Ptr(revokedBy)
	return c, err
}

func InsertCertificate(ctx context.Context, q database.Querier, registrationID int64, code string, issuedAt time.Time) (*models.Certificate, error) {
	c, err := scanCertificate(q.QueryRowContext(ctx, `
		INSERT INTO certificates (registration_id, code, status, issued_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+certificateColumns,
		registrationID, code, models.CertificateStatusActive, issuedAt))
	if err != nil {
		return nil, fmt.Errorf("issue certificate: %w", err)
	}
	return c, nil
}

func ListCertificatesByRegistration(ctx context.Context, q database.Querier, registrationID int64) ([]models.Certificate, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE registration_id = $1 ORDER BY id`, registrationID)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var certificates []models.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		certificates = append(certificates, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return certificates, nil
}

// RevokeCertificate revokes one ACTIVE certificate. Already revoked certificates are left untouched.
func RevokeCertificate(ctx context.Context, q database.Querier, id int64, reason string, actorID *int64, now time.Time) (bool, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE certificates
		SET status = $1, revoked_at = $2, revocation_reason = $3, revoked_by = $4
		WHERE id = $5 AND status = $6`,
		models.CertificateStatusRevoked, now, reason, nullInt64(actorID), id, models.CertificateStatusActive)
	if err != nil {
		return false, fmt.Errorf("revoke certificate: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}
