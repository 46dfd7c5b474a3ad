package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-ticket-store/internal/database"
)

// CredentialRecord is one row of the locally mirrored professional credential registry.
type CredentialRecord struct {
	CredentialID string
	HolderName   string
	Group        string
	IsQualified  bool
}

// ErrCredentialNotFound marks a credential absent from the registry. Callers treat it as a negative result.
var ErrCredentialNotFound = database.NotFound("CREDENTIAL_NOT_FOUND", "credential not found")

func GetCredential(ctx context.Context, q database.Querier, credentialID string) (*CredentialRecord, error) {
	rec := &CredentialRecord{}
	err := q.QueryRowContext(ctx, `
		SELECT credential_id, holder_name, credential_group, is_qualified
		FROM credential_registry WHERE credential_id = $1`, credentialID).Scan(
		&rec.CredentialID, &rec.HolderName, &rec.Group, &rec.IsQualified)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return rec, nil
}

func UpsertCredential(ctx context.Context, q database.Querier, rec CredentialRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO credential_registry (credential_id, holder_name, credential_group, is_qualified, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (credential_id) DO UPDATE
		SET holder_name = EXCLUDED.holder_name,
		    credential_group = EXCLUDED.credential_group,
		    is_qualified = EXCLUDED.is_qualified,
		    updated_at = NOW()`,
		rec.CredentialID, rec.HolderName, rec.Group, rec.IsQualified)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}
