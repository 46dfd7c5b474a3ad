// Package eligibility decides whether an attendee may buy a ticket type and what a coupon takes off its price.
package eligibility

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/store"
)

// CredentialRegistry looks up a professional credential. A missing credential is reported as
// store.ErrCredentialNotFound.
type CredentialRegistry interface {
	LookupCredential(ctx context.Context, credentialID string) (*store.CredentialRecord, error)
}

// Result is the outcome of a credential check. Valid means the credential exists; Qualified means
// its holder is currently in good standing.
type Result struct {
	Valid      bool
	Qualified  bool
	HolderName string
	Group      string
}

type Checker struct {
	registry CredentialRegistry
}

func NewChecker(registry CredentialRegistry) *Checker {
	return &Checker{registry: registry}
}

// ValidateEligibility checks credentialID against the registry. Unknown or empty credentials yield
// a negative Result; only registry failures return an error, as ErrDependencyUnavailable.
func (c *Checker) ValidateEligibility(ctx context.Context, credentialID string) (Result, error) {
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return Result{}, nil
	}

	rec, err := c.registry.LookupCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return Result{}, nil
		}
		return Result{}, database.ErrDependencyUnavailable.WithMessage("credential registry unavailable").Wrap(err)
	}

	return Result{
		Valid:      true,
		Qualified:  rec.IsQualified,
		HolderName: rec.HolderName,
		Group:      rec.Group,
	}, nil
}

// Admits reports whether r satisfies a ticket type restricted to groups. An empty groups list admits
// any qualified holder.
func (r Result) Admits(groups []string) bool {
	if !r.Valid || !r.Qualified {
		return false
	}
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if strings.EqualFold(g, r.Group) {
			return true
		}
	}
	return false
}

// SQLRegistry reads the credential registry mirror table.
type SQLRegistry struct {
	db *sql.DB
}

func NewSQLRegistry(db *sql.DB) *SQLRegistry {
	return &SQLRegistry{db: db}
}

func (r *SQLRegistry) LookupCredential(ctx context.Context, credentialID string) (*store.CredentialRecord, error) {
	return store.GetCredential(ctx, r.db, credentialID)
}

// Register inserts or refreshes a credential in the mirror table.
func (r *SQLRegistry) Register(ctx context.Context, rec store.CredentialRecord) error {
	if strings.TrimSpace(rec.CredentialID) == "" {
		return database.ErrInvalidInput.WithMessage("credential id is required")
	}
	return store.UpsertCredential(ctx, r.db, rec)
}

// StaticRegistry serves credentials from memory.
type StaticRegistry map[string]store.CredentialRecord

func (r StaticRegistry) LookupCredential(_ context.Context, credentialID string) (*store.CredentialRecord, error) {
	rec, ok := r[credentialID]
	if !ok {
		return nil, store.ErrCredentialNotFound
	}
	return &rec, nil
}
