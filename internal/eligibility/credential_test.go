package eligibility

import (
	"context"
	"errors"
	"testing"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRegistry struct{}

func (failingRegistry) LookupCredential(context.Context, string) (*store.CredentialRecord, error) {
	return nil, errors.New("connection refused")
}

func TestValidateEligibility(t *testing.T) {
	checker := NewChecker(StaticRegistry{
		"CMP-100": {CredentialID: "CMP-100", HolderName: "Ana Rojas", Group: "MEDICAL", IsQualified: true},
		"CMP-200": {CredentialID: "CMP-200", HolderName: "Luis Paz", Group: "MEDICAL", IsQualified: false},
	})
	ctx := context.Background()

	res, err := checker.ValidateEligibility(ctx, "CMP-100")
	require.NoError(t, err)
	assert.Equal(t, Result{Valid: true, Qualified: true, HolderName: "Ana Rojas", Group: "MEDICAL"}, res)
	assert.True(t, res.Admits(nil))
	assert.True(t, res.Admits([]string{"medical"}))
	assert.False(t, res.Admits([]string{"LEGAL"}))

	res, err = checker.ValidateEligibility(ctx, "CMP-200")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.Admits(nil))

	res, err = checker.ValidateEligibility(ctx, "missing")
	require.NoError(t, err, "not found is a negative result")
	assert.False(t, res.Valid)

	res, err = checker.ValidateEligibility(ctx, "  ")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestValidateEligibilityRegistryDown(t *testing.T) {
	_, err := NewChecker(failingRegistry{}).ValidateEligibility(context.Background(), "CMP-100")

	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrDependencyUnavailable))
	assert.Equal(t, database.KindDependencyDegraded, database.KindOf(err))
}
