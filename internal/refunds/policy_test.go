package refunds

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/safar/go-ticket-store/internal/models"
)

func TestDefaultPolicyBoundaries(t *testing.T) {
	p := Policy{Tiers: DefaultTiers}

	cases := []struct {
		days int
		want int64
	}{
		{45, 80},
		{30, 80},
		{29, 50},
		{7, 50},
		{6, 0},
		{0, 0},
		{-1, 0},
	}
	for _, c := range cases {
		assert.True(t, p.Percentage(c.days).Equal(decimal.NewFromInt(c.want)), "days=%d got %s", c.days, p.Percentage(c.days))
	}
}

func TestPolicyIgnoresTierOrder(t *testing.T) {
	p := Policy{Tiers: []models.RefundPolicyTier{
		{DaysBeforeEvent: 3, RefundPercentage: decimal.NewFromInt(25)},
		{DaysBeforeEvent: 14, RefundPercentage: decimal.NewFromInt(100)},
	}}
	assert.True(t, p.Percentage(20).Equal(decimal.NewFromInt(100)))
	assert.True(t, p.Percentage(5).Equal(decimal.NewFromInt(25)))
	assert.True(t, p.Percentage(2).IsZero())
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 30, DaysUntil(now.Add(30*24*time.Hour), now))
	assert.Equal(t, 6, DaysUntil(now.Add(7*24*time.Hour-time.Minute), now))
	assert.Equal(t, 0, DaysUntil(now.Add(time.Hour), now))
	assert.Equal(t, -1, DaysUntil(now.Add(-time.Hour), now))
}

func TestRefundAmount(t *testing.T) {
	got := RefundAmount(decimal.RequireFromString("99.99"), decimal.NewFromInt(50))
	assert.Equal(t, "50.00", got.StringFixed(2))
	assert.True(t, RefundAmount(decimal.NewFromInt(120), decimal.NewFromInt(100)).Equal(decimal.NewFromInt(120)))
}
