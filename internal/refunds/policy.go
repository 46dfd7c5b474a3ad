// Package refunds computes refund percentages from tiered policies and runs refund requests
// through review and processing.
package refunds

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/store"
)

const (
	PolicySourceEvent   = "event"
	PolicySourceGlobal  = "global"
	PolicySourceDefault = "default"
)

// DefaultTiers apply when neither the event nor the global table defines any tier.
var DefaultTiers = []models.RefundPolicyTier{
	{DaysBeforeEvent: 30, RefundPercentage: decimal.NewFromInt(80)},
	{DaysBeforeEvent: 7, RefundPercentage: decimal.NewFromInt(50)},
	{DaysBeforeEvent: 0, RefundPercentage: decimal.Zero},
}

type Policy struct {
	EventID int64                     `json:"event_id"`
	Source  string                    `json:"source"`
	Tiers   []models.RefundPolicyTier `json:"tiers"`
}

// DaysUntil counts the whole days left before startsAt. It is negative once the event has started.
func DaysUntil(startsAt, now time.Time) int {
	return int(math.Floor(startsAt.Sub(now).Hours() / 24))
}

// Percentage returns the refund percentage of the first tier whose threshold does not exceed days.
// Thresholds are inclusive: exactly 30 days left matches a 30-day tier. No match yields 0.
func (p Policy) Percentage(days int) decimal.Decimal {
	tiers := append([]models.RefundPolicyTier(nil), p.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].DaysBeforeEvent > tiers[j].DaysBeforeEvent })
	for _, tier := range tiers {
		if tier.DaysBeforeEvent <= days {
			return tier.RefundPercentage
		}
	}
	return decimal.Zero
}

// RefundAmount applies percentage to original, rounded to cents.
func RefundAmount(original, percentage decimal.Decimal) decimal.Decimal {
	return original.Mul(percentage).Div(decimal.NewFromInt(100)).Round(2)
}

// LoadPolicy resolves the effective tiers for an event: its own, else the global ones, else DefaultTiers.
func LoadPolicy(ctx context.Context, q database.Querier, eventID int64) (Policy, error) {
	tiers, err := store.ListRefundPolicyTiers(ctx, q, &eventID)
	if err != nil {
		return Policy{}, err
	}
	if len(tiers) > 0 {
		return Policy{EventID: eventID, Source: PolicySourceEvent, Tiers: tiers}, nil
	}

	tiers, err = store.ListRefundPolicyTiers(ctx, q, nil)
	if err != nil {
		return Policy{}, err
	}
	if len(tiers) > 0 {
		return Policy{EventID: eventID, Source: PolicySourceGlobal, Tiers: tiers}, nil
	}

	return Policy{EventID: eventID, Source: PolicySourceDefault, Tiers: DefaultTiers}, nil
}
