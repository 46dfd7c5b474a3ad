package eligibility

import (
	"testing"
	"time"

	"github.com/safar/go-ticket-store/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCalculateDiscount(t *testing.T) {
	tests := []struct {
		name         string
		discountType string
		value        string
		original     string
		wantDiscount string
		wantFinal    string
	}{
		{"percentage", models.DiscountTypePercentage, "25", "120.00", "30", "90"},
		{"percentage rounds to cents", models.DiscountTypePercentage, "33.33", "10.00", "3.33", "6.67"},
		{"percentage capped at 100", models.DiscountTypePercentage, "150", "80", "80", "0"},
		{"fixed amount", models.DiscountTypeFixedAmount, "15.50", "100", "15.5", "84.5"},
		{"fixed amount above price", models.DiscountTypeFixedAmount, "200", "100", "100", "0"},
		{"unknown type", "BOGUS", "10", "100", "0", "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &models.Coupon{DiscountType: tt.discountType, DiscountValue: decimal.RequireFromString(tt.value)}
			discount, final := CalculateDiscount(c, decimal.RequireFromString(tt.original))

			assert.True(t, discount.Equal(decimal.RequireFromString(tt.wantDiscount)), "discount %s", discount)
			assert.True(t, final.Equal(decimal.RequireFromString(tt.wantFinal)), "final %s", final)
			assert.True(t, discount.Add(final).Equal(decimal.RequireFromString(tt.original)))
		})
	}
}

func TestCheckCoupon(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	two := 2

	base := func() *models.Coupon {
		return &models.Coupon{IsActive: true, MaxUsesPerPerson: 1}
	}

	tests := []struct {
		name   string
		mutate func(c *models.Coupon)
		want   string
	}{
		{"valid", func(c *models.Coupon) {}, ""},
		{"inactive", func(c *models.Coupon) { c.IsActive = false }, CouponInactive},
		{"not started", func(c *models.Coupon) { c.ValidFrom = &future }, CouponNotStarted},
		{"expired", func(c *models.Coupon) { c.ValidUntil = &past }, CouponExpired},
		{"exhausted", func(c *models.Coupon) { c.MaxTotalUses = &two; c.CurrentUses = 2 }, CouponExhausted},
		{"uses left", func(c *models.Coupon) { c.MaxTotalUses = &two; c.CurrentUses = 1 }, ""},
		{"other ticket type", func(c *models.Coupon) { c.TicketTypeIDs = []int64{8, 9} }, CouponNotApplicable},
		{"listed ticket type", func(c *models.Coupon) { c.TicketTypeIDs = []int64{7} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			code, _ := CheckCoupon(c, 7, now)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestCouponResultAsError(t *testing.T) {
	assert.NoError(t, CouponResult{Valid: true}.AsError())

	err := CouponResult{ErrorCode: CouponExpired, Message: "coupon has expired"}.AsError()
	assert.EqualError(t, err, "coupon has expired")
}
