package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/store"
	"github.com/shopspring/decimal"
)

// Coupon rejection codes.
const (
	CouponNotFound           = "COUPON_NOT_FOUND"
	CouponInactive           = "COUPON_INACTIVE"
	CouponNotStarted         = "COUPON_NOT_STARTED"
	CouponExpired            = "COUPON_EXPIRED"
	CouponExhausted          = "COUPON_EXHAUSTED"
	CouponPersonLimit        = "COUPON_PERSON_LIMIT"
	CouponNotApplicable      = "COUPON_NOT_APPLICABLE"
	CouponRequiresCredential = "COUPON_REQUIRES_CREDENTIAL"
)

var hundred = decimal.NewFromInt(100)

type CouponRequest struct {
	Code         string
	TicketType   *models.TicketType
	AttendeeID   int64
	CredentialID string
}

// CouponResult mirrors the validator contract: on rejection Valid is false and ErrorCode/Message
// explain why; prices are always filled with the ticket's original price at least.
type CouponResult struct {
	Valid         bool
	Coupon        *models.Coupon
	OriginalPrice decimal.Decimal
	Discount      decimal.Decimal
	FinalPrice    decimal.Decimal
	ErrorCode     string
	Message       string
}

// AsError converts a rejected result into a conflict carrying the validator's code and message.
func (r CouponResult) AsError() error {
	if r.Valid {
		return nil
	}
	return database.Conflict(r.ErrorCode, r.Message)
}

type CouponValidator struct {
	credentials *Checker
	clock       func() time.Time
}

func NewCouponValidator(credentials *Checker, clock func() time.Time) *CouponValidator {
	if clock == nil {
		clock = time.Now
	}
	return &CouponValidator{credentials: credentials, clock: clock}
}

// ValidateCoupon loads the coupon FOR UPDATE through q and checks it against the ticket type and
// attendee. Run it inside the transaction that will redeem the coupon.
func (v *CouponValidator) ValidateCoupon(ctx context.Context, q database.Querier, req CouponRequest) (CouponResult, error) {
	original := req.TicketType.Price
	result := CouponResult{OriginalPrice: original, FinalPrice: original, Discount: decimal.Zero}

	coupon, err := store.GetCouponByCodeForUpdate(ctx, q, req.Code)
	if err != nil {
		if errors.Is(err, database.ErrCouponNotFound) {
			return reject(result, CouponNotFound, fmt.Sprintf("coupon %q does not exist", req.Code)), nil
		}
		return result, err
	}
	result.Coupon = coupon

	if code, msg := CheckCoupon(coupon, req.TicketType.ID, v.clock()); code != "" {
		return reject(result, code, msg), nil
	}

	if coupon.RequiresCredential {
		if v.credentials == nil {
			return result, database.ErrDependencyUnavailable.WithMessage("no credential checker configured")
		}
		eligibility, err := v.credentials.ValidateEligibility(ctx, req.CredentialID)
		if err != nil {
			return result, err
		}
		if !eligibility.Admits(nil) {
			return reject(result, CouponRequiresCredential, "coupon is reserved for qualified credential holders"), nil
		}
	}

	uses, err := store.CountCouponUsagesByPerson(ctx, q, coupon.ID, req.AttendeeID)
	if err != nil {
		return result, err
	}
	if uses >= coupon.MaxUsesPerPerson {
		return reject(result, CouponPersonLimit, "attendee already used this coupon the maximum number of times"), nil
	}

	result.Discount, result.FinalPrice = CalculateDiscount(coupon, original)
	result.Valid = true
	return result, nil
}

// CheckCoupon applies the static rules of a coupon. It returns an empty code when the coupon may be used.
func CheckCoupon(c *models.Coupon, ticketTypeID int64, now time.Time) (string, string) {
	if !c.IsActive {
		return CouponInactive, "coupon is not active"
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return CouponNotStarted, "coupon is not valid yet"
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return CouponExpired, "coupon has expired"
	}
	if c.MaxTotalUses != nil && c.CurrentUses >= *c.MaxTotalUses {
		return CouponExhausted, "coupon has no uses left"
	}
	if len(c.TicketTypeIDs) > 0 {
		applies := false
		for _, id := range c.TicketTypeIDs {
			if id == ticketTypeID {
				applies = true
				break
			}
		}
		if !applies {
			return CouponNotApplicable, "coupon does not apply to this ticket type"
		}
	}
	return "", ""
}

// CalculateDiscount returns the discount and the resulting price, both rounded to cents. The
// discount never exceeds the original price.
func CalculateDiscount(c *models.Coupon, original decimal.Decimal) (discount, final decimal.Decimal) {
	switch c.DiscountType {
	case models.DiscountTypePercentage:
		pct := decimal.Min(c.DiscountValue, hundred)
		discount = original.Mul(pct).Div(hundred).Round(2)
	case models.DiscountTypeFixedAmount:
		discount = c.DiscountValue.Round(2)
	default:
		discount = decimal.Zero
	}

	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(original) {
		discount = original
	}
	return discount, original.Sub(discount)
}

func reject(r CouponResult, code, message string) CouponResult {
	r.Valid = false
	r.ErrorCode = code
	r.Message = message
	return r
}
