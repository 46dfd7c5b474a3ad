package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/go-ticket-store/internal/audit"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/eligibility"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/store"
)

const orderNumberPrefix = "ORD-"

type Buyer struct {
	UserID int64
	TaxID  string
}

type Attendee struct {
	Email          string
	DocumentType   string
	DocumentNumber string
	FirstName      string
	LastName       string
	CredentialID   string
}

// Item is one order line: Quantity seats of a ticket type, one Attendee per seat.
type Item struct {
	TicketTypeID int64
	Quantity     int
	Attendees    []Attendee
	CouponCode   string
}

type OrderSummary struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	ItemCount   int             `json:"item_count"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// ValidateItems rejects malformed input before any lock is taken.
func ValidateItems(buyer Buyer, items []Item) error {
	if buyer.UserID <= 0 {
		return database.ErrInvalidInput.WithMessage("buyer is required")
	}
	if len(items) == 0 {
		return database.ErrInvalidInput.WithMessage("order must contain at least one item")
	}

	seen := make(map[string]bool)
	for i, item := range items {
		if item.TicketTypeID <= 0 {
			return database.ErrInvalidInput.WithMessage("item %d: ticket type is required", i)
		}
		if item.Quantity <= 0 {
			return database.ErrInvalidInput.WithMessage("item %d: quantity must be positive", i)
		}
		if len(item.Attendees) != item.Quantity {
			return database.ErrInvalidInput.WithMessage("item %d: %d attendees given for quantity %d", i, len(item.Attendees), item.Quantity)
		}
		for j, a := range item.Attendees {
			if strings.TrimSpace(a.DocumentNumber) == "" && strings.TrimSpace(a.Email) == "" {
				return database.ErrInvalidInput.WithMessage("item %d attendee %d: email or document number is required", i, j)
			}
			if strings.TrimSpace(a.FirstName) == "" || strings.TrimSpace(a.LastName) == "" {
				return database.ErrInvalidInput.WithMessage("item %d attendee %d: name is required", i, j)
			}
			key := identityKey(a)
			if seen[key] {
				return database.ErrDuplicateRegistration.WithMessage("attendee %s appears more than once in the order", key)
			}
			seen[key] = true
		}
	}
	return nil
}

func identityKey(a Attendee) string {
	if doc := strings.TrimSpace(a.DocumentNumber); doc != "" {
		return "doc:" + doc
	}
	return "email:" + strings.ToLower(strings.TrimSpace(a.Email))
}

// requestedByTicketType sums quantities per ticket type and returns the ids in ascending order,
// the order in which their rows are locked.
func requestedByTicketType(items []Item) (map[int64]int, []int64) {
	requested := make(map[int64]int)
	for _, item := range items {
		requested[item.TicketTypeID] += item.Quantity
	}
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return requested, ids
}

// CreateOrder reserves every requested seat and prices it in one serializable transaction.
// Any failure leaves nothing behind. Free orders are confirmed before the transaction commits.
func (s *Service) CreateOrder(ctx context.Context, buyer Buyer, items []Item, metadata map[string]any) (*OrderSummary, error) {
	if err := ValidateItems(buyer, items); err != nil {
		return nil, err
	}

	rawMetadata := json.RawMessage(`{}`)
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, database.ErrInvalidInput.WithMessage("metadata is not serializable: %v", err)
		}
		rawMetadata = b
	}

	var (
		summary *OrderSummary
		fx      *Effects
	)
	err := database.WithRetry(ctx, s.db, s.serializable(), func(tx *sql.Tx) error {
		now := s.now()
		fx = NewEffects(&buyer.UserID, now)
		var err error
		summary, err = s.createOrderTx(ctx, tx, buyer, items, rawMetadata, now, fx)
		return err
	})
	if err != nil {
		s.logger.Info("order rejected",
			zap.Int64("user_id", buyer.UserID),
			zap.String("code", database.CodeOf(err)),
			zap.Error(err))
		return nil, err
	}

	s.Dispatch(ctx, fx)
	s.logger.Info("order created",
		zap.Int64("order_id", summary.OrderID),
		zap.String("order_number", summary.OrderNumber),
		zap.String("status", summary.Status),
		zap.String("total", summary.TotalAmount.StringFixed(2)))
	return summary, nil
}

func (s *Service) createOrderTx(ctx context.Context, tx *sql.Tx, buyer Buyer, items []Item, metadata json.RawMessage, now time.Time, fx *Effects) (*OrderSummary, error) {
	if _, err := store.GetUser(ctx, tx, buyer.UserID); err != nil {
		return nil, err
	}

	requested, ids := requestedByTicketType(items)
	ticketTypes := make(map[int64]*models.TicketType, len(ids))
	events := make(map[int64]*models.Event)
	for _, id := range ids {
		tt, err := s.reserve(ctx, tx, id, requested[id], events, now)
		if err != nil {
			return nil, err
		}
		ticketTypes[id] = tt
	}

	currency := ""
	for _, ev := range events {
		if currency != "" && ev.Currency != currency {
			return nil, database.ErrInvalidInput.WithMessage("all items of an order must share one currency")
		}
		currency = ev.Currency
	}
	if currency == "" {
		currency = s.currency
	}

	order := &models.Order{
		UserID:      buyer.UserID,
		OrderNumber: orderNumberPrefix + ulid.Make().String(),
		Currency:    currency,
		BuyerTaxID:  strings.TrimSpace(buyer.TaxID),
		Metadata:    metadata,
		ExpiresAt:   now.Add(s.orderTTL),
		CreatedAt:   now,
	}
	if err := store.InsertOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	total := decimal.Zero
	count := 0
	for _, item := range items {
		tt := ticketTypes[item.TicketTypeID]
		for _, attendee := range item.Attendees {
			reg, err := s.registerAttendee(ctx, tx, order, tt, attendee, item.CouponCode, now, fx)
			if err != nil {
				return nil, err
			}
			total = total.Add(reg.FinalPrice)
			count++
		}
	}

	if err := store.SetOrderTotal(ctx, tx, order.ID, total); err != nil {
		return nil, err
	}
	order.TotalAmount = total
	fx.Audit.Add(audit.EntityOrder, order.ID, "order.created", nil, map[string]any{
		"status":       models.OrderStatusPending,
		"total_amount": total.StringFixed(2),
		"item_count":   count,
	}, "")

	if total.IsZero() {
		paid, err := s.MarkPaidTx(ctx, tx, order.ID, "", now, fx)
		if err != nil {
			return nil, err
		}
		order = paid
	} else {
		payment := &models.PaymentRecord{
			OrderID:  order.ID,
			UserID:   buyer.UserID,
			Status:   models.PaymentStatusPending,
			Amount:   total,
			Currency: currency,
		}
		if err := store.InsertPayment(ctx, tx, payment); err != nil {
			return nil, err
		}
	}

	return &OrderSummary{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		TotalAmount: total,
		Currency:    currency,
		ItemCount:   count,
		ExpiresAt:   order.ExpiresAt,
	}, nil
}

// reserve locks the ticket type row and checks that quantity more seats fit.
func (s *Service) reserve(ctx context.Context, tx *sql.Tx, ticketTypeID int64, quantity int, events map[int64]*models.Event, now time.Time) (*models.TicketType, error) {
	tt, err := store.LockTicketType(ctx, tx, ticketTypeID)
	if err != nil {
		return nil, err
	}
	if !tt.IsActive {
		return nil, database.ErrEventNotSellable.WithMessage("ticket type %d is not on sale", tt.ID)
	}

	ev, ok := events[tt.EventID]
	if !ok {
		ev, err = store.GetEvent(ctx, tx, tt.EventID)
		if err != nil {
			return nil, err
		}
		events[ev.ID] = ev
	}
	if !ev.Sellable(now) {
		return nil, database.ErrEventNotSellable.WithMessage("event %d is %s", ev.ID, ev.Status)
	}

	if quantity > tt.MaxPerOrder {
		return nil, database.ErrMaxPerOrderExceeded.WithMessage("at most %d tickets of %q per order", tt.MaxPerOrder, tt.Name)
	}

	reserved, err := store.CountReserved(ctx, tx, tt.ID)
	if err != nil {
		return nil, err
	}
	if reserved+quantity > tt.Stock {
		return nil, database.ErrInsufficientStock.WithMessage("%d of %d seats left for %q", max(tt.Stock-reserved, 0), tt.Stock, tt.Name)
	}
	return tt, nil
}

func (s *Service) registerAttendee(ctx context.Context, tx *sql.Tx, order *models.Order, tt *models.TicketType, a Attendee, couponCode string, now time.Time, fx *Effects) (*models.Registration, error) {
	person, err := store.ResolvePerson(ctx, tx, store.PersonInput{
		Email:          strings.TrimSpace(a.Email),
		DocumentType:   strings.TrimSpace(a.DocumentType),
		DocumentNumber: strings.TrimSpace(a.DocumentNumber),
		FirstName:      strings.TrimSpace(a.FirstName),
		LastName:       strings.TrimSpace(a.LastName),
		CredentialID:   strings.TrimSpace(a.CredentialID),
	})
	if err != nil {
		return nil, err
	}

	active, err := store.HasActiveRegistration(ctx, tx, person.ID, tt.EventID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, database.ErrDuplicateRegistration.WithMessage("%s %s is already registered for this event", person.FirstName, person.LastName)
	}

	credentialID := strings.TrimSpace(a.CredentialID)
	if credentialID == "" {
		credentialID = person.CredentialID
	}

	if tt.RequiresCredential {
		if s.eligibility == nil {
			return nil, database.ErrDependencyUnavailable.WithMessage("no eligibility checker configured")
		}
		result, err := s.eligibility.ValidateEligibility(ctx, credentialID)
		if err != nil {
			return nil, err
		}
		if !result.Admits(tt.CredentialGroups) {
			return nil, database.ErrNotEligible.WithMessage("%s %s does not hold a qualifying credential for %q", person.FirstName, person.LastName, tt.Name)
		}
	}

	reg := &models.Registration{
		OrderID:        order.ID,
		EventID:        tt.EventID,
		TicketTypeID:   tt.ID,
		AttendeeID:     person.ID,
		TicketCode:     ulid.Make().String(),
		OriginalPrice:  tt.Price,
		DiscountAmount: decimal.Zero,
		FinalPrice:     tt.Price,
	}

	var coupon *eligibility.CouponResult
	if code := strings.TrimSpace(couponCode); code != "" {
		result, err := s.coupons.ValidateCoupon(ctx, tx, eligibility.CouponRequest{
			Code:         code,
			TicketType:   tt,
			AttendeeID:   person.ID,
			CredentialID: credentialID,
		})
		if err != nil {
			return nil, err
		}
		if !result.Valid {
			return nil, result.AsError()
		}
		reg.OriginalPrice = result.OriginalPrice
		reg.DiscountAmount = result.Discount
		reg.FinalPrice = result.FinalPrice
		coupon = &result
	}

	if err := store.InsertRegistration(ctx, tx, reg); err != nil {
		return nil, err
	}

	if coupon != nil {
		if err := store.InsertCouponUsage(ctx, tx, &models.CouponUsage{
			CouponID:       coupon.Coupon.ID,
			RegistrationID: reg.ID,
			PersonID:       person.ID,
			OriginalPrice:  reg.OriginalPrice,
			DiscountAmount: reg.DiscountAmount,
			FinalPrice:     reg.FinalPrice,
			CreatedAt:      now,
		}); err != nil {
			return nil, err
		}
		if err := store.RedeemCoupon(ctx, tx, coupon.Coupon.ID); err != nil {
			return nil, err
		}
		fx.Audit.Add(audit.EntityCoupon, coupon.Coupon.ID, "coupon.redeemed", nil, map[string]any{
			"registration_id": reg.ID,
			"discount_amount": reg.DiscountAmount.StringFixed(2),
		}, "")
	}

	return reg, nil
}
