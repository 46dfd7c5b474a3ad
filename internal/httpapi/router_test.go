package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/orders"
	"github.com/safar/go-ticket-store/internal/payments"
	"github.com/safar/go-ticket-store/internal/refunds"
	"github.com/safar/go-ticket-store/internal/store"
)

type fakeOrders struct {
	OrderService
	gotBuyer orders.Buyer
	gotItems []orders.Item
	gotActor int64
	staff    map[int64]bool
	err      error
}

// authorize mimics the services: only staff may run the privileged order operations.
func (f *fakeOrders) authorize(actorID int64) error {
	f.gotActor = actorID
	if !f.staff[actorID] {
		return database.ErrForbidden.WithMessage("user %d is not staff", actorID)
	}
	return nil
}

func (f *fakeOrders) MarkPaid(_ context.Context, orderID, actorID int64, _ string) (*models.Order, error) {
	if err := f.authorize(actorID); err != nil {
		return nil, err
	}
	return &models.Order{ID: orderID, Status: models.OrderStatusPaid}, nil
}

func (f *fakeOrders) Cancel(_ context.Context, orderID, actorID int64) (*models.Order, error) {
	if err := f.authorize(actorID); err != nil {
		return nil, err
	}
	return &models.Order{ID: orderID, Status: models.OrderStatusCancelled}, nil
}

func (f *fakeOrders) UpdateTicketStock(_ context.Context, ticketTypeID int64, stock, _ int, actorID int64) (*orders.Availability, error) {
	if err := f.authorize(actorID); err != nil {
		return nil, err
	}
	return &orders.Availability{TicketTypeID: ticketTypeID, Stock: stock, Available: stock}, nil
}

func (f *fakeOrders) CheckIn(_ context.Context, _ string, actorID int64) (*models.Registration, error) {
	if err := f.authorize(actorID); err != nil {
		return nil, err
	}
	return &models.Registration{ID: 3, Status: models.RegistrationStatusAttended}, nil
}

func (f *fakeOrders) IssueCertificate(_ context.Context, registrationID, actorID int64) (*models.Certificate, error) {
	if err := f.authorize(actorID); err != nil {
		return nil, err
	}
	return &models.Certificate{ID: 1, RegistrationID: registrationID, Status: models.CertificateStatusActive}, nil
}

func (f *fakeOrders) CreateOrder(_ context.Context, buyer orders.Buyer, items []orders.Item, _ map[string]any) (*orders.OrderSummary, error) {
	f.gotBuyer, f.gotItems = buyer, items
	if f.err != nil {
		return nil, f.err
	}
	return &orders.OrderSummary{OrderID: 7, OrderNumber: "ORD-1", Status: models.OrderStatusPending, TotalAmount: decimal.RequireFromString("91.00")}, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, orderID int64) (*orders.OrderDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &orders.OrderDetail{Order: &models.Order{ID: orderID, Status: models.OrderStatusPaid}}, nil
}

func (f *fakeOrders) ListTicketTypes(_ context.Context, eventID int64, page, pageSize int) (*store.OffsetPage, error) {
	return &store.OffsetPage{Items: []models.TicketType{{ID: 1, EventID: eventID}}, Total: 1, Page: page, PageSize: pageSize, TotalPages: 1}, nil
}

type fakePayments struct {
	PaymentService
	gotChargeback payments.ChargebackRequest
}

func (f *fakePayments) ProcessChargeback(_ context.Context, paymentID int64, req payments.ChargebackRequest) (*models.PaymentRecord, error) {
	f.gotChargeback = req
	return &models.PaymentRecord{ID: paymentID, Status: models.PaymentStatusChargeback}, nil
}

type fakeRefunds struct {
	RefundService
	gotOverride *decimal.Decimal
}

func (f *fakeRefunds) ReviewRefund(_ context.Context, refundID, _ int64, approve bool, notes string, override *decimal.Decimal) (*models.RefundRequest, error) {
	f.gotOverride = override
	return &models.RefundRequest{ID: refundID, Status: models.RefundStatusApproved}, nil
}

func (f *fakeRefunds) ListRefundPolicy(_ context.Context, eventID int64) (refunds.Policy, error) {
	return refunds.Policy{EventID: eventID, Source: refunds.PolicySourceDefault, Tiers: refunds.DefaultTiers}, nil
}

func do(t *testing.T, h http.Handler, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != "" {
		req.Header.Set(actorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestRequireActor(t *testing.T) {
	router := NewRouter(Services{Orders: &fakeOrders{}})

	rec := do(t, router, http.MethodGet, "/api/v1/orders/1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decodeError(t, rec).Code)

	rec = do(t, router, http.MethodGet, "/api/v1/orders/1", "abc", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOrderDecodesRequest(t *testing.T) {
	fake := &fakeOrders{}
	router := NewRouter(Services{Orders: fake})

	rec := do(t, router, http.MethodPost, "/api/v1/orders", "42", `{
		"buyer_tax_id": " 20123456789 ",
		"items": [{"ticket_type_id": 3, "quantity": 1, "coupon_code": "EARLY",
			"attendees": [{"document_number": "12345678", "first_name": "Ana", "last_name": "Quispe"}]}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, int64(42), fake.gotBuyer.UserID)
	assert.Equal(t, "20123456789", fake.gotBuyer.TaxID)
	require.Len(t, fake.gotItems, 1)
	assert.Equal(t, "EARLY", fake.gotItems[0].CouponCode)
	assert.Equal(t, "Quispe", fake.gotItems[0].Attendees[0].LastName)

	var summary orders.OrderSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.True(t, summary.TotalAmount.Equal(decimal.RequireFromString("91")))
}

func TestCreateOrderRejectsUnknownFields(t *testing.T) {
	router := NewRouter(Services{Orders: &fakeOrders{}})
	rec := do(t, router, http.MethodPost, "/api/v1/orders", "1", `{"itemz": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeError(t, rec).Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{database.ErrInvalidInput.WithMessage("bad"), http.StatusBadRequest, "INVALID_INPUT"},
		{database.ErrOrderNotFound, http.StatusNotFound, "ORDER_NOT_FOUND"},
		{database.ErrInsufficientStock.WithMessage("only 2 left"), http.StatusConflict, "INSUFFICIENT_STOCK"},
		{database.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{database.ErrSerializationConflict, http.StatusServiceUnavailable, "SERIALIZATION_CONFLICT"},
		{database.ErrDependencyUnavailable, http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE"},
		{fmt.Errorf("get order: %w", errors.New("connection reset")), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			router := NewRouter(Services{Orders: &fakeOrders{err: tc.err}})
			rec := do(t, router, http.MethodGet, "/api/v1/orders/9", "1", "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}
}

func TestRetryableErrorsAdvertiseRetry(t *testing.T) {
	router := NewRouter(Services{Orders: &fakeOrders{err: database.ErrSerializationConflict}})
	rec := do(t, router, http.MethodGet, "/api/v1/orders/9", "1", "")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.True(t, decodeError(t, rec).Retryable)
}

func TestInternalErrorsAreLoggedAndHidden(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	router := NewRouter(Services{Orders: &fakeOrders{err: errors.New("pq: password authentication failed")}, Logger: zap.New(core)})

	rec := do(t, router, http.MethodGet, "/api/v1/orders/9", "1", "")
	assert.Equal(t, "internal error", decodeError(t, rec).Message)
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
}

func TestInvalidPathID(t *testing.T) {
	router := NewRouter(Services{Orders: &fakeOrders{}})
	rec := do(t, router, http.MethodGet, "/api/v1/orders/-3", "1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChargebackParsesAction(t *testing.T) {
	fake := &fakePayments{}
	router := NewRouter(Services{Payments: fake})

	rec := do(t, router, http.MethodPost, "/api/v1/payments/5/chargeback", "9", `{"action": "confirm", "case_id": "CB-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, payments.ChargebackConfirm, fake.gotChargeback.Action)
	assert.Equal(t, "CB-1", fake.gotChargeback.CaseID)
	assert.Equal(t, int64(9), fake.gotChargeback.ActorID)

	rec = do(t, router, http.MethodPost, "/api/v1/payments/5/chargeback", "9", `{"action": "undo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewRefundOverride(t *testing.T) {
	fake := &fakeRefunds{}
	router := NewRouter(Services{Refunds: fake})

	rec := do(t, router, http.MethodPost, "/api/v1/refunds/4/review", "2", `{"approve": true, "override_percentage": "100"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, fake.gotOverride)
	assert.True(t, fake.gotOverride.Equal(decimal.NewFromInt(100)))

	rec = do(t, router, http.MethodGet, "/api/v1/events/8/refund-policy", "2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var policy refunds.Policy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	assert.Equal(t, refunds.PolicySourceDefault, policy.Source)
	assert.Len(t, policy.Tiers, 3)
}

func TestListTicketTypesPassesPaging(t *testing.T) {
	router := NewRouter(Services{Orders: &fakeOrders{}})
	rec := do(t, router, http.MethodGet, "/api/v1/events/3/ticket-types?page=2&page_size=5", "1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page struct {
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
		Total    int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 5, page.PageSize)
	assert.Equal(t, 1, page.Total)
}

func TestPrivilegedOrderRoutesPassTheCaller(t *testing.T) {
	routes := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"mark paid", http.MethodPost, "/api/v1/orders/7/paid", `{"payment_reference": "OP-1"}`, http.StatusOK},
		{"cancel", http.MethodPost, "/api/v1/orders/7/cancel", "", http.StatusOK},
		{"stock", http.MethodPut, "/api/v1/ticket-types/3/stock", `{"stock": 10, "version": 1}`, http.StatusOK},
		{"check in", http.MethodPost, "/api/v1/tickets/TCK-1/check-in", "", http.StatusOK},
		{"certificate", http.MethodPost, "/api/v1/registrations/3/certificates", "", http.StatusCreated},
	}
	for _, rt := range routes {
		t.Run(rt.name, func(t *testing.T) {
			fake := &fakeOrders{staff: map[int64]bool{1: true}}
			router := NewRouter(Services{Orders: fake})

			rec := do(t, router, rt.method, rt.path, "42", rt.body)
			assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
			assert.Equal(t, "FORBIDDEN", decodeError(t, rec).Code)
			assert.Equal(t, int64(42), fake.gotActor)

			rec = do(t, router, rt.method, rt.path, "1", rt.body)
			assert.Equal(t, rt.status, rec.Code, rec.Body.String())
			assert.Equal(t, int64(1), fake.gotActor)
		})
	}
}
