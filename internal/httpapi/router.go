// Package httpapi exposes the ticketing operations over HTTP. Callers are identified by the
// X-User-ID header set by the fronting gateway.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/orders"
	"github.com/safar/go-ticket-store/internal/payments"
	"github.com/safar/go-ticket-store/internal/refunds"
	"github.com/safar/go-ticket-store/internal/store"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 30 * time.Second
)

type OrderService interface {
	CreateOrder(ctx context.Context, buyer orders.Buyer, items []orders.Item, metadata map[string]any) (*orders.OrderSummary, error)
	GetOrder(ctx context.Context, orderID int64) (*orders.OrderDetail, error)
	ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error)
	Cancel(ctx context.Context, orderID, actorID int64) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID, actorID int64, paymentReference string) (*models.Order, error)
	CheckIn(ctx context.Context, ticketCode string, actorID int64) (*models.Registration, error)
	IssueCertificate(ctx context.Context, registrationID, actorID int64) (*models.Certificate, error)
	Availability(ctx context.Context, ticketTypeID int64) (*orders.Availability, error)
	UpdateTicketStock(ctx context.Context, ticketTypeID int64, stock, version int, actorID int64) (*orders.Availability, error)
	ListTicketTypes(ctx context.Context, eventID int64, page, pageSize int) (*store.OffsetPage, error)
}

type PaymentService interface {
	Get(ctx context.Context, paymentID int64) (*models.PaymentRecord, error)
	ReportPayment(ctx context.Context, paymentID, payerID int64, report payments.Report) (*models.PaymentRecord, error)
	ReviewPayment(ctx context.Context, paymentID, reviewerID int64, approve bool, rejectionReason string) (*models.PaymentRecord, error)
	ProcessChargeback(ctx context.Context, paymentID int64, req payments.ChargebackRequest) (*models.PaymentRecord, error)
}

type RefundService interface {
	Get(ctx context.Context, refundID int64) (*models.RefundRequest, error)
	ListRefundPolicy(ctx context.Context, eventID int64) (refunds.Policy, error)
	RequestRefund(ctx context.Context, registrationID, requesterID int64, reason, details string) (*models.RefundRequest, error)
	ReviewRefund(ctx context.Context, refundID, reviewerID int64, approve bool, notes string, overridePercentage *decimal.Decimal) (*models.RefundRequest, error)
	ProcessRefund(ctx context.Context, refundID, processorID int64) (*models.RefundRequest, error)
}

type Services struct {
	Orders   OrderService
	Payments PaymentService
	Refunds  RefundService
	Logger   *zap.Logger
}

type handlers struct {
	orders   OrderService
	payments PaymentService
	refunds  RefundService
	logger   *zap.Logger
}

// NewRouter builds the chi router with request logging and every route mounted under /api/v1.
func NewRouter(svc Services) chi.Router {
	logger := svc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{orders: svc.Orders, payments: svc.Payments, refunds: svc.Refunds, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Timeout(requestTimeout))
	r.Use(requestLogger(logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{Code: "ROUTE_NOT_FOUND", Message: fmt.Sprintf("no route for %s", req.URL.Path)}})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route(apiPrefix, func(r chi.Router) {
		r.Use(requireActor)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/{orderID}", h.getOrder)
			r.Post("/{orderID}/cancel", h.cancelOrder)
			r.Post("/{orderID}/paid", h.markOrderPaid)
		})
		r.Route("/ticket-types/{ticketTypeID}", func(r chi.Router) {
			r.Get("/availability", h.availability)
			r.Put("/stock", h.updateStock)
		})
		r.Post("/tickets/{ticketCode}/check-in", h.checkIn)
		r.Route("/registrations/{registrationID}", func(r chi.Router) {
			r.Post("/certificates", h.issueCertificate)
			r.Post("/refunds", h.requestRefund)
		})
		r.Route("/payments/{paymentID}", func(r chi.Router) {
			r.Get("/", h.getPayment)
			r.Post("/report", h.reportPayment)
			r.Post("/review", h.reviewPayment)
			r.Post("/chargeback", h.chargeback)
		})
		r.Route("/refunds/{refundID}", func(r chi.Router) {
			r.Get("/", h.getRefund)
			r.Post("/review", h.reviewRefund)
			r.Post("/process", h.processRefund)
		})
		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Get("/ticket-types", h.listTicketTypes)
			r.Get("/refund-policy", h.refundPolicy)
		})
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(started)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
