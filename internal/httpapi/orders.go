package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/orders"
)

type attendeeRequest struct {
	Email          string `json:"email"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	CredentialID   string `json:"credential_id"`
}

type itemRequest struct {
	TicketTypeID int64             `json:"ticket_type_id"`
	Quantity     int               `json:"quantity"`
	Attendees    []attendeeRequest `json:"attendees"`
	CouponCode   string            `json:"coupon_code"`
}

type createOrderRequest struct {
	BuyerTaxID string         `json:"buyer_tax_id"`
	Items      []itemRequest  `json:"items"`
	Metadata   map[string]any `json:"metadata"`
}

func (req createOrderRequest) items() []orders.Item {
	items := make([]orders.Item, 0, len(req.Items))
	for _, it := range req.Items {
		attendees := make([]orders.Attendee, 0, len(it.Attendees))
		for _, a := range it.Attendees {
			attendees = append(attendees, orders.Attendee(a))
		}
		items = append(items, orders.Item{
			TicketTypeID: it.TicketTypeID,
			Quantity:     it.Quantity,
			Attendees:    attendees,
			CouponCode:   it.CouponCode,
		})
	}
	return items
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	buyer := orders.Buyer{UserID: actorFrom(r.Context()), TaxID: strings.TrimSpace(req.BuyerTaxID)}
	summary, err := h.orders.CreateOrder(r.Context(), buyer, req.items(), req.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, database.ErrInvalidInput.WithMessage("limit must be an integer"))
			return
		}
		limit = n
	}
	page, err := h.orders.ListOrders(r.Context(), actorFrom(r.Context()), query.Get("cursor"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	detail, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.orders.Cancel(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handlers) markOrderPaid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		PaymentReference string `json:"payment_reference"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.orders.MarkPaid(r.Context(), id, actorFrom(r.Context()), req.PaymentReference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handlers) availability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ticketTypeID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	av, err := h.orders.Availability(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *handlers) listTicketTypes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "eventID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	result, err := h.orders.ListTicketTypes(r.Context(), id, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) updateStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ticketTypeID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Stock   *int `json:"stock"`
		Version int  `json:"version"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Stock == nil {
		h.writeError(w, r, database.ErrInvalidInput.WithMessage("stock is required"))
		return
	}
	av, err := h.orders.UpdateTicketStock(r.Context(), id, *req.Stock, req.Version, actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *handlers) checkIn(w http.ResponseWriter, r *http.Request) {
	reg, err := h.orders.CheckIn(r.Context(), chi.URLParam(r, "ticketCode"), actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *handlers) issueCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "registrationID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cert, err := h.orders.IssueCertificate(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cert)
}
