package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"
)

func (h *handlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "registrationID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Reason  string `json:"reason"`
		Details string `json:"details"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	refund, err := h.refunds.RequestRefund(r.Context(), id, actorFrom(r.Context()), req.Reason, req.Details)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}

func (h *handlers) getRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "refundID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	refund, err := h.refunds.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

func (h *handlers) reviewRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "refundID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Approve            bool             `json:"approve"`
		Notes              string           `json:"notes"`
		OverridePercentage *decimal.Decimal `json:"override_percentage"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	refund, err := h.refunds.ReviewRefund(r.Context(), id, actorFrom(r.Context()), req.Approve, req.Notes, req.OverridePercentage)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

func (h *handlers) processRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "refundID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	refund, err := h.refunds.ProcessRefund(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

func (h *handlers) refundPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "eventID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	policy, err := h.refunds.ListRefundPolicy(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}
