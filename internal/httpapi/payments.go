package httpapi

import (
	"net/http"

	"github.com/safar/go-ticket-store/internal/payments"
)

func (h *handlers) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "paymentID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.payments.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) reportPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "paymentID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Provider      string `json:"provider"`
		OperationCode string `json:"operation_code"`
		EvidenceURL   string `json:"evidence_url"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.payments.ReportPayment(r.Context(), id, actorFrom(r.Context()), payments.Report(req))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) reviewPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "paymentID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Approve         bool   `json:"approve"`
		RejectionReason string `json:"rejection_reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.payments.ReviewPayment(r.Context(), id, actorFrom(r.Context()), req.Approve, req.RejectionReason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) chargeback(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "paymentID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
		CaseID string `json:"case_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	action, err := payments.ParseChargebackAction(req.Action)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.payments.ProcessChargeback(r.Context(), id, payments.ChargebackRequest{
		Action:  action,
		Reason:  req.Reason,
		CaseID:  req.CaseID,
		ActorID: actorFrom(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
