package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/application"
)

type payoutRequest struct {
	SubjectID        string          `json:"subject_id" validate:"required,max=128"`
	Amount           decimal.Decimal `json:"amount" validate:"gt=0"`
	Method           string          `json:"method" validate:"required,oneof=esewa khalti"`
	PayoutIdentifier string          `json:"payout_identifier" validate:"required,max=64"`
}

func (h *Handler) requestPayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "request_payout", err)
		return
	}

	receipt, err := h.service.RequestPayout(r.Context(), application.PayoutRequest{
		SubjectID:        req.SubjectID,
		Amount:           req.Amount,
		Method:           req.Method,
		PayoutIdentifier: req.PayoutIdentifier,
		IPAddress:        readIP(r),
	})
	if err != nil {
		writeMappedError(r.Context(), w, "request_payout", err)
		return
	}

	writeSuccess(w, http.StatusAccepted, map[string]any{
		"payout_id":    receipt.PayoutID,
		"amount":       receipt.Amount.StringFixed(2),
		"method":       receipt.Method,
		"status":       receipt.Status,
		"requested_at": receipt.RequestedAt,
	})
}

func (h *Handler) getPayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.service.GetPayout(r.Context(), chi.URLParam(r, "payout_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_payout", err)
		return
	}

	data := map[string]any{
		"payout_id":    payout.PayoutID,
		"amount":       payout.Amount.StringFixed(2),
		"method":       payout.Method,
		"status":       payout.Status,
		"requested_at": payout.RequestedAt,
	}
	if payout.TransactionID != "" {
		data["transaction_id"] = payout.TransactionID
	}
	if payout.FailureReason != "" {
		data["failure_reason"] = payout.FailureReason
	}
	if payout.ProcessedAt != nil {
		data["processed_at"] = payout.ProcessedAt
	}
	writeSuccess(w, http.StatusOK, data)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "subject_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_balance", err)
		return
	}

	data := map[string]any{
		"subject_id":       view.SubjectID,
		"balance":          view.Balance.StringFixed(2),
		"total_earned":     view.TotalEarned.StringFixed(2),
		"pending_payouts":  view.PendingPayouts.StringFixed(2),
		"activation_count": view.ActivationCount,
		"fraud_hold":       view.FraudHold,
	}
	if view.FraudHoldUntil != nil {
		data["fraud_hold_until"] = view.FraudHoldUntil.UTC()
	}
	writeSuccess(w, http.StatusOK, data)
}
