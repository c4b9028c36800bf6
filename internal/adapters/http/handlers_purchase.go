package http

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/viralforge/cashback-activation-service/internal/application"
	"github.com/viralforge/cashback-activation-service/internal/domain"
)

type purchaseRequest struct {
	ActivationID string     `json:"activation_id" validate:"required,uuid"`
	OrderID      string     `json:"order_id" validate:"max=128"`
	PurchaseDate *time.Time `json:"purchase_date"`
	Source       string     `json:"source" validate:"max=64"`
}

func (h *Handler) settlePurchase(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeValidationError(r.Context(), w, "settle_purchase", err)
		return
	}
	if h.opts.Webhook != nil {
		sig := strings.TrimSpace(r.Header.Get("X-Webhook-Signature"))
		if err := h.opts.Webhook.VerifyBody(body, sig); err != nil {
			writeMappedError(r.Context(), w, "settle_purchase", domain.ErrAuthInvalid)
			return
		}
	}

	var req purchaseRequest
	if err := decodeJSON(bytes.NewReader(body), &req); err != nil {
		writeValidationError(r.Context(), w, "settle_purchase", err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeValidationError(r.Context(), w, "settle_purchase", err)
		return
	}

	purchase, err := h.service.Settle(r.Context(), application.SettleRequest{
		ActivationID: req.ActivationID,
		OrderID:      req.OrderID,
		PurchaseDate: req.PurchaseDate,
		Source:       req.Source,
	})
	replayed := errors.Is(err, domain.ErrDuplicatePurchase)
	if err != nil && !replayed {
		writeMappedError(r.Context(), w, "settle_purchase", err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	writeSuccess(w, status, map[string]any{
		"purchase_id":     purchase.PurchaseID,
		"activation_id":   purchase.ActivationID,
		"cashback_amount": purchase.CashbackAmount.StringFixed(2),
		"status":          purchase.Status,
		"replayed":        replayed,
	})
}
