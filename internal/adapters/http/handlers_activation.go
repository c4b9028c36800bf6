package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/application"
)

type activationRequest struct {
	SubjectID    string          `json:"subject_id" validate:"required,max=128"`
	ProductID    string          `json:"product_id" validate:"required,max=128"`
	ProductTitle string          `json:"product_title" validate:"max=512"`
	ProductPrice decimal.Decimal `json:"product_price" validate:"gte=0"`
	ProductURL   string          `json:"product_url" validate:"omitempty,url,max=2048"`
	SellerInfo   string          `json:"seller_info" validate:"max=512"`
	Timestamp    int64           `json:"timestamp" validate:"required,gt=0"`
	Signature    string          `json:"signature" validate:"required,hexadecimal"`
}

func (h *Handler) createActivation(w http.ResponseWriter, r *http.Request) {
	var req activationRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_activation", err)
		return
	}

	res, err := h.service.Admit(r.Context(), application.AdmitRequest{
		SubjectID:       req.SubjectID,
		ProductID:       req.ProductID,
		ProductTitle:    req.ProductTitle,
		ProductPrice:    req.ProductPrice,
		ProductURL:      req.ProductURL,
		SellerInfo:      req.SellerInfo,
		TimestampMillis: req.Timestamp,
		Signature:       req.Signature,
		IPAddress:       readIP(r),
		UserAgent:       r.UserAgent(),
	})
	if err != nil {
		writeMappedError(r.Context(), w, "create_activation", err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"activation_id": res.ActivationID,
		"redirect_url":  res.RedirectURL,
		"expires_in":    res.ExpiresIn,
		"expires_at":    res.ExpiresAt,
	})
}
