package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/viralforge/cashback-activation-service/internal/application"
	"github.com/viralforge/cashback-activation-service/internal/domain"
)

// redirect is hit by a browser, so failures render as plain text instead of JSON.
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	target, err := h.service.Redeem(r.Context(), token, application.ClickMeta{
		IPAddress: readIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	})
	if err != nil {
		status, code, msg := mapDomainError(err)
		logHTTPOperationError(r.Context(), "redirect", status, code, msg, err)
		writeText(w, status, redirectFailureText(err))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

func redirectFailureText(err error) string {
	switch {
	case errors.Is(err, domain.ErrTokenExpired), errors.Is(err, domain.ErrTokenInvalid):
		return "Invalid or expired redirect token"
	case errors.Is(err, domain.ErrTokenMismatch):
		return "Token mismatch"
	case errors.Is(err, domain.ErrActivationNotFound):
		return "Activation not found"
	default:
		return "Something went wrong. Please try again."
	}
}
