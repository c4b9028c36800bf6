package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// trustedProxyRealIP applies chi's RealIP only to requests whose TCP peer is
// a configured proxy. Anyone else could set X-Forwarded-For themselves.
func trustedProxyRealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		forwarded := chimiddleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if peerTrusted(r.RemoteAddr, trusted) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func peerTrusted(remoteAddr string, trusted []netip.Prefix) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				httpLogger().ErrorContext(r.Context(), "panic recovered",
					"operation", "http_panic_recovery",
					"outcome", "failure",
					"request_id", requestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(w, http.StatusInternalServerError, "InternalError", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(payload)
	r.bytes += n
	return n, err
}

func loggingMiddleware(observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)

			statusCode := recorder.statusCode
			if statusCode == 0 {
				statusCode = http.StatusOK
			}
			elapsed := time.Since(start)
			route := routePattern(r)
			if observer != nil {
				observer.ObserveHTTP(r.Method, route, statusCode, elapsed)
			}

			outcome := "success"
			if statusCode >= 400 {
				outcome = "failure"
			}
			// Redirect tokens are bearer credentials, so the raw path is never logged.
			fields := []any{
				"operation", "http_request",
				"outcome", outcome,
				"method", r.Method,
				"route", route,
				"status_code", statusCode,
				"bytes", recorder.bytes,
				"duration_ms", elapsed.Milliseconds(),
				"request_id", requestIDFromContext(r.Context()),
			}
			switch {
			case statusCode >= 500:
				httpLogger().ErrorContext(r.Context(), "http request completed", fields...)
			case statusCode >= 400:
				httpLogger().WarnContext(r.Context(), "http request completed", fields...)
			default:
				httpLogger().InfoContext(r.Context(), "http request completed", fields...)
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(ctxKeyRequestID)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "ValidationError", err.Error()
	case errors.Is(err, domain.ErrAuthInvalid):
		return http.StatusUnauthorized, "AuthInvalid", "invalid request signature"
	case errors.Is(err, domain.ErrAuthExpired):
		return http.StatusUnauthorized, "AuthExpired", "request timestamp expired"
	case errors.Is(err, domain.ErrDuplicateActivation):
		return http.StatusConflict, "DuplicateActivation", "product already activated in the last 24 hours"
	case errors.Is(err, domain.ErrFraudBlocked):
		return http.StatusForbidden, "FraudBlocked", "account flagged for review"
	case errors.Is(err, domain.ErrRateExceeded):
		return http.StatusTooManyRequests, "RateExceeded", "too many requests"
	case errors.Is(err, domain.ErrAdmissionPaused):
		return http.StatusServiceUnavailable, "AdmissionPaused", "activations are temporarily paused"
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusUnauthorized, "TokenExpired", "redirect token expired"
	case errors.Is(err, domain.ErrTokenInvalid):
		return http.StatusUnauthorized, "TokenInvalid", "redirect token invalid"
	case errors.Is(err, domain.ErrTokenMismatch):
		return http.StatusUnauthorized, "TokenMismatch", "token mismatch"
	case errors.Is(err, domain.ErrActivationNotFound):
		return http.StatusNotFound, "ActivationNotFound", "activation not found"
	case errors.Is(err, domain.ErrDuplicatePurchase):
		return http.StatusConflict, "DuplicatePurchase", "purchase already recorded"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusBadRequest, "InsufficientBalance", "insufficient balance"
	case errors.Is(err, domain.ErrFraudHold):
		return http.StatusForbidden, "FraudHold", "payouts are on hold for new accounts"
	case errors.Is(err, domain.ErrBelowMinimumPayout):
		return http.StatusBadRequest, "BelowMinimumPayout", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NotFound", "resource not found"
	default:
		return http.StatusInternalServerError, "InternalError", "internal server error"
	}
}
