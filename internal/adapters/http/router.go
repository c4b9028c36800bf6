package http

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/viralforge/cashback-activation-service/internal/application"
)

// BodyVerifier authenticates raw webhook payloads.
type BodyVerifier interface {
	VerifyBody(body []byte, signature string) error
}

// RequestObserver receives one observation per served request.
type RequestObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

type Options struct {
	// Webhook, when set, makes X-Webhook-Signature mandatory on purchase callbacks.
	Webhook BodyVerifier
	Metrics RequestObserver
	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
	// TrustedProxies are the peers whose forwarding headers name the client.
	// With none configured the client address is always the TCP peer.
	TrustedProxies []netip.Prefix
}

type Handler struct {
	service  *application.Service
	opts     Options
	validate *validator.Validate
}

func NewHandler(service *application.Service, opts Options) *Handler {
	return &Handler{
		service:  service,
		opts:     opts,
		validate: newValidator(),
	}
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(trustedProxyRealIP(handler.opts.TrustedProxies))
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware(handler.opts.Metrics))

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if handler.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", handler.opts.MetricsHandler)
	}

	r.Get("/r/{token}", handler.redirect)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/activations", handler.createActivation)
		r.Post("/purchases", handler.settlePurchase)
		r.Post("/payouts", handler.requestPayout)
		r.Get("/payouts/{payout_id}", handler.getPayout)
		r.Get("/users/{subject_id}/balance", handler.getBalance)
	})

	return r
}
