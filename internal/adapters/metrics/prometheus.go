package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "cashback"

// Prometheus implements ports.Metrics and also carries the transport
// collectors. Each instance owns its registry.
type Prometheus struct {
	registry *prometheus.Registry

	admissions  *prometheus.CounterVec
	redirects   *prometheus.CounterVec
	settlements *prometheus.CounterVec
	payouts     *prometheus.CounterVec
	fraudFlags  *prometheus.CounterVec

	httpRequests *prometheus.HistogramVec
	grpcRequests *prometheus.CounterVec
	grpcDuration *prometheus.HistogramVec
	dbPool       *prometheus.GaugeVec
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	outcomeCounter := func(name, help string, label string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{label})
	}

	return &Prometheus{
		registry:    reg,
		admissions:  outcomeCounter("activations_total", "Activation admission attempts by outcome.", "outcome"),
		redirects:   outcomeCounter("redirects_total", "Redirect token redemptions by outcome.", "outcome"),
		settlements: outcomeCounter("settlements_total", "Purchase settlements by outcome.", "outcome"),
		payouts:     outcomeCounter("payouts_total", "Payout lifecycle transitions by outcome.", "outcome"),
		fraudFlags:  outcomeCounter("fraud_flags_total", "Fraud heuristics raised by type.", "type"),
		httpRequests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		grpcRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Internal gRPC requests by method and status code.",
		}, []string{"method", "code"}),
		grpcDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "Internal gRPC request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		dbPool: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "connection_pool",
			Help:      "Database connection pool statistics.",
		}, []string{"stat"}),
	}
}

func (p *Prometheus) AdmissionOutcome(outcome string)  { p.admissions.WithLabelValues(outcome).Inc() }
func (p *Prometheus) RedirectOutcome(outcome string)   { p.redirects.WithLabelValues(outcome).Inc() }
func (p *Prometheus) SettlementOutcome(outcome string) { p.settlements.WithLabelValues(outcome).Inc() }
func (p *Prometheus) PayoutOutcome(outcome string)     { p.payouts.WithLabelValues(outcome).Inc() }
func (p *Prometheus) FraudFlagRaised(flagType string)  { p.fraudFlags.WithLabelValues(flagType).Inc() }

// ObserveHTTP records one served request. route is the matched pattern, not the raw path.
func (p *Prometheus) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordDBPoolStats copies database/sql pool statistics into gauges.
func (p *Prometheus) RecordDBPoolStats(stats sql.DBStats) {
	p.dbPool.WithLabelValues("open").Set(float64(stats.OpenConnections))
	p.dbPool.WithLabelValues("in_use").Set(float64(stats.InUse))
	p.dbPool.WithLabelValues("idle").Set(float64(stats.Idle))
	p.dbPool.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
	p.dbPool.WithLabelValues("wait_duration_ms").Set(float64(stats.WaitDuration.Milliseconds()))
}

// UnaryServerInterceptor counts and times internal gRPC calls.
func (p *Prometheus) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		p.grpcDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		p.grpcRequests.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
