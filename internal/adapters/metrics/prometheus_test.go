package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestOutcomeCounters(t *testing.T) {
	m := NewPrometheus()
	m.AdmissionOutcome("success")
	m.AdmissionOutcome("success")
	m.AdmissionOutcome("duplicate")
	m.PayoutOutcome("refunded")
	m.FraudFlagRaised("rapid_fire")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payouts.WithLabelValues("refunded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fraudFlags.WithLabelValues("rapid_fire")))
}

func TestInstancesDoNotShareRegistries(t *testing.T) {
	first := NewPrometheus()
	second := NewPrometheus()
	first.SettlementOutcome("approved")
	assert.Equal(t, 0.0, testutil.ToFloat64(second.settlements.WithLabelValues("approved")))
}

func TestUnaryInterceptorRecordsStatusCode(t *testing.T) {
	m := NewPrometheus()
	intercept := m.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}

	_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "missing")
	})
	require.Error(t, err)
	_, err = intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	_, _ = intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, errors.New("plain")
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.grpcRequests.WithLabelValues("/svc/Method", "NotFound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grpcRequests.WithLabelValues("/svc/Method", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grpcRequests.WithLabelValues("/svc/Method", "Unknown")))
}

func TestHandlerExposesBusinessMetrics(t *testing.T) {
	m := NewPrometheus()
	m.RedirectOutcome("success")
	m.ObserveHTTP(http.MethodGet, "/r/{token}", http.StatusFound, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `cashback_redirects_total{outcome="success"} 1`)
	assert.Contains(t, body, `cashback_http_request_duration_seconds_count{method="GET",route="/r/{token}",status="302"} 1`)
}
