package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/cashback-activation-service/internal/adapters/memory"
	"github.com/viralforge/cashback-activation-service/internal/adapters/security"
	"github.com/viralforge/cashback-activation-service/internal/application"
	"github.com/viralforge/cashback-activation-service/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *application.Service
	auth   *security.HMACAuthenticator
	server *CashbackInternalServer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	auth, err := security.NewHMACAuthenticator("activation-secret", 5*time.Minute)
	require.NoError(t, err)
	tokens, err := security.NewRedirectTokenSigner("jwt-secret", 5*time.Minute)
	require.NoError(t, err)
	repos := memory.NewRepositories(memory.NewStore())

	svc := application.NewService(application.Dependencies{
		Users:         repos.Users,
		Activations:   repos.Activations,
		Settlements:   repos.Settlements,
		Payouts:       repos.Payouts,
		Outbox:        repos.Outbox,
		Clicks:        repos.Clicks,
		Admission:     memory.NewAdmissionSwitch(false),
		Authenticator: auth,
		Tokens:        tokens,
		Clock:         func() time.Time { return testNow },
	})
	return fixture{svc: svc, auth: auth, server: NewCashbackInternalServer(svc)}
}

func (f fixture) admit(t *testing.T, subject, product string) string {
	t.Helper()
	ts := testNow.UnixMilli()
	res, err := f.svc.Admit(context.Background(), application.AdmitRequest{
		SubjectID:       subject,
		ProductID:       product,
		TimestampMillis: ts,
		Signature:       f.auth.Sign(subject, product, ts),
	})
	require.NoError(t, err)
	return res.ActivationID
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func TestSettlePurchase(t *testing.T) {
	f := newFixture(t)
	activationID := f.admit(t, "subject-1", "p-1")
	ctx := context.Background()

	req := mustStruct(t, map[string]any{
		"activation_id": activationID,
		"order_id":      "ORD-9",
		"purchase_date": testNow.Add(10 * time.Minute).Format(time.RFC3339),
	})
	resp, err := f.server.SettlePurchase(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, string(domain.PurchaseApproved), resp.GetFields()["status"].GetStringValue())
	assert.False(t, resp.GetFields()["replayed"].GetBoolValue())

	again, err := f.server.SettlePurchase(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.GetFields()["replayed"].GetBoolValue())
	assert.Equal(t, resp.GetFields()["purchase_id"].GetStringValue(), again.GetFields()["purchase_id"].GetStringValue())

	balance, err := f.server.GetUserBalance(ctx, mustStruct(t, map[string]any{"subject_id": "subject-1"}))
	require.NoError(t, err)
	assert.Equal(t, "5.00", balance.GetFields()["balance"].GetStringValue())
	assert.True(t, balance.GetFields()["fraud_hold"].GetBoolValue())
}

func TestSettlePurchaseRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.server.SettlePurchase(ctx, mustStruct(t, map[string]any{}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.server.SettlePurchase(ctx, mustStruct(t, map[string]any{
		"activation_id": "0d9b2c4e-1f3a-4b5c-9d7e-8f0a1b2c3d4e",
		"purchase_date": "yesterday",
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.server.SettlePurchase(ctx, mustStruct(t, map[string]any{
		"activation_id": "0d9b2c4e-1f3a-4b5c-9d7e-8f0a1b2c3d4e",
	}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.server.SettlePurchase(ctx, mustStruct(t, map[string]any{
		"activation_id": "not-a-uuid",
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAdmissionPauseOverTheWire(t *testing.T) {
	f := newFixture(t)

	lis := bufconn.Listen(1 << 20)
	intercepted := make(chan string, 8)
	srv := grpc.NewServer(grpc.UnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		intercepted <- info.FullMethod
		return handler(ctx, req)
	}))
	Register(srv, f.server)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+serviceName+"/SetAdmissionPause",
		mustStruct(t, map[string]any{"paused": true, "actor": "ops@example.com"}), out)
	require.NoError(t, err)
	assert.True(t, out.GetFields()["paused"].GetBoolValue())
	assert.Equal(t, "/"+serviceName+"/SetAdmissionPause", <-intercepted)

	out = &structpb.Struct{}
	require.NoError(t, conn.Invoke(ctx, "/"+serviceName+"/GetAdmissionPause", &structpb.Struct{}, out))
	assert.True(t, out.GetFields()["paused"].GetBoolValue())

	_, err = f.svc.Admit(ctx, application.AdmitRequest{
		SubjectID:       "subject-2",
		ProductID:       "p-2",
		TimestampMillis: testNow.UnixMilli(),
		Signature:       f.auth.Sign("subject-2", "p-2", testNow.UnixMilli()),
	})
	assert.ErrorIs(t, err, domain.ErrAdmissionPaused)

	err = conn.Invoke(ctx, "/"+serviceName+"/SetAdmissionPause",
		mustStruct(t, map[string]any{"paused": "yes", "actor": "ops@example.com"}), &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCodeFor(t *testing.T) {
	cases := map[error]codes.Code{
		domain.ErrActivationNotFound:           codes.NotFound,
		&domain.FraudHoldError{Until: testNow}: codes.PermissionDenied,
		domain.ErrAdmissionPaused:              codes.Unavailable,
		domain.ErrRateExceeded:                 codes.ResourceExhausted,
		context.DeadlineExceeded:               codes.Internal,
	}
	for err, want := range cases {
		got, _ := codeFor(err)
		assert.Equal(t, want, got, err.Error())
	}
}
