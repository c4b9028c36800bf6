package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/cashback-activation-service/internal/application"
	"github.com/viralforge/cashback-activation-service/internal/domain"
)

const serviceName = "viralforge.cashback.v1.CashbackInternalService"

// CashbackInternalService is the operator and partner-facing RPC surface.
type CashbackInternalService interface {
	SettlePurchase(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetAdmissionPause(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAdmissionPause(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUserBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type CashbackInternalServer struct {
	service *application.Service
}

func NewCashbackInternalServer(service *application.Service) *CashbackInternalServer {
	return &CashbackInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc CashbackInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*CashbackInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "SettlePurchase", Handler: unaryHandler("SettlePurchase", svc.SettlePurchase)},
			{MethodName: "SetAdmissionPause", Handler: unaryHandler("SetAdmissionPause", svc.SetAdmissionPause)},
			{MethodName: "GetAdmissionPause", Handler: unaryHandler("GetAdmissionPause", svc.GetAdmissionPause)},
			{MethodName: "GetUserBalance", Handler: unaryHandler("GetUserBalance", svc.GetUserBalance)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "contracts/proto/cashback/v1/cashback_internal.proto",
	}, svc)
}

func (s *CashbackInternalServer) SettlePurchase(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	activationID := stringField(req, "activation_id")
	if activationID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing activation_id")
	}
	settle := application.SettleRequest{
		ActivationID: activationID,
		OrderID:      stringField(req, "order_id"),
		Source:       stringField(req, "source"),
	}
	if raw := stringField(req, "purchase_date"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "purchase_date must be RFC3339")
		}
		settle.PurchaseDate = &at
	}

	purchase, err := s.service.Settle(ctx, settle)
	replayed := errors.Is(err, domain.ErrDuplicatePurchase)
	if err != nil && !replayed {
		return nil, toStatus(ctx, "settle_purchase", err)
	}
	return buildResponse(map[string]any{
		"purchase_id":     purchase.PurchaseID,
		"activation_id":   purchase.ActivationID,
		"status":          string(purchase.Status),
		"cashback_amount": purchase.CashbackAmount.StringFixed(2),
		"replayed":        replayed,
	})
}

func (s *CashbackInternalServer) SetAdmissionPause(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pausedVal := req.GetFields()["paused"]
	if pausedVal == nil {
		return nil, status.Error(codes.InvalidArgument, "missing paused")
	}
	if _, ok := pausedVal.GetKind().(*structpb.Value_BoolValue); !ok {
		return nil, status.Error(codes.InvalidArgument, "paused must be a boolean")
	}
	actor := stringField(req, "actor")
	if actor == "" {
		return nil, status.Error(codes.InvalidArgument, "missing actor")
	}
	paused := pausedVal.GetBoolValue()
	if err := s.service.SetAdmissionPaused(ctx, paused, actor); err != nil {
		return nil, toStatus(ctx, "set_admission_pause", err)
	}
	return buildResponse(map[string]any{"paused": paused})
}

func (s *CashbackInternalServer) GetAdmissionPause(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return buildResponse(map[string]any{"paused": s.service.AdmissionPaused(ctx)})
}

func (s *CashbackInternalServer) GetUserBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	subjectID := stringField(req, "subject_id")
	if subjectID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing subject_id")
	}
	view, err := s.service.GetBalance(ctx, subjectID)
	if err != nil {
		return nil, toStatus(ctx, "get_user_balance", err)
	}
	resp := map[string]any{
		"subject_id":       view.SubjectID,
		"balance":          view.Balance.StringFixed(2),
		"total_earned":     view.TotalEarned.StringFixed(2),
		"pending_payouts":  view.PendingPayouts.StringFixed(2),
		"activation_count": float64(view.ActivationCount),
		"fraud_hold":       view.FraudHold,
	}
	if view.FraudHoldUntil != nil {
		resp["fraud_hold_until"] = view.FraudHoldUntil.UTC().Format(time.RFC3339)
	}
	return buildResponse(resp)
}

type unaryMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func stringField(req *structpb.Struct, key string) string {
	v := req.GetFields()[key]
	if v == nil {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

func buildResponse(fields map[string]any) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func toStatus(ctx context.Context, operation string, err error) error {
	code, msg := codeFor(err)
	if code == codes.Internal {
		slog.Default().With(
			"service", "Cashback-Activation-Service",
			"module", "adapters/grpc",
			"layer", "adapter",
		).ErrorContext(ctx, "grpc operation failed",
			"operation", operation,
			"outcome", "failure",
			"error", err,
		)
	}
	return status.Error(code, msg)
}

func codeFor(err error) (codes.Code, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return codes.InvalidArgument, err.Error()
	case errors.Is(err, domain.ErrActivationNotFound):
		return codes.NotFound, "activation not found"
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound, "not found"
	case errors.Is(err, domain.ErrAuthInvalid), errors.Is(err, domain.ErrAuthExpired):
		return codes.Unauthenticated, "invalid credentials"
	case errors.Is(err, domain.ErrFraudBlocked), errors.Is(err, domain.ErrFraudHold):
		return codes.PermissionDenied, "account on fraud hold"
	case errors.Is(err, domain.ErrRateExceeded):
		return codes.ResourceExhausted, "too many requests"
	case errors.Is(err, domain.ErrAdmissionPaused):
		return codes.Unavailable, "activations are temporarily paused"
	default:
		return codes.Internal, "internal error"
	}
}
