package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
	"github.com/rl1809/pharmacy-pos/internal/core/service"
)

const RegisterServiceName = "pharmacy.pos.v1.Register"

// RegisterServer is the read side of the register exposed over gRPC.
// Requests and responses are google.protobuf.Struct messages.
type RegisterServer interface {
	GetRegister(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	LookupProduct(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	LowStock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var RegisterServiceDesc = grpc.ServiceDesc{
	ServiceName: RegisterServiceName,
	HandlerType: (*RegisterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRegister", Handler: unaryHandler("GetRegister", RegisterServer.GetRegister)},
		{MethodName: "LookupProduct", Handler: unaryHandler("LookupProduct", RegisterServer.LookupProduct)},
		{MethodName: "LowStock", Handler: unaryHandler("LowStock", RegisterServer.LowStock)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pharmacy/pos/v1/register.proto",
}

func unaryHandler(method string, call func(RegisterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + RegisterServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RegisterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(RegisterServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type GRPCHandler struct {
	auth   *service.AuthService
	tokens *TokenManager
	logger *zap.Logger
}

func NewGRPCHandler(auth *service.AuthService, tokens *TokenManager, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{auth: auth, tokens: tokens, logger: logger}
}

// Register installs the register service and a health service on s.
func (h *GRPCHandler) Register(s *grpc.Server) *health.Server {
	s.RegisterService(&RegisterServiceDesc, h)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(RegisterServiceName, healthpb.HealthCheckResponse_SERVING)
	return hs
}

func (h *GRPCHandler) GetRegister(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	term, err := h.terminal(ctx)
	if err != nil {
		return nil, h.status(err)
	}

	view, err := term.Register(ctx)
	if err != nil {
		return nil, h.status(err)
	}
	return toStruct(toRegisterDTO(view))
}

// LookupProduct resolves "code" as a barcode first, then as a name.
func (h *GRPCHandler) LookupProduct(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	code := strings.TrimSpace(in.GetFields()["code"].GetStringValue())
	if code == "" {
		return nil, status.Error(codes.InvalidArgument, "code is required")
	}
	term, err := h.terminal(ctx)
	if err != nil {
		return nil, h.status(err)
	}

	product, err := term.Catalog().FindByBarcode(ctx, code)
	if errors.Is(err, domain.ErrProductNotFound) {
		product, err = term.Catalog().FindByNameOrCode(code)
	}
	if err != nil {
		return nil, h.status(err)
	}
	return toStruct(toProductDTO(product))
}

func (h *GRPCHandler) LowStock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, err := h.user(ctx)
	if err != nil {
		return nil, h.status(err)
	}
	if !user.Role.Allows(domain.PermViewStockAlerts) {
		return nil, h.status(domain.ErrForbidden)
	}
	term, err := h.auth.Terminal(user)
	if err != nil {
		return nil, h.status(err)
	}

	products, err := term.Catalog().LowStock(ctx)
	if err != nil {
		return nil, h.status(err)
	}
	return toStruct(map[string]interface{}{"products": toProductDTOs(products)})
}

func (h *GRPCHandler) user(ctx context.Context) (domain.User, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.User{}, domain.ErrUnauthorized
	}
	for _, v := range md.Get("authorization") {
		if raw, ok := bearerToken(v); ok {
			return h.tokens.Verify(raw)
		}
	}
	return domain.User{}, domain.ErrUnauthorized
}

func (h *GRPCHandler) terminal(ctx context.Context) (*service.Terminal, error) {
	user, err := h.user(ctx)
	if err != nil {
		return nil, err
	}
	return h.auth.Terminal(user)
}

func (h *GRPCHandler) status(err error) error {
	kind := domain.Kind(err)
	code := grpcCode(kind)
	if code == codes.Unavailable {
		h.logger.Error("grpc call failed", zap.Error(err))
	}
	return status.Error(code, err.Error())
}

func grpcCode(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindConflict:
		return codes.FailedPrecondition
	case domain.KindUnauthorized:
		return codes.Unauthenticated
	case domain.KindForbidden:
		return codes.PermissionDenied
	case domain.KindTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Unavailable
	}
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}
