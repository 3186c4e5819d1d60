// ABOUTME: romulus.v1.Gateway gRPC service with hand-registered descriptors over structpb messages
// ABOUTME: Exposes spawn, stop, status, usage and tiers with errors mapped onto gRPC codes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/romulus-ai/romulus-gateway/internal/auth"
	"github.com/romulus-ai/romulus-gateway/internal/broker"
	"github.com/romulus-ai/romulus-gateway/internal/session"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "romulus.v1.Gateway"

// Full method names, as seen by interceptors.
const (
	methodSpawn  = "/" + ServiceName + "/Spawn"
	methodStop   = "/" + ServiceName + "/Stop"
	methodStatus = "/" + ServiceName + "/Status"
	methodUsage  = "/" + ServiceName + "/Usage"
	methodTiers  = "/" + ServiceName + "/Tiers"
)

// GatewayServer is the server API for the romulus.v1.Gateway service.
// Requests and responses are google.protobuf.Struct values carrying the
// same fields as the HTTP JSON bodies.
type GatewayServer interface {
	Spawn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Usage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Tiers(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(GatewayServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts a GatewayServer method to a grpc.MethodHandler.
func unaryHandler(fullMethod string, call structMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GatewayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GatewayServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// gatewayServiceDesc describes romulus.v1.Gateway for grpc.Server.RegisterService.
var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Spawn", Handler: unaryHandler(methodSpawn, GatewayServer.Spawn)},
		{MethodName: "Stop", Handler: unaryHandler(methodStop, GatewayServer.Stop)},
		{MethodName: "Status", Handler: unaryHandler(methodStatus, GatewayServer.Status)},
		{MethodName: "Usage", Handler: unaryHandler(methodUsage, GatewayServer.Usage)},
		{MethodName: "Tiers", Handler: unaryHandler(methodTiers, GatewayServer.Tiers)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "romulus/v1/gateway.proto",
}

// registerGatewayServer registers srv on s.
func registerGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&gatewayServiceDesc, srv)
}

// gatewayService implements GatewayServer on top of the broker.
type gatewayService struct {
	gateway *Gateway
	logger  *slog.Logger
}

func newGatewayService(gw *Gateway, logger *slog.Logger) *gatewayService {
	return &gatewayService{gateway: gw, logger: logger}
}

// Spawn provisions an agent. Fields: agent_type, image_ref.
func (s *gatewayService) Spawn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := auth.MustIdentityFromContext(ctx)
	body := broker.SpawnBody{
		AgentType: stringField(in, "agent_type"),
		ImageRef:  stringField(in, "image_ref"),
	}

	res, err := s.gateway.broker.Spawn(ctx, id, body)
	if err != nil {
		return nil, brokerStatus(err)
	}
	return toStruct(res)
}

// Stop ends the caller's agent. Fields: id.
func (s *gatewayService) Stop(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := auth.MustIdentityFromContext(ctx)
	sessionID := stringField(in, "id")
	if sessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	res, err := s.gateway.broker.Stop(ctx, id, sessionID)
	if err != nil {
		return nil, brokerStatus(err)
	}
	return toStruct(res)
}

// Status reports the caller's agent. Fields: id.
func (s *gatewayService) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := auth.MustIdentityFromContext(ctx)
	sessionID := stringField(in, "id")
	if sessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	res, err := s.gateway.broker.Status(id, sessionID)
	if err != nil {
		return nil, brokerStatus(err)
	}
	return toStruct(res)
}

// Usage reports a wallet's accounting. Fields: wallet, which defaults to
// the caller's own wallet when credentials were presented.
func (s *gatewayService) Usage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	wallet := stringField(in, "wallet")
	id := auth.IdentityFromContext(ctx)

	if wallet == "" && id != nil {
		wallet = id.Wallet
	}
	if wallet == "" {
		return nil, status.Error(codes.InvalidArgument, "wallet is required")
	}
	if s.gateway.config.Auth.ProtectUsage && (id == nil || id.Wallet != wallet) {
		return nil, status.Error(codes.PermissionDenied, msgForeignUsage)
	}

	return toStruct(s.gateway.broker.Usage(wallet))
}

// Tiers returns the tier table, ascending, under "tiers".
func (s *gatewayService) Tiers(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"tiers": s.gateway.broker.Tiers()})
}

// brokerStatus maps a broker failure onto a gRPC status.
func brokerStatus(err error) error {
	var conflict *session.ConflictError
	switch {
	case errors.As(err, &conflict):
		return status.Errorf(codes.AlreadyExists, "%s: %s", msgConflict, conflict.ExistingID)
	case errors.Is(err, session.ErrNotFound):
		return status.Error(codes.NotFound, msgNotFound)
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func stringField(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	v, ok := in.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// toStruct converts a JSON-tagged value into a Struct via its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encoding response: %v", err))
	}
	return out, nil
}
