package statuspb

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "statuspb.TokenService"

// TokenServiceServer is implemented by internal/token and registered with
// the Status process's *grpc.Server.
type TokenServiceServer interface {
	GenerateToken(context.Context, *GenerateTokenRequest) (*GenerateTokenResponse, error)
	ValidateToken(context.Context, *ValidateTokenRequest) (*ValidateTokenResponse, error)
}

// TokenServiceClient is implemented by internal/rpcstub's pooled stubs.
type TokenServiceClient interface {
	GenerateToken(ctx context.Context, in *GenerateTokenRequest, opts ...grpc.CallOption) (*GenerateTokenResponse, error)
	ValidateToken(ctx context.Context, in *ValidateTokenRequest, opts ...grpc.CallOption) (*ValidateTokenResponse, error)
}

type tokenServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewTokenServiceClient wraps a dialed connection. Every call forces the
// JSON codec regardless of the connection's configured default, so the
// client works even against a ClientConn dialed without
// grpc.WithDefaultCallOptions(grpc.ForceCodec(...)).
func NewTokenServiceClient(cc grpc.ClientConnInterface) TokenServiceClient {
	return &tokenServiceClient{cc: cc}
}

func (c *tokenServiceClient) GenerateToken(ctx context.Context, in *GenerateTokenRequest, opts ...grpc.CallOption) (*GenerateTokenResponse, error) {
	out := new(GenerateTokenResponse)
	opts = append(opts, grpc.ForceCodec(Codec))
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GenerateToken", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *tokenServiceClient) ValidateToken(ctx context.Context, in *ValidateTokenRequest, opts ...grpc.CallOption) (*ValidateTokenResponse, error) {
	out := new(ValidateTokenResponse)
	opts = append(opts, grpc.ForceCodec(Codec))
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ValidateToken", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func generateTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GenerateTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenServiceServer).GenerateToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GenerateToken"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TokenServiceServer).GenerateToken(ctx, req.(*GenerateTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func validateTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ValidateTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenServiceServer).ValidateToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ValidateToken"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TokenServiceServer).ValidateToken(ctx, req.(*ValidateTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a two-method unary-only service.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TokenServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GenerateToken", Handler: generateTokenHandler},
		{MethodName: "ValidateToken", Handler: validateTokenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "statuspb/token_service.proto",
}

// RegisterTokenServiceServer registers srv against s, mirroring the
// generated registration function's signature.
func RegisterTokenServiceServer(s grpc.ServiceRegistrar, srv TokenServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}
