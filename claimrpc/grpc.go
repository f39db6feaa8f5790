package claimrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "xdao.claimstore.v1.Claims"

// ClaimsServer is the server API for the Claims gRPC service.
//
// Messages are protobuf well-known types (Struct, StringValue, Empty) so
// the service needs no protoc/codegen step. Field names of each Struct are
// listed in messages.go.
type ClaimsServer interface {
	Claim(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Import(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLatest(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	GetOwner(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	RegisterCertificate(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ResolveCertificate(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Observe(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// UnimplementedClaimsServer can be embedded to have forward compatible implementations.
type UnimplementedClaimsServer struct{}

func (UnimplementedClaimsServer) Claim(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Claim not implemented")
}
func (UnimplementedClaimsServer) Import(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Import not implemented")
}
func (UnimplementedClaimsServer) Get(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedClaimsServer) GetLatest(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLatest not implemented")
}
func (UnimplementedClaimsServer) GetOwner(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetOwner not implemented")
}
func (UnimplementedClaimsServer) RegisterCertificate(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method RegisterCertificate not implemented")
}
func (UnimplementedClaimsServer) ResolveCertificate(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ResolveCertificate not implemented")
}
func (UnimplementedClaimsServer) Observe(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Observe not implemented")
}

// RegisterClaimsServer registers the Claims service on a gRPC server.
func RegisterClaimsServer(s grpc.ServiceRegistrar, srv ClaimsServer) {
	s.RegisterService(&Claims_ServiceDesc, srv)
}

// ClaimsClient is the client API for the Claims gRPC service.
type ClaimsClient interface {
	Claim(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Import(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetLatest(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	GetOwner(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	RegisterCertificate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	ResolveCertificate(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Observe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type claimsClient struct{ cc grpc.ClientConnInterface }

func NewClaimsClient(cc grpc.ClientConnInterface) ClaimsClient { return &claimsClient{cc: cc} }

func invoke[Out any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Out, error) {
	out := new(Out)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *claimsClient) Claim(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "Claim", in, opts)
}

func (c *claimsClient) Import(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "Import", in, opts)
}

func (c *claimsClient) Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Get", in, opts)
}

func (c *claimsClient) GetLatest(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "GetLatest", in, opts)
}

func (c *claimsClient) GetOwner(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "GetOwner", in, opts)
}

func (c *claimsClient) RegisterCertificate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "RegisterCertificate", in, opts)
}

func (c *claimsClient) ResolveCertificate(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "ResolveCertificate", in, opts)
}

func (c *claimsClient) Observe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "Observe", in, opts)
}

// unaryHandler adapts one ClaimsServer method to a grpc.MethodDesc handler.
func unaryHandler[In any, Out any](method string, call func(ClaimsServer, context.Context, *In) (*Out, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(In)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClaimsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ClaimsServer), ctx, req.(*In))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Claims_ServiceDesc is the grpc.ServiceDesc for Claims service.
var Claims_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ClaimsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Claim", Handler: unaryHandler("Claim", ClaimsServer.Claim)},
		{MethodName: "Import", Handler: unaryHandler("Import", ClaimsServer.Import)},
		{MethodName: "Get", Handler: unaryHandler("Get", ClaimsServer.Get)},
		{MethodName: "GetLatest", Handler: unaryHandler("GetLatest", ClaimsServer.GetLatest)},
		{MethodName: "GetOwner", Handler: unaryHandler("GetOwner", ClaimsServer.GetOwner)},
		{MethodName: "RegisterCertificate", Handler: unaryHandler("RegisterCertificate", ClaimsServer.RegisterCertificate)},
		{MethodName: "ResolveCertificate", Handler: unaryHandler("ResolveCertificate", ClaimsServer.ResolveCertificate)},
		{MethodName: "Observe", Handler: unaryHandler("Observe", ClaimsServer.Observe)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "claims.proto",
}
