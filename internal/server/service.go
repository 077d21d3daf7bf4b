package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "palisade.capability_registry.v1.CapabilityRegistryService"

// CapabilityRegistryService is the gRPC surface of the registry. Messages are
// protobuf well-known types carrying the JSON wire form of bundles and
// queries.
type CapabilityRegistryService interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetWorker(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	RemoveWorker(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	FindWithCapability(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindVerifiedWorkers(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	FindWithPermission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindWithFlag(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	FindWithMetadata(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindWithAllRequiredTools(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListToolNames(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RevokeWorker(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	SecurityReport(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	VerifyAllWorkers(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Statistics(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterCapabilityRegistryServiceServer registers srv with s.
func RegisterCapabilityRegistryServiceServer(s grpc.ServiceRegistrar, srv CapabilityRegistryService) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CapabilityRegistryService)(nil),
	Methods: []grpc.MethodDesc{
		unary[structpb.Struct]("Register", CapabilityRegistryService.Register),
		unary[wrapperspb.StringValue]("GetWorker", CapabilityRegistryService.GetWorker),
		unary[wrapperspb.StringValue]("RemoveWorker", CapabilityRegistryService.RemoveWorker),
		unary[structpb.Struct]("FindWithCapability", CapabilityRegistryService.FindWithCapability),
		unary[emptypb.Empty]("FindVerifiedWorkers", CapabilityRegistryService.FindVerifiedWorkers),
		unary[structpb.Struct]("FindWithPermission", CapabilityRegistryService.FindWithPermission),
		unary[wrapperspb.StringValue]("FindWithFlag", CapabilityRegistryService.FindWithFlag),
		unary[structpb.Struct]("FindWithMetadata", CapabilityRegistryService.FindWithMetadata),
		unary[structpb.Struct]("FindWithAllRequiredTools", CapabilityRegistryService.FindWithAllRequiredTools),
		unary[emptypb.Empty]("ListToolNames", CapabilityRegistryService.ListToolNames),
		unary[structpb.Struct]("RevokeWorker", CapabilityRegistryService.RevokeWorker),
		unary[wrapperspb.StringValue]("SecurityReport", CapabilityRegistryService.SecurityReport),
		unary[emptypb.Empty]("VerifyAllWorkers", CapabilityRegistryService.VerifyAllWorkers),
		unary[emptypb.Empty]("Statistics", CapabilityRegistryService.Statistics),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "capability_registry/v1/capability_registry.proto",
}

// unary builds the method descriptor for one RPC, the way protoc-gen-go-grpc
// generates it.
func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](method string, call func(CapabilityRegistryService, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(CapabilityRegistryService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(PReq))
			})
		},
	}
}
