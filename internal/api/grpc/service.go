// Package grpc exposes the telemetry store over gRPC. Messages are
// google.protobuf.Struct values mirroring the HTTP JSON bodies.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "frostwatch.telemetry.v1.TelemetryService"

// Full method names.
const (
	AppendMethod = "/" + ServiceName + "/Append"
	QueryMethod  = "/" + ServiceName + "/Query"
	StatsMethod  = "/" + ServiceName + "/Stats"
	PruneMethod  = "/" + ServiceName + "/Prune"
)

// TelemetryServiceServer is the server API for TelemetryService.
type TelemetryServiceServer interface {
	Append(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Prune(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterTelemetryServiceServer registers srv with s.
func RegisterTelemetryServiceServer(s grpc.ServiceRegistrar, srv TelemetryServiceServer) {
	s.RegisterService(&TelemetryServiceDesc, srv)
}

// TelemetryServiceDesc describes TelemetryService for grpc.Server.
var TelemetryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Append", Handler: unaryHandler(AppendMethod, TelemetryServiceServer.Append)},
		{MethodName: "Query", Handler: unaryHandler(QueryMethod, TelemetryServiceServer.Query)},
		{MethodName: "Stats", Handler: unaryHandler(StatsMethod, TelemetryServiceServer.Stats)},
		{MethodName: "Prune", Handler: unaryHandler(PruneMethod, TelemetryServiceServer.Prune)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "frostwatch/telemetry/v1/telemetry.proto",
}

type unaryMethod func(TelemetryServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts a method to the grpc.MethodDesc handler shape,
// running it through the server's interceptor when one is installed.
func unaryHandler(fullMethod string, m unaryMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return m(srv.(TelemetryServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return m(srv.(TelemetryServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
