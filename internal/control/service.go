// Package control exposes the twin to SDN controllers over gRPC. The
// service is declared by hand over well-known protobuf types: requests and
// responses are google.protobuf.Struct documents, and commands without a
// result answer google.protobuf.Empty.
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "opticaltwin.control.v1.ControlService"

// ControlServer is the server API of the control service.
type ControlServer interface {
	InstallSwitchRule(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	DeleteSwitchRule(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ConfigureVOA(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	AssocTx(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	AssocRx(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	TurnOn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TurnOff(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetNode(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetGain(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ResetAmplifier(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ResetLink(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ResetNetwork(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	GetOpticalSignals(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMonitor(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DescribeTopology(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }

func unary[Req, Resp proto.Message](name string, newReq func() Req, call func(ControlServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ControlServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(Req))
			})
		},
	}
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("InstallSwitchRule", newStruct, ControlServer.InstallSwitchRule),
		unary("DeleteSwitchRule", newStruct, ControlServer.DeleteSwitchRule),
		unary("ConfigureVOA", newStruct, ControlServer.ConfigureVOA),
		unary("AssocTx", newStruct, ControlServer.AssocTx),
		unary("AssocRx", newStruct, ControlServer.AssocRx),
		unary("TurnOn", newStruct, ControlServer.TurnOn),
		unary("TurnOff", newStruct, ControlServer.TurnOff),
		unary("ResetNode", newStruct, ControlServer.ResetNode),
		unary("SetGain", newStruct, ControlServer.SetGain),
		unary("ResetAmplifier", newStruct, ControlServer.ResetAmplifier),
		unary("ResetLink", newStruct, ControlServer.ResetLink),
		unary("ResetNetwork", newEmpty, ControlServer.ResetNetwork),
		unary("GetOpticalSignals", newStruct, ControlServer.GetOpticalSignals),
		unary("GetMonitor", newStruct, ControlServer.GetMonitor),
		unary("DescribeTopology", newEmpty, ControlServer.DescribeTopology),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "opticaltwin/control/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
