package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Empty is the DTO for RPCs that take or return nothing, the json-codec
// analogue of google.protobuf.Empty.
type Empty struct{}

// CedarRPCServer is the service interface Server implements; it mirrors
// the shape protoc-gen-go-grpc would generate from a cedar.proto file,
// hand-written here since this module has no toolchain access to run
// protoc.
type CedarRPCServer interface {
	GetFrame(context.Context, *GetFrameRequest) (*FrameResponse, error)
	StreamFrames(*GetFrameRequest, CedarRPC_StreamFramesServer) error
	GetCalibrationStatus(context.Context, *Empty) (*CalibrationStatusResponse, error)
	InitiateCalibration(context.Context, *InitiateCalibrationRequest) (*Empty, error)
}

// UnimplementedCedarRPCServer must be embedded by any CedarRPCServer
// implementation for forward compatibility with future methods, the same
// convention protoc-gen-go-grpc generates.
type UnimplementedCedarRPCServer struct{}

func (UnimplementedCedarRPCServer) GetFrame(context.Context, *GetFrameRequest) (*FrameResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetFrame not implemented")
}
func (UnimplementedCedarRPCServer) StreamFrames(*GetFrameRequest, CedarRPC_StreamFramesServer) error {
	return status.Error(codes.Unimplemented, "method StreamFrames not implemented")
}
func (UnimplementedCedarRPCServer) GetCalibrationStatus(context.Context, *Empty) (*CalibrationStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCalibrationStatus not implemented")
}
func (UnimplementedCedarRPCServer) InitiateCalibration(context.Context, *InitiateCalibrationRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method InitiateCalibration not implemented")
}

// CedarRPC_StreamFramesServer is the server-side stream handle StreamFrames
// sends responses through.
type CedarRPC_StreamFramesServer interface {
	Send(*FrameResponse) error
	grpc.ServerStream
}

type cedarRPCStreamFramesServer struct {
	grpc.ServerStream
}

func (s *cedarRPCStreamFramesServer) Send(m *FrameResponse) error {
	return s.ServerStream.SendMsg(m)
}

func _CedarRPC_GetFrame_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetFrameRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CedarRPCServer).GetFrame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cedar.CedarRPC/GetFrame"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CedarRPCServer).GetFrame(ctx, req.(*GetFrameRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _CedarRPC_GetCalibrationStatus_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CedarRPCServer).GetCalibrationStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cedar.CedarRPC/GetCalibrationStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CedarRPCServer).GetCalibrationStatus(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _CedarRPC_InitiateCalibration_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InitiateCalibrationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CedarRPCServer).InitiateCalibration(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cedar.CedarRPC/InitiateCalibration"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CedarRPCServer).InitiateCalibration(ctx, req.(*InitiateCalibrationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _CedarRPC_StreamFrames_Handler(srv any, stream grpc.ServerStream) error {
	m := new(GetFrameRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(CedarRPCServer).StreamFrames(m, &cedarRPCStreamFramesServer{stream})
}

var cedarRPCServiceDesc = grpc.ServiceDesc{
	ServiceName: "cedar.CedarRPC",
	HandlerType: (*CedarRPCServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetFrame", Handler: _CedarRPC_GetFrame_Handler},
		{MethodName: "GetCalibrationStatus", Handler: _CedarRPC_GetCalibrationStatus_Handler},
		{MethodName: "InitiateCalibration", Handler: _CedarRPC_InitiateCalibration_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: _CedarRPC_StreamFrames_Handler, ServerStreams: true},
	},
	Metadata: "cedar.proto",
}

// RegisterCedarRPCServer registers srv against s, the hand-written
// equivalent of protoc-gen-go-grpc's generated registration function.
func RegisterCedarRPCServer(s *grpc.Server, srv CedarRPCServer) {
	s.RegisterService(&cedarRPCServiceDesc, srv)
}
