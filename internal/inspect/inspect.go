// Package inspect exposes the live state of a hub, gNB or UE over gRPC.
//
// The service has a single unary method, Snapshot, taking an empty request
// and returning a google.protobuf.Struct, so it needs no generated code.
package inspect

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName    = "nrsim.inspect.v1.Inspector"
	snapshotMethod = "/" + ServiceName + "/Snapshot"
)

// Source is implemented by everything that can be inspected.
type Source interface {
	Snapshot(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Source)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nrsim/inspect/v1/inspect.proto",
}

func snapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Source).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: snapshotMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Source).Snapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return resp, err
	}
}

// NewServer returns a gRPC server with src registered.
func NewServer(src Source, logger *zap.Logger) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := grpc.NewServer(grpc.UnaryInterceptor(unaryLogger(logger.Named("inspect"))))
	s.RegisterService(&serviceDesc, src)
	return s
}

// Serve runs the inspection service on lis until ctx is done.
func Serve(ctx context.Context, lis net.Listener, src Source, logger *zap.Logger) error {
	s := NewServer(src, logger)
	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()
	if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Fetch calls Snapshot on the server behind conn.
func Fetch(ctx context.Context, conn grpc.ClientConnInterface) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, snapshotMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
