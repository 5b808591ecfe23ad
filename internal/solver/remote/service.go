// Package remote exposes a solver.Solver over gRPC and provides a client
// that implements solver.Solver against such a service. Messages are
// google.protobuf.Struct values carrying the JSON form of the model, the
// parameters and the outcome.
package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "jobshop.solver.v1.SolverService"
	// SolveMethod is the full method path of Solve.
	SolveMethod = "/" + ServiceName + "/Solve"
)

// SolverServiceServer is the server API of the solver service.
type SolverServiceServer interface {
	Solve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the solver service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SolverServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Solve",
			Handler:    solveHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jobshop/solver/v1/solver.proto",
}

// RegisterSolverServiceServer registers srv on s.
func RegisterSolverServiceServer(s grpc.ServiceRegistrar, srv SolverServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func solveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SolverServiceServer).Solve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SolveMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SolverServiceServer).Solve(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
