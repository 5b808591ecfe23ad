package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"

	"github.com/signalsfoundry/jobshop-planner/internal/logging"
	"github.com/signalsfoundry/jobshop-planner/internal/solver"
)

// Server serves a solver.Solver over gRPC.
type Server struct {
	solver solver.Solver
	log    logging.Logger
}

var _ SolverServiceServer = (*Server)(nil)

// NewServer wraps s.
func NewServer(s solver.Solver, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{solver: s, log: log}
}

// Solve decodes the model, runs the wrapped solver and encodes the outcome.
func (s *Server) Solve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = s.log
	}

	var in solveRequest
	if err := fromStruct(req, &in); err != nil {
		log.Warn(ctx, "rejecting solve request", logging.Err(err))
		return nil, ToStatusError(fmt.Errorf("%w: %v", ErrBadRequest, err))
	}
	if in.Model == nil {
		return nil, ToStatusError(fmt.Errorf("%w: model is required", ErrBadRequest))
	}

	sum := in.Model.Summary()
	log.Info(ctx, "solve request",
		logging.String("model", in.Model.Name),
		logging.Int("intervals", sum.Intervals),
		logging.Int("constraints", sum.Constraints),
		logging.Duration("time_budget", in.Params.TimeBudget),
	)

	out, err := s.solver.Solve(ctx, in.Model, in.Params)
	if err != nil {
		log.Warn(ctx, "solve failed", logging.Err(err))
		return nil, ToStatusError(err)
	}
	log.Info(ctx, "solve finished",
		logging.String("status", out.Status.String()),
		logging.Duration("wall_time", out.WallTime),
	)

	resp, err := toStruct(out)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return resp, nil
}

// NewGRPCServer builds a grpc.Server with OpenTelemetry instrumentation and
// the given interceptors, and registers s on it.
func NewGRPCServer(s *Server, interceptors ...grpc.UnaryServerInterceptor) *grpc.Server {
	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	RegisterSolverServiceServer(gs, s)
	return gs
}
