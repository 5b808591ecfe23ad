package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/jobshop-planner/internal/logging"
)

// RunIDUnaryServerInterceptor adopts the caller's run id from metadata when
// present, or mints one, and attaches a logger annotated with it.
func RunIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RunIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithRunID(ctx, vals[0])
			}
		}

		ctx, runLog := logging.WithRunLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, runLog)

		return handler(ctx, req)
	}
}
