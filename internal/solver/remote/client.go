package remote

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
	"github.com/signalsfoundry/jobshop-planner/internal/logging"
	"github.com/signalsfoundry/jobshop-planner/internal/solver"
)

// DefaultGrace is added to the time budget when deriving the RPC deadline
// so the server can still return its best assignment.
const DefaultGrace = 2 * time.Second

// RunIDMetadataKey carries the planner run id to the service.
const RunIDMetadataKey = "x-run-id"

// Client calls a remote solver service. It implements solver.Solver.
type Client struct {
	conn  grpc.ClientConnInterface
	Grace time.Duration
}

var _ solver.Solver = (*Client)(nil)

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, Grace: DefaultGrace}
}

// Dial opens an instrumented plaintext connection to target.
func Dial(target string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn), conn, nil
}

// Solve sends m to the service. An expired deadline is reported as a
// timed-out outcome without assignment.
func (c *Client) Solve(ctx context.Context, m *cpmodel.Model, p solver.Params) (solver.Outcome, error) {
	started := time.Now()
	req, err := toStruct(solveRequest{Model: m, Params: p})
	if err != nil {
		return solver.Outcome{}, err
	}

	if p.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.TimeBudget+c.Grace)
		defer cancel()
	}
	if id := logging.RunIDFromContext(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, RunIDMetadataKey, id)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, SolveMethod, req, resp); err != nil {
		if status.Code(err) == codes.DeadlineExceeded {
			return solver.Outcome{
				Status:   solver.StatusTimedOut,
				WallTime: time.Since(started),
				Stats:    solver.Stats{Backend: "remote"},
			}, nil
		}
		return solver.Outcome{}, fromStatusError(err)
	}

	var out solver.Outcome
	if err := fromStruct(resp, &out); err != nil {
		return solver.Outcome{}, err
	}
	return out, nil
}
