package remote

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
	"github.com/signalsfoundry/jobshop-planner/internal/solver/engine"
)

// ErrBadRequest is used when a request payload cannot be decoded.
var ErrBadRequest = errors.New("bad request")

// ToStatusError maps solver errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, cpmodel.ErrInvalidModel):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, engine.ErrUnsupportedModel):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatusError restores the sentinel behind a status so callers can keep
// using errors.Is on the client side.
func fromStatusError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", cpmodel.ErrInvalidModel, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", engine.ErrUnsupportedModel, st.Message())
	default:
		return fmt.Errorf("remote solver: %w", err)
	}
}
