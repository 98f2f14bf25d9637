package dataapi

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/logger"
)

// toStatus maps domain errors to gRPC status codes. Unknown errors become
// Internal and their text stays in the server log.
func toStatus(ctx context.Context, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, experiment.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, experiment.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, experiment.ErrInvalidExperimentState):
		code = codes.FailedPrecondition
	case errors.Is(err, experiment.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, experiment.ErrNotAuthorized):
		code = codes.PermissionDenied
	case errors.Is(err, experiment.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		logger.FromContext(ctx).Error("request failed", slog.String("error", err.Error()))
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
