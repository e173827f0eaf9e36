package models

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound          = status.Errorf(codes.NotFound, "not found")
	ErrUnauthorized      = status.Errorf(codes.Unauthenticated, "credential rejected")
	ErrTransient         = status.Errorf(codes.Unavailable, "upstream unavailable")
	ErrValidation        = status.Errorf(codes.InvalidArgument, "invalid argument")
	ErrOperationInFlight = status.Errorf(codes.Aborted, "operation already in flight")
)

// Code extracts the status code of err, looking through wrapping.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}
