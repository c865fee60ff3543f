package command

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zero-day-ai/gami/model"
)

// ToStatus translates store errors into gRPC status errors. Errors that
// already carry a status are returned unchanged.
//
//	model.ErrNotFound         -> codes.NotFound
//	model.ErrDuplicateUUID    -> codes.AlreadyExists
//	model.ErrInvalidReference -> codes.FailedPrecondition
//	model.ErrParentChanged    -> codes.InvalidArgument
//	model.ErrInvalidUUID      -> codes.InvalidArgument
//	anything else             -> codes.Internal
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, model.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, model.ErrDuplicateUUID):
		code = codes.AlreadyExists
	case errors.Is(err, model.ErrInvalidReference):
		code = codes.FailedPrecondition
	case errors.Is(err, model.ErrParentChanged), errors.Is(err, model.ErrInvalidUUID):
		code = codes.InvalidArgument
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
