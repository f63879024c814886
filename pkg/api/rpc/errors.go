package rpc

import (
	"errors"

	"connectrpc.com/connect"

	"github.com/navicore/spec-service/pkg/domain"
)

// connectError maps domain errors onto Connect codes. Typed errors are
// matched before the sentinel categories they would otherwise fall
// into.
func connectError(err error) *connect.Error {
	var (
		transition *domain.InvalidStateTransitionError
		state      *domain.InvalidStateError
		mismatch   *domain.VersionMismatchError
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.As(err, &transition), errors.As(err, &state):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, domain.ErrValidation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.As(err, &mismatch):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, domain.ErrDuplicateName):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return connect.NewError(connect.CodeAborted, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
