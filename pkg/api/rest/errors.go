package rest

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/observability"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeError maps domain errors onto HTTP. The short label goes in
// "error", the underlying message in "details". Unclassified errors
// also land on the request span.
func writeError(c echo.Context, err error) error {
	status, label := classify(err)
	if status >= http.StatusInternalServerError {
		observability.SetSpanError(c.Request().Context(), err)
	}
	return c.JSON(status, errorResponse{Error: label, Details: err.Error()})
}

// writeVersionError is writeError with the version-lookup 404 label.
func writeVersionError(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "Version not found", Details: err.Error()})
	}
	return writeError(c, err)
}

func classify(err error) (int, string) {
	var (
		transition   *domain.InvalidStateTransitionError
		invalidState *domain.InvalidStateError
		mismatch     *domain.VersionMismatchError
	)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Spec not found"
	case errors.As(err, &transition):
		return http.StatusBadRequest, "Invalid state transition"
	case errors.As(err, &invalidState):
		return http.StatusBadRequest, "Invalid operation for current state"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "Validation failed"
	case errors.As(err, &mismatch):
		return http.StatusConflict, "Version mismatch"
	case errors.Is(err, domain.ErrDuplicateName):
		return http.StatusConflict, "Spec name already exists"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "Concurrent modification"
	}
	return http.StatusInternalServerError, "Internal server error"
}
