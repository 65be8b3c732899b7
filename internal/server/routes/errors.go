package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loomgraph/loom/pkg/common"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the store and query error taxonomy to HTTP status
// codes. Anything outside the taxonomy is an internal error and the
// detail stays out of the response body.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, common.ErrAlreadyExists),
		errors.Is(err, common.ErrConcurrentBuild),
		errors.Is(err, common.ErrGraphNotReady):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, common.ErrValidation):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}
