package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"dispatch/internal/repository"
	"dispatch/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
// Unexpected errors are logged with context and surfaced as an opaque 500.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("internal error")
		c.JSON(code, ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidPassenger),
		errors.Is(err, service.ErrInvalidPickupLocation),
		errors.Is(err, service.ErrInvalidDestinationLocation),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidEstimate),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidDriver),
		errors.Is(err, service.ErrInvalidActor):
		return http.StatusBadRequest

	// Business-state conflicts
	case errors.Is(err, service.ErrRideNotPending),
		errors.Is(err, service.ErrRideNotAccepted),
		errors.Is(err, service.ErrRideNotInProgress),
		errors.Is(err, service.ErrRideFinished),
		errors.Is(err, service.ErrDriverMismatch):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
