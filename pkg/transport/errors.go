package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rhuss/parley/pkg/api"
)

// HTTPStatusFromError maps an error type to an HTTP status.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case api.ErrorTypeTransport:
		return http.StatusBadGateway
	case api.ErrorTypeConfiguration, api.ErrorTypeDispatch, api.ErrorTypeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AsAPIError returns the APIError wrapped by err. Context errors become
// timeouts and anything else a server error.
func AsAPIError(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return api.NewTimeoutError(err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return api.NewServerError("request cancelled")
	}
	return api.NewServerError(err.Error())
}

// WriteErrorResponse writes an api.ErrorResponse with the given status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteError writes err with the status derived from its type.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := AsAPIError(err)
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
