package openaicompat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rhuss/parley/pkg/api"
)

// MapHTTPError converts a non-2xx backend response into an APIError. The
// body is parsed as a ChatErrorResponse when possible.
func MapHTTPError(resp *http.Response) *api.APIError {
	message := ExtractErrorMessage(resp.Body)
	code := fmt.Sprintf("status_%d", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		if message == "" {
			message = "invalid request to backend"
		}
		return api.NewInvalidRequestError("", message)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if message == "" {
			message = "backend authentication failed"
		}
		return api.NewConfigurationError("openai-key", message)

	case resp.StatusCode == http.StatusNotFound:
		if message == "" {
			message = "backend deployment not found"
		}
		return api.NewNotFoundError(message)

	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		if message == "" {
			message = "backend timed out"
		}
		return api.NewTimeoutError(message)

	default:
		if message == "" {
			message = fmt.Sprintf("backend error (HTTP %d)", resp.StatusCode)
		}
		return api.NewTransportError(code, message)
	}
}

// MapNetworkError converts a network-level error (connection refused,
// deadline, DNS failure) into an APIError.
func MapNetworkError(err error) *api.APIError {
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return api.NewTimeoutError(fmt.Sprintf("backend request timed out: %s", err.Error()))
	}
	return api.NewTransportError("connection", fmt.Sprintf("backend connection error: %s", err.Error()))
}

// ExtractErrorMessage tries to parse the body as a ChatErrorResponse and
// returns its message if found.
func ExtractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var errResp ChatErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}

	return ""
}
