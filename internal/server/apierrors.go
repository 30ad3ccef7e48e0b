package server

import (
	"fmt"
	"net/http"
)

// APIError is an error returned by the API, serialized as JSON.
type APIError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`

	httpStatus int
}

// Errors returned by the API
var (
	errInvalidBody      = NewAPIError("invalid_body", http.StatusBadRequest, "Invalid request body")
	errInvalidParameter = NewAPIError("invalid_parameter", http.StatusBadRequest, "Invalid request parameter")
	errCommandNotFound  = NewAPIError("command_not_found", http.StatusNotFound, "Command not found")
	errCommandFailed    = NewAPIError("command_failed", http.StatusUnprocessableEntity, "Command exited with a non-zero code")
	errQueueClosed      = NewAPIError("queue_closed", http.StatusServiceUnavailable, "Server is shutting down")
	errRequestTimeout   = NewAPIError("request_timeout", http.StatusGatewayTimeout, "Timed out waiting for the command to complete")
	errCommandTimeout   = NewAPIError("request_timeout", http.StatusGatewayTimeout, "Command timed out")
	errInternal         = NewAPIError("internal", http.StatusInternalServerError, "Internal error")
)

// NewAPIError returns a new APIError.
func NewAPIError(code string, httpStatus int, message string) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		httpStatus: httpStatus,
	}
}

// StatusCode returns the HTTP status code for the error.
func (e APIError) StatusCode() int {
	return e.httpStatus
}

// WriteResponse writes the error as a JSON response.
func (e APIError) WriteResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(e.httpStatus)

	RespondWithJSON(w, r, e)
}

// WithMetadata returns a copy of the error with the metadata added.
func (e APIError) WithMetadata(kv ...any) *APIError {
	cloned := e
	cloned.Metadata = make(map[string]any, len(e.Metadata)+len(kv)/2)
	for k, v := range e.Metadata {
		cloned.Metadata[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		cloned.Metadata[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return &cloned
}

// Error implements the error interface.
func (e APIError) Error() string {
	return fmt.Sprintf("API error (%s): %s", e.Code, e.Message)
}

// Is returns true if target is an APIError with the same code.
func (e APIError) Is(target error) bool {
	switch t := target.(type) {
	case *APIError:
		return t != nil && t.Code == e.Code
	case APIError:
		return t.Code == e.Code
	default:
		return false
	}
}
