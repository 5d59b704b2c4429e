package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standardized error envelope returned to clients.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error code, a human message, and the request id
// so a client can correlate a failure with server-side logs.
type ErrorDetail struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// NewErrorResponse builds a standardized error response.
func NewErrorResponse(code ErrorCode, message, requestID string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	}
}

// WriteJSON writes the error response as JSON using the status code the
// error's ErrorCode maps to.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Error.Code.HTTPStatus())
	json.NewEncoder(w).Encode(e)
}

// WriteError writes a standardized error response in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message, requestID string) {
	NewErrorResponse(code, message, requestID).WriteJSON(w)
}
