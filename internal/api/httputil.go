package api

import (
	"encoding/json"
	"net/http"

	"github.com/rucat-project/rucat/internal/apierr"
	"github.com/rucat-project/rucat/pkg/logger"
)

// ErrorResponse is the uniform JSON envelope every failed request returns,

type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id"`
}

// writeJSON marshals v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to an HTTP status and the ErrorResponse envelope.
// ResourceError should never reach here (the monitor consumes it directly);
// if it somehow does, it is treated as an internal error rather than leaked
// verbatim.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := logger.TraceID(r.Context())
	apiErr, ok := apierr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Code: "INTERNAL", Message: "internal error", TraceID: traceID,
		})
		return
	}
	status := apiErr.HTTPStatus
	if apiErr.Code == apierr.CodeResourceError || status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("X-Trace-ID", traceID)
	writeJSON(w, status, ErrorResponse{
		Code:    string(apiErr.Code),
		Message: apiErr.Message,
		Details: apiErr.Details,
		TraceID: traceID,
	})
}
