// respond.go — JSON response and error envelope helpers.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/tubetext/tubetext/internal/model"
)

// Error codes surfaced in the error envelope and the X-Error-Code header.
const (
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeInvalidVideoID     = "INVALID_VIDEO_ID"
	CodeSubtitleNotFound   = "SUBTITLE_NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInvalidRequest     = "INVALID_REQUEST"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the envelope for every non-2xx response.
type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Hint      string         `json:"hint,omitempty"`
	RequestID string         `json:"request_id"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type apiError struct {
	Status  int
	Code    string
	Message string
	Hint    string
	Meta    map[string]any
}

func writeError(w http.ResponseWriter, r *http.Request, e apiError) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Error-Code", e.Code)
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": {
		Code:      e.Code,
		Message:   e.Message,
		Hint:      e.Hint,
		RequestID: RequestID(r.Context()),
		Meta:      e.Meta,
		Timestamp: model.UTCNowISO(),
	}})
}

func badRequest(w http.ResponseWriter, r *http.Request, code, message string) {
	writeError(w, r, apiError{Status: http.StatusBadRequest, Code: code, Message: message})
}

func internalError(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, apiError{Status: http.StatusInternalServerError, Code: CodeInternalError, Message: message})
}
