package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// Error is the JSON error envelope:
// {"error": code, "message", "status", "request_id", "trace_id"} plus any details.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an envelope; a zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, maxCodeLen),
		Message: singleLine(message, maxMessageLen),
		Status:  status,
	}
}

func (e Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// WithDetails returns a copy of e carrying extra top-level fields.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError renders err. Request and trace ids fall back to the ones on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RequestID == "" {
		err.RequestID = singleLine(middleware.GetReqID(ctx), maxIDLen)
	}
	if err.TraceID == "" {
		err.TraceID = singleLine(requestctx.TraceID(ctx), maxIDLen)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err.envelope())
}

func (e Error) envelope() map[string]any {
	body := make(map[string]any, 5+len(e.Details))
	// details never override the fixed fields
	for k, v := range e.Details {
		body[k] = v
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	if e.RequestID != "" {
		body["request_id"] = e.RequestID
	}
	if e.TraceID != "" {
		body["trace_id"] = e.TraceID
	}
	return body
}

func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, value))
	if len(value) <= limit {
		return value
	}
	value = value[:limit]
	for !utf8.ValidString(value) {
		value = value[:len(value)-1]
	}
	return value
}
