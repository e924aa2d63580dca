package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/cart/internal/platform/requestctx"
)

const (
	headerRequestID = "X-Request-ID"
	headerTraceID   = "X-Trace-ID"
)

// Envelope is the body shape shared by every response.
type Envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    any          `json:"data,omitempty"`
	Errors  []ErrorEntry `json:"errors,omitempty"`
}

// ErrorEntry describes a single failure. Stock failures fill Requested and Available.
type ErrorEntry struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	ItemID    string `json:"itemId,omitempty"`
	ProductID string `json:"productId,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

// Error is a failed response ready to be written.
type Error struct {
	Status  int
	Message string
	Entries []ErrorEntry
}

// NewError constructs an error response with a single entry.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message = sanitize(message, 512)
	return Error{
		Status:  status,
		Message: message,
		Entries: []ErrorEntry{{Code: sanitize(code, 80), Message: message}},
	}
}

// WithEntries replaces the error entries, keeping the top-level message.
func (e Error) WithEntries(entries ...ErrorEntry) Error {
	if len(entries) == 0 {
		return e
	}
	e.Entries = append([]ErrorEntry(nil), entries...)
	return e
}

// WriteSuccess writes a successful envelope carrying data.
func WriteSuccess(ctx context.Context, w http.ResponseWriter, status int, message string, data any) {
	if status == 0 {
		status = http.StatusOK
	}
	WriteEnvelope(ctx, w, status, Envelope{Success: true, Message: message, Data: data})
}

// WriteError writes the failure envelope.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteEnvelope(ctx, w, status, Envelope{Success: false, Message: err.Message, Errors: err.Entries})
}

// WriteEnvelope writes body as-is, stamping the request and trace ids.
func WriteEnvelope(ctx context.Context, w http.ResponseWriter, status int, body Envelope) {
	if id := sanitize(middleware.GetReqID(ctx), 80); id != "" {
		w.Header().Set(headerRequestID, id)
	}
	if traceID := sanitize(requestctx.TraceID(ctx), 64); traceID != "" {
		w.Header().Set(headerTraceID, traceID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
