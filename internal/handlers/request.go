package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanko-field/cart/internal/platform/auth"
	"github.com/hanko-field/cart/internal/platform/httpx"
	"github.com/hanko-field/cart/internal/platform/observability"
	"github.com/hanko-field/cart/internal/services"
)

const maxCartBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// requireIdentity returns the caller identity or writes a 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads a JSON object into dst. Empty bodies are accepted when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxCartBodySize)
	switch {
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

// writeCartError maps a service error onto the response envelope. Only the kind decides the
// status; the code and item context come from the typed error.
func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrCartValidation),
		errors.Is(err, services.ErrCartStock),
		errors.Is(err, services.ErrCartState):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrCartNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrCartForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrCartConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrCartUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	cartErr, ok := services.AsCartError(err)
	if !ok {
		observability.FromContext(ctx).Error("cart request failed", zap.Error(err))
		code := services.CodeInternal
		message := "internal error"
		if status == http.StatusServiceUnavailable {
			code = "request_cancelled"
			message = "request was cancelled"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
		return
	}

	if status >= http.StatusInternalServerError {
		observability.FromContext(ctx).Error("cart request failed", zap.Error(err))
	}

	message := cartErr.Message
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	httpErr := httpx.NewError(cartErr.Code, message, status)
	if entries := cartErrorEntries(cartErr); len(entries) > 0 {
		httpErr = httpErr.WithEntries(entries...)
	}
	httpx.WriteError(ctx, w, httpErr)
}

func cartErrorEntries(err *services.CartError) []httpx.ErrorEntry {
	if len(err.Issues) > 0 {
		entries := make([]httpx.ErrorEntry, 0, len(err.Issues))
		for _, issue := range err.Issues {
			entries = append(entries, issueEntry(issue))
		}
		return entries
	}
	entry := httpx.ErrorEntry{
		Code:      err.Code,
		Message:   err.Message,
		Field:     err.Field,
		ItemID:    err.ItemID,
		ProductID: err.ProductID,
	}
	if errors.Is(err, services.ErrCartStock) {
		requested, available := err.Requested, err.Available
		entry.Requested = &requested
		entry.Available = &available
	}
	if entry.Message == "" {
		entry.Message = err.Code
	}
	return []httpx.ErrorEntry{entry}
}

func issueEntry(issue services.CartIssue) httpx.ErrorEntry {
	entry := httpx.ErrorEntry{
		Code:      issue.Code,
		Message:   issue.Message,
		ItemID:    issue.ItemID,
		ProductID: issue.ProductID,
	}
	if issue.Code == services.CodeInsufficientStock || issue.Code == services.CodeOutOfStock {
		requested, available := issue.Requested, issue.Available
		entry.Requested = &requested
		entry.Available = &available
	}
	return entry
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}
