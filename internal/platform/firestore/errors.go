package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/cart/internal/repositories"
)

// NotFound reports a document the caller found missing on its own, e.g. an owner
// pointer that references a deleted cart.
func NotFound(op, message string) error {
	return repositories.NewStoreError(op, repositories.StoreErrorNotFound, message, nil)
}

// Conflict reports a revision mismatch or a competing open cart.
func Conflict(op, message string) error {
	return repositories.NewStoreError(op, repositories.StoreErrorConflict, message, nil)
}

// WrapError classifies a Firestore failure by its gRPC code. Store errors raised inside
// a transaction body pass through untouched, and so do context cancellations.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		return err
	}

	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		return repositories.NewStoreError(op, repositories.StoreErrorNotFound, "document not found", err)
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return repositories.NewStoreError(op, repositories.StoreErrorConflict, "write contention", err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, "firestore unavailable", err)
	default:
		return repositories.NewStoreError(op, repositories.StoreErrorInternal, "", err)
	}
}
