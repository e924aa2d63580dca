package repositories

import "fmt"

// StoreErrorCode enumerates the repository failure categories shared by every cart store.
type StoreErrorCode string

const (
	// StoreErrorNotFound indicates the requested record does not exist.
	StoreErrorNotFound StoreErrorCode = "not_found"
	// StoreErrorConflict indicates a stale revision or a duplicate open cart.
	StoreErrorConflict StoreErrorCode = "conflict"
	// StoreErrorUnavailable indicates the backend could not be reached.
	StoreErrorUnavailable StoreErrorCode = "unavailable"
	// StoreErrorInternal covers failures with no better classification.
	StoreErrorInternal StoreErrorCode = "internal"
)

// StoreError implements RepositoryError for the Firestore, Mongo and in-memory stores.
type StoreError struct {
	Op      string
	Code    StoreErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Code == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Code == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Code == StoreErrorUnavailable }

// NewStoreError constructs a typed store error.
func NewStoreError(op string, code StoreErrorCode, message string, err error) *StoreError {
	return &StoreError{Op: op, Code: code, Message: message, Err: err}
}
