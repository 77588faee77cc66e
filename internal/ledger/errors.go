package ledger

import (
	"fmt"

	"stockline/backend/internal/domain"
	"stockline/backend/internal/store"
)

// ValidationError rejects an input before anything is written. It is never
// retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func invalid(field string, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConcurrencyConflictError is returned once every append attempt lost the race
// for the same stock key.
type ConcurrencyConflictError struct {
	StoreID  string
	SKU      string
	Attempts int
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrent stock update on %s/%s after %d attempts: %v", e.StoreID, e.SKU, e.Attempts, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error {
	if e.Err == nil {
		return store.ErrConcurrencyConflict
	}
	return e.Err
}

// StatusTransitionError reports a lifecycle move the ledger does not allow.
type StatusTransitionError struct {
	ID   string
	From domain.TransactionStatus
	To   domain.TransactionStatus
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("transaction %s cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *StatusTransitionError) Unwrap() error {
	return store.ErrInvalidTransaction
}
