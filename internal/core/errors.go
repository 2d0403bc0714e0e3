package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports bad input: non-positive quantities, unknown enum
// values, missing required fields. The message is meant for display.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationErrorf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError means the operation would drive available or
// current stock below what the ledger allows.
type InsufficientStockError struct {
	Key       StockKey
	Available decimal.Decimal
	Requested decimal.Decimal
	Reason    string
}

func (e *InsufficientStockError) Error() string {
	msg := fmt.Sprintf("insufficient stock for %s: available %s, requested %s",
		e.Key, e.Available.String(), e.Requested.String())
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// NotFoundError reports an unknown product, location, organization or inventory row.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConcurrencyTimeoutError is returned when the per-key lock could not be
// acquired in time. Callers may retry.
type ConcurrencyTimeoutError struct {
	Key StockKey
	Err error
}

func (e *ConcurrencyTimeoutError) Error() string {
	if e.Key == (StockKey{}) {
		return fmt.Sprintf("timed out waiting for stock lock: %v", e.Err)
	}
	return fmt.Sprintf("timed out waiting for stock lock on %s: %v", e.Key, e.Err)
}

func (e *ConcurrencyTimeoutError) Unwrap() error { return e.Err }

// IntegrityError is fatal: the cached row disagrees with the ledger. The
// offending unit of work is rolled back and nothing is repaired.
type IntegrityError struct {
	Key       StockKey
	Cached    decimal.Decimal
	LedgerSum decimal.Decimal
	Operation string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation on %s during %s: cached current_stock %s, ledger sum %s",
		e.Key, e.Operation, e.Cached.String(), e.LedgerSum.String())
}

// IsRetryable reports whether err is a transient lock timeout.
func IsRetryable(err error) bool {
	var te *ConcurrencyTimeoutError
	return errors.As(err, &te)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInsufficientStock reports whether err is an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var ie *InsufficientStockError
	return errors.As(err, &ie)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsIntegrity reports whether err is an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
