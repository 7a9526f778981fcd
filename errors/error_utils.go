// Package errors provides utilities for categorizing and handling errors in the chain state core.
package errors

import (
	"context"
	"errors"
)

// IsValidationError reports whether err rejects a block or transaction on consensus
// grounds. Such errors are final for the offending block and are never retried.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		switch tErr.Code() {
		case ERR_BLOCK_INVALID,
			ERR_CHAIN_MISMATCH,
			ERR_TX_INVALID,
			ERR_TX_INVALID_DOUBLE_SPEND,
			ERR_SCRIPT_INVALID,
			ERR_SCRIPT_FATAL,
			ERR_SPENT,
			ERR_UTXO_NOT_FOUND,
			ERR_UTXO_OUT_OF_RANGE:
			return true
		}

		// a validation error may be wrapped in a processing error
		if tErr.WrappedErr() != nil {
			return IsValidationError(tErr.WrappedErr())
		}
	}

	return false
}

// IsMissingDataError reports whether err was caused by a block body or header that
// the block source could not supply.
func IsMissingDataError(err error) bool {
	if err == nil {
		return false
	}

	return Is(err, ErrMissingData) || Is(err, ErrBlockNotFound)
}

// IsRetryableError determines if an error is transient and the operation should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check if context was cancelled - not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		switch tErr.Code() {
		case ERR_STORAGE_UNAVAILABLE,
			ERR_MISSING_DATA,
			ERR_TARGET_SUPERSEDED:
			return true
		}
	}

	return false
}

// IsContextError determines if an error is related to context cancellation or deadline.
func IsContextError(err error) bool {
	if err == nil {
		return false
	}

	// Check standard context errors
	if err == context.Canceled || err == context.DeadlineExceeded {
		return true
	}

	var tErr *Error
	if As(err, &tErr) {
		if tErr.Code() == ERR_CONTEXT_CANCELED || tErr.Code() == ERR_CONTEXT {
			return true
		}
	}

	// Check if the wrapped error is a context error
	if Is(err, context.Canceled) || Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// GetErrorCategory returns a string representing the category of the error.
// This is useful for logging and metrics labels.
func GetErrorCategory(err error) string {
	if err == nil {
		return "none"
	}

	if IsContextError(err) {
		return "context"
	}

	var tErr *Error
	if As(err, &tErr) {
		// Group by error code ranges
		code := tErr.Code()
		switch {
		case code >= 10 && code <= 19:
			return "block"
		case code >= 30 && code <= 39:
			return "transaction"
		case code >= 40 && code <= 49:
			return "script"
		case code >= 60 && code <= 69:
			return "storage"
		case code >= 70 && code <= 79:
			return "utxo"
		}
	}

	return "unknown"
}
