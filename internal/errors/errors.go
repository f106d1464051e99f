// Package errors provides structured error types for the Lakeshift system.
// All errors include a category, code, message, and retryable flag so the
// caller of a swap can tell which stage failed and whether re-running the
// job (or a single stage) can recover.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by swap stage or subsystem.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryVersioning ErrorCategory = "VERSIONING"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryProcessor  ErrorCategory = "PROCESSOR"
	ErrCategoryReconcile  ErrorCategory = "RECONCILE"
	ErrCategoryFlip       ErrorCategory = "FLIP"
	ErrCategoryCleanup    ErrorCategory = "CLEANUP"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeInvalidPartitionKey = "INVALID_PARTITION_KEY"
	CodeSwapInFlight        = "SWAP_IN_FLIGHT"

	// Versioning codes
	CodeMalformedVersionPath = "MALFORMED_VERSION_PATH"

	// Catalog codes
	CodeRequestFailed      = "REQUEST_FAILED"
	CodeDatabaseNotFound   = "DATABASE_NOT_FOUND"
	CodeBatchLimitExceeded = "BATCH_LIMIT_EXCEEDED"

	// Processor codes
	CodeMaterializeFailed = "MATERIALIZE_FAILED"

	// Reconcile codes
	CodePartialReconciliation = "PARTIAL_RECONCILIATION"

	// Flip codes
	CodeFlipFailed = "FLIP_FAILED"

	// Cleanup codes
	CodeStagingDeleteFailed = "STAGING_DELETE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// LakeshiftError is the structured error type used throughout the system.
type LakeshiftError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *LakeshiftError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *LakeshiftError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *LakeshiftError) Is(target error) bool {
	var t *LakeshiftError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new LakeshiftError.
func New(category ErrorCategory, code, message string) *LakeshiftError {
	return &LakeshiftError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new LakeshiftError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *LakeshiftError {
	return &LakeshiftError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *LakeshiftError) WithDetails(details map[string]interface{}) *LakeshiftError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var le *LakeshiftError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a LakeshiftError.
func GetCategory(err error) ErrorCategory {
	var le *LakeshiftError
	if errors.As(err, &le) {
		return le.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a LakeshiftError.
func GetCode(err error) string {
	var le *LakeshiftError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// isRetryable determines whether re-running can recover from an error code.
//
// A flip failure recovers by re-driving the flip from the surviving staging
// table. A processor failure recovers by a fresh attempt (the abandoned
// generation directory is scrubbed before reuse). A partial reconciliation
// leaves the target's partition index degraded and needs an operator, so it
// is not flagged retryable even though re-running reconciliation converges.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryCatalog && code == CodeRequestFailed:
		return true
	case category == ErrCategoryProcessor && code == CodeMaterializeFailed:
		return true
	case category == ErrCategoryFlip && code == CodeFlipFailed:
		return true
	case category == ErrCategoryCleanup && code == CodeStagingDeleteFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *LakeshiftError {
	return New(ErrCategoryValidation, code, message)
}

func NewVersioningError(message string, cause error) *LakeshiftError {
	return Wrap(ErrCategoryVersioning, CodeMalformedVersionPath, message, cause)
}

func NewCatalogError(code, message string, cause error) *LakeshiftError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewProcessorError(message string, cause error) *LakeshiftError {
	return Wrap(ErrCategoryProcessor, CodeMaterializeFailed, message, cause)
}

func NewReconcileError(message string, cause error) *LakeshiftError {
	return Wrap(ErrCategoryReconcile, CodePartialReconciliation, message, cause)
}

func NewFlipError(message string, cause error) *LakeshiftError {
	return Wrap(ErrCategoryFlip, CodeFlipFailed, message, cause)
}

func NewCleanupError(message string, cause error) *LakeshiftError {
	return Wrap(ErrCategoryCleanup, CodeStagingDeleteFailed, message, cause)
}

func NewInternalError(message string, cause error) *LakeshiftError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
