package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestLakeshiftError_Error(t *testing.T) {
	err := New(ErrCategoryFlip, CodeFlipFailed, "update table failed")
	expected := "[FLIP:FLIP_FAILED] update table failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestLakeshiftError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryCatalog, CodeRequestFailed, "get table failed", cause)
	expected := "[CATALOG:REQUEST_FAILED] get table failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestLakeshiftError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryReconcile, CodePartialReconciliation, "batch delete failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestLakeshiftError_Is(t *testing.T) {
	err1 := New(ErrCategoryFlip, CodeFlipFailed, "first")
	err2 := New(ErrCategoryFlip, CodeFlipFailed, "second")
	err3 := New(ErrCategoryCleanup, CodeStagingDeleteFailed, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryCatalog, CodeRequestFailed, true},
		{ErrCategoryCatalog, CodeDatabaseNotFound, false},
		{ErrCategoryProcessor, CodeMaterializeFailed, true},
		{ErrCategoryFlip, CodeFlipFailed, true},
		{ErrCategoryCleanup, CodeStagingDeleteFailed, true},
		{ErrCategoryReconcile, CodePartialReconciliation, false},
		{ErrCategoryVersioning, CodeMalformedVersionPath, false},
		{ErrCategoryValidation, CodeInvalidConfig, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategory(t *testing.T) {
	err := New(ErrCategoryVersioning, CodeMalformedVersionPath, "bad location")
	if GetCategory(err) != ErrCategoryVersioning {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryVersioning)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-LakeshiftError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := New(ErrCategoryVersioning, CodeMalformedVersionPath, "bad location")
	if GetCode(err) != CodeMalformedVersionPath {
		t.Errorf("got %q, want %q", GetCode(err), CodeMalformedVersionPath)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-LakeshiftError should return empty code")
	}
}

func TestGetCategory_Wrapped(t *testing.T) {
	inner := New(ErrCategoryFlip, CodeFlipFailed, "update rejected")
	outer := fmt.Errorf("swap attempt 2: %w", inner)
	if GetCategory(outer) != ErrCategoryFlip {
		t.Error("category should be found through fmt.Errorf wrapping")
	}
	if !IsRetryable(outer) {
		t.Error("retryable flag should be found through fmt.Errorf wrapping")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryReconcile, CodePartialReconciliation, "delete batch failed")
	detailed := err.WithDetails(map[string]interface{}{"deleted": 25, "remaining": 50})

	if detailed.Details["deleted"] != 25 {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify the original error")
	}
}
