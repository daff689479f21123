// Package errors provides the categorised error type shared by the
// benchmark engine, the report store and the comparator.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies an error by the phase that produced it.
type Category string

const (
	CategoryConfig         Category = "CONFIG"
	CategoryOperation      Category = "OPERATION"
	CategoryClassification Category = "CLASSIFICATION"
	CategoryMetaMismatch   Category = "META_MISMATCH"
	CategoryInvariant      Category = "INVARIANT"
	CategoryStorage        Category = "STORAGE"
	CategoryInternal       Category = "INTERNAL"
)

const (
	// Config codes
	CodeInvalidSpec      = "INVALID_SPEC"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeUnsupportedValue = "UNSUPPORTED_VALUE"

	// Operation codes
	CodeWriteFailed  = "WRITE_FAILED"
	CodeQueryFailed  = "QUERY_FAILED"
	CodeDeleteFailed = "DELETE_FAILED"
	CodeTimeout      = "TIMEOUT"

	// Comparison codes
	CodeUnknownReportType = "UNKNOWN_REPORT_TYPE"
	CodeMetaNotEqual      = "META_NOT_EQUAL"
	CodePointsRemain      = "POINTS_REMAIN"
	CodeMissingRunID      = "MISSING_RUN_ID"
	CodeRegression        = "REGRESSION"

	// Storage codes
	CodeReadFailed  = "READ_FAILED"
	CodeWriteReport = "WRITE_REPORT_FAILED"
	CodeNotFound    = "NOT_FOUND"

	CodeUnexpected = "UNEXPECTED"
)

// BenchError is the structured error used across the module.
type BenchError struct {
	Category  Category
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

func (e *BenchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

func (e *BenchError) Unwrap() error {
	return e.Cause
}

// Is matches on category and code so sentinel-style comparisons work.
func (e *BenchError) Is(target error) bool {
	var t *BenchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of the error carrying details.
func (e *BenchError) WithDetails(details map[string]interface{}) *BenchError {
	cp := *e
	cp.Details = details
	return &cp
}

func New(category Category, code, message string) *BenchError {
	return &BenchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

func Wrap(category Category, code, message string, cause error) *BenchError {
	return &BenchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

func IsRetryable(err error) bool {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// GetCategory returns the category of the first BenchError in the chain,
// or the empty string.
func GetCategory(err error) Category {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

func GetCode(err error) string {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	return GetCategory(err) == CategoryConfig
}

func isRetryable(category Category, code string) bool {
	switch {
	case category == CategoryOperation && code == CodeTimeout:
		return true
	case category == CategoryOperation && code == CodeWriteFailed:
		return true
	default:
		return false
	}
}

func NewConfigError(code, message string) *BenchError {
	return New(CategoryConfig, code, message)
}

// ConfigErrorf builds an INVALID_SPEC config error.
func ConfigErrorf(format string, args ...interface{}) *BenchError {
	return New(CategoryConfig, CodeInvalidSpec, fmt.Sprintf(format, args...))
}

func NewOperationFailure(code, message string, cause error) *BenchError {
	return Wrap(CategoryOperation, code, message, cause)
}

func NewClassificationError(file string) *BenchError {
	return New(CategoryClassification, CodeUnknownReportType, "cannot classify report "+file)
}

func NewMetaMismatchError(key string, base, new interface{}) *BenchError {
	return New(CategoryMetaMismatch, CodeMetaNotEqual,
		fmt.Sprintf("meta mismatch on '%s': base=%v, new=%v", key, base, new))
}

func NewInvariantViolation(code, message string) *BenchError {
	return New(CategoryInvariant, code, message)
}

func NewStorageError(code, message string, cause error) *BenchError {
	return Wrap(CategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *BenchError {
	return Wrap(CategoryInternal, CodeUnexpected, message, cause)
}
