package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBenchError_Error(t *testing.T) {
	err := New(CategoryConfig, CodeInvalidSpec, "tag cardinality must be >= 1")
	assert.Equal(t, "[CONFIG:INVALID_SPEC] tag cardinality must be >= 1", err.Error())
}

func TestBenchError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CategoryOperation, CodeWriteFailed, "write batch", cause)
	assert.Equal(t, "[OPERATION:WRITE_FAILED] write batch: connection refused", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestBenchError_Is(t *testing.T) {
	a := NewConfigError(CodeInvalidSpec, "first")
	b := NewConfigError(CodeInvalidSpec, "second")
	c := NewConfigError(CodeUnsupportedValue, "other")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestGetCategoryThroughWrapping(t *testing.T) {
	inner := ConfigErrorf("bad precision %q", "us")
	outer := fmt.Errorf("load scenario: %w", inner)

	assert.Equal(t, CategoryConfig, GetCategory(outer))
	assert.Equal(t, CodeInvalidSpec, GetCode(outer))
	assert.True(t, IsConfig(outer))
	assert.False(t, IsConfig(fmt.Errorf("plain")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{NewOperationFailure(CodeTimeout, "t", nil), true},
		{NewOperationFailure(CodeWriteFailed, "w", nil), true},
		{NewOperationFailure(CodeQueryFailed, "q", nil), false},
		{NewConfigError(CodeInvalidSpec, "c"), false},
		{fmt.Errorf("plain"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.retryable, IsRetryable(tt.err), tt.err.Error())
	}
}

func TestWithDetailsCopies(t *testing.T) {
	base := NewMetaMismatchError("bucket", "a", "b")
	withDetails := base.WithDetails(map[string]interface{}{"file": "write-smoke.json"})

	assert.Nil(t, base.Details)
	assert.Equal(t, "write-smoke.json", withDetails.Details["file"])
	assert.Contains(t, base.Error(), "meta mismatch on 'bucket'")
}
