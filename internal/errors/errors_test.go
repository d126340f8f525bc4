package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	err := New(ErrCodeMemoryNotFound, "memory not found", nil)

	assert.Equal(t, ErrCodeMemoryNotFound, err.Code)
	assert.Equal(t, CategoryIO, err.Category)
	assert.Equal(t, SeverityError, err.Severity)
	assert.False(t, err.Retryable)
}

func TestNew_FatalCodes(t *testing.T) {
	err := New(ErrCodeIndexCorrupt, "index corrupt", nil)
	assert.True(t, IsFatal(err))
}

func TestNew_RetryableCodes(t *testing.T) {
	err := New(ErrCodeBusy, "busy", nil)
	assert.True(t, err.Retryable)
	assert.True(t, IsRetryable(err))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("disk write failed")
	wrapped := Wrap(ErrCodeDiskFull, cause)

	require.NotNil(t, wrapped)
	assert.Equal(t, cause, wrapped.Cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestMemError_Is_MatchesByCode(t *testing.T) {
	a := New(ErrCodeMemoryNotFound, "a", nil)
	b := New(ErrCodeMemoryNotFound, "b", nil)
	c := New(ErrCodeStaleWrite, "c", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWithDetail_Chains(t *testing.T) {
	err := New(ErrCodeInvalidInput, "bad field", nil).
		WithDetail("field", "title").
		WithDetail("reason", "too long")

	assert.Equal(t, "title", err.Details["field"])
	assert.Equal(t, "too long", err.Details["reason"])
}

func TestNotFound(t *testing.T) {
	err := NotFound("mem-123", nil)
	assert.Equal(t, ErrCodeMemoryNotFound, err.Code)
	assert.Equal(t, "mem-123", err.Details["memory_id"])
}

func TestConflict(t *testing.T) {
	err := Conflict("mem-123", nil)
	assert.Equal(t, ErrCodeStaleWrite, err.Code)
}

func TestDegradedWrite_IsWarning(t *testing.T) {
	err := DegradedWrite(errors.New("index write failed"))
	assert.Equal(t, SeverityWarning, err.Severity)
}

func TestGetCode_NonMemError(t *testing.T) {
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestGetCategory_NonMemError(t *testing.T) {
	assert.Equal(t, Category(""), GetCategory(errors.New("plain")))
}
