package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	memerrors "github.com/NewTurn2017/oc-memory/internal/errors"
)

func TestMapError_NotFoundMapsToMemoryNotFoundCode(t *testing.T) {
	err := MapError(memerrors.NotFound("abc", nil))
	assert.Equal(t, ErrCodeMemoryNotFound, err.Code)
}

func TestMapError_BusyMapsToBusyCode(t *testing.T) {
	err := MapError(memerrors.Busy(nil))
	assert.Equal(t, ErrCodeBusy, err.Code)
}

func TestMapError_InvalidInputMapsToInvalidParams(t *testing.T) {
	err := MapError(memerrors.InvalidInput("bad", nil))
	assert.Equal(t, ErrCodeInvalidParams, err.Code)
}

func TestMapError_UnknownErrorMapsToInternal(t *testing.T) {
	err := MapError(assertErr("boom"))
	assert.Equal(t, ErrCodeInternalError, err.Code)
}

func TestMapError_NilReturnsNil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
