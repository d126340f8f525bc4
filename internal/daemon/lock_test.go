package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceLock_AcquireThenRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ocmemory.lock")
	l := NewInstanceLock(path)

	require.NoError(t, l.Acquire())
	assert.True(t, l.Locked())
	require.NoError(t, l.Release())
}

func TestInstanceLock_SecondAcquireFailsWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ocmemory.lock")

	first := NewInstanceLock(path)
	require.NoError(t, first.Acquire())
	defer first.Release()

	second := NewInstanceLock(path)
	err := second.Acquire()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestInstanceLock_ReacquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ocmemory.lock")

	first := NewInstanceLock(path)
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())

	second := NewInstanceLock(path)
	require.NoError(t, second.Acquire())
	defer second.Release()
}
