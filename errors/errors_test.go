package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelWrapping(t *testing.T) {
	err := Wrap(ErrNotFound, "job job_abc123")
	assert.True(t, Is(err, ErrNotFound))
	assert.False(t, Is(err, ErrInvalidRequest))
	assert.Contains(t, err.Error(), "job_abc123")
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(New("some other error")))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(NewNotFoundf("job %s", "job_xyz")))
}

func TestIsInvalidStatus(t *testing.T) {
	err := Wrapf(ErrInvalidStatus, "cannot approve job in status %q", "active")
	require.Error(t, err)
	assert.True(t, IsInvalidStatus(err))
	assert.Contains(t, err.Error(), "active")
}

func TestWrapPreservesChain(t *testing.T) {
	inner := New("disk full")
	outer := Wrap(Wrap(inner, "rewrite failed"), "save job")
	assert.True(t, Is(outer, inner))
}
