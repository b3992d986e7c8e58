package arena

import (
	"testing"

	"github.com/ringbus/ringbus/internal/xerror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveCommitRelease(t *testing.T) {
	a := New(make([]byte, 16))

	span, err := a.Reserve(8)
	require.NoError(t, err)
	assert.Equal(t, 0, span.Start())
	assert.Equal(t, 16, span.Capacity())

	require.NoError(t, a.Commit(&span, 8))
	assert.Equal(t, 8, span.Committed())
	a.Release(span)
	assert.False(t, a.InUse())
}

func TestReserveWhileBusyFails(t *testing.T) {
	a := New(make([]byte, 16))
	_, err := a.Reserve(4)
	require.NoError(t, err)

	_, err = a.Reserve(4)
	assert.True(t, xerror.Is(err, xerror.KindArenaBusy))
}

func TestReserveTooLarge(t *testing.T) {
	a := New(make([]byte, 16))
	_, err := a.Reserve(17)
	assert.True(t, xerror.Is(err, xerror.KindTooLarge))
}

func TestOvercommit(t *testing.T) {
	a := New(make([]byte, 16))
	span, err := a.Reserve(8)
	require.NoError(t, err)

	err = a.Commit(&span, 17)
	assert.True(t, xerror.Is(err, xerror.KindOvercommit))
}

func TestWrapsWhenTailTooSmall(t *testing.T) {
	a := New(make([]byte, 16))

	span, err := a.Reserve(10)
	require.NoError(t, err)
	require.NoError(t, a.Commit(&span, 10))
	a.Release(span)

	// Only 6 bytes remain contiguous; requesting 8 forces a wrap to 0.
	span, err = a.Reserve(8)
	require.NoError(t, err)
	assert.Equal(t, 0, span.Start())
	assert.Equal(t, 16, span.Capacity())
	a.Release(span)
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := New(make([]byte, 16))
	span, err := a.Reserve(4)
	require.NoError(t, err)
	a.Release(span)
	a.Release(span) // no panic, no-op
	assert.False(t, a.InUse())
}

func TestUnlockReportsPriorState(t *testing.T) {
	a := New(make([]byte, 16))
	assert.False(t, a.Unlock())

	_, err := a.Reserve(4)
	require.NoError(t, err)
	assert.True(t, a.Unlock())
	assert.False(t, a.InUse())
}

func TestExactSizeReserveSucceedsOnce(t *testing.T) {
	a := New(make([]byte, 16))
	span, err := a.Reserve(16)
	require.NoError(t, err)
	require.NoError(t, a.Commit(&span, 16))
	a.Release(span)

	// Next reserve wraps to 0 again since offset sits at capacity.
	span, err = a.Reserve(1)
	require.NoError(t, err)
	assert.Equal(t, 0, span.Start())
}
