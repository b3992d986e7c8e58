package region

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenOpenAgreeOnHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringbus_test.buffer")

	r1, err := Create(path, 8, 4096)
	require.NoError(t, err)
	h1 := r1.Header()
	require.NoError(t, r1.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()
	h2 := r2.Header()

	assert.Equal(t, h1, h2)
	assert.Equal(t, uint64(8), h2.BufferItemCapacity)
	assert.Equal(t, uint64(4096), h2.BufferSize)
}

func TestRingSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringbus_test.buffer")

	r1, err := Create(path, 4, 1024)
	require.NoError(t, err)

	ring1 := r1.Ring()
	scope, err := ring1.WriterScope(5, 7)
	require.NoError(t, err)
	copy(scope.Bytes(), "hello")
	require.NoError(t, scope.Commit(5))
	scope.Release()
	require.NoError(t, r1.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()

	ring2 := r2.Ring()
	assert.Equal(t, uint64(1), ring2.NextIndex())

	zero := uint64(0)
	c := ring2.OpenCursor(&zero)
	assert.True(t, ring2.TryRead(&c))
	acc := ring2.Data(c)
	assert.Equal(t, "hello", string(acc.Bytes))
}
