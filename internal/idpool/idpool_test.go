package idpool

import (
	"sync"
	"testing"

	"github.com/ringbus/ringbus/internal/xerror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRentExhaustsAndReturnReplenishes(t *testing.T) {
	p := New(3)

	got := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		id, err := p.Rent()
		require.NoError(t, err)
		got[id] = true
	}
	assert.Len(t, got, 3)

	_, err := p.Rent()
	assert.True(t, xerror.Is(err, xerror.KindNoSlotAvailable))

	require.NoError(t, p.Return(0))
	id, err := p.Rent()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)
}

func TestReturnTwiceFails(t *testing.T) {
	p := New(2)
	id, err := p.Rent()
	require.NoError(t, err)

	require.NoError(t, p.Return(id))
	err = p.Return(id)
	assert.True(t, xerror.Is(err, xerror.KindAlreadyFree))
}

func TestTryRentSpecificID(t *testing.T) {
	p := New(4)

	assert.True(t, p.TryRent(2))
	assert.False(t, p.TryRent(2)) // already rented

	// Remaining ids still rentable through Rent().
	seen := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		id, err := p.Rent()
		require.NoError(t, err)
		seen[id] = true
	}
	assert.False(t, seen[2])
}

func TestTryRentNonexistentID(t *testing.T) {
	p := New(4)
	assert.False(t, p.TryRent(99))
}

func TestConcurrentRentReturnNoDuplicates(t *testing.T) {
	const n = 64
	p := New(n)

	var wg sync.WaitGroup
	results := make(chan uint32, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := p.Rent()
			require.NoError(t, err)
			results <- id
		}()
	}
	wg.Wait()
	close(results)

	seen := map[uint32]bool{}
	for id := range results {
		assert.False(t, seen[id], "id %d rented twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
