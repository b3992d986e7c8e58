package semaphore

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("ringbus_test_%s_%d", t.Name(), time.Now().UnixNano())
}

func TestCreateAcquireRelease(t *testing.T) {
	name := uniqueName(t)
	sem, err := Create(name, 0)
	require.NoError(t, err)
	defer func() {
		sem.Close()
		Remove(name)
	}()

	ok, err := sem.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sem.Release(1))

	ok, err = sem.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenOrCreateThenOpenSharesCount(t *testing.T) {
	name := uniqueName(t)
	a, err := OpenOrCreate(name, 0)
	require.NoError(t, err)
	defer func() {
		a.Close()
		Remove(name)
	}()

	b, err := Open(name)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Release(1))

	ok, err := b.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryAcquireForTimesOut(t *testing.T) {
	name := uniqueName(t)
	sem, err := Create(name, 0)
	require.NoError(t, err)
	defer func() {
		sem.Close()
		Remove(name)
	}()

	start := time.Now()
	ok, err := sem.TryAcquireFor(50 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestValueReflectsReleases(t *testing.T) {
	name := uniqueName(t)
	sem, err := Create(name, 0)
	require.NoError(t, err)
	defer func() {
		sem.Close()
		Remove(name)
	}()

	require.NoError(t, sem.Release(3))
	v, err := sem.Value()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestRemoveIsIdempotent(t *testing.T) {
	name := uniqueName(t)
	assert.NoError(t, Remove(name))
	assert.NoError(t, Remove(name))
}
