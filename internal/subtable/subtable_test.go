package subtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestTable(n int) *Table {
	return New(make([]byte, n*RecordSize), n)
}

func TestResetThenGet(t *testing.T) {
	tab := newTestTable(4)
	tab.Reset(2, 4242)

	s := tab.Get(2)
	assert.Equal(t, uint64(4242), s.PID)
	assert.True(t, s.Active)
	assert.False(t, s.PendingRemove)
	assert.Equal(t, uint64(0), s.Notified)
}

func TestBumpNotifiedCapturesStartIndexOnce(t *testing.T) {
	tab := newTestTable(2)
	tab.Reset(0, 1)

	assert.True(t, tab.BumpNotified(0, 10))
	assert.False(t, tab.BumpNotified(0, 20))

	s := tab.Get(0)
	assert.Equal(t, uint64(10), s.StartIndex)
	assert.Equal(t, uint64(2), s.Notified)
}

func TestRequestRemoveIsIdempotent(t *testing.T) {
	tab := newTestTable(1)
	tab.Reset(0, 1)

	assert.True(t, tab.RequestRemove(0))
	assert.False(t, tab.RequestRemove(0))
	assert.True(t, tab.Get(0).PendingRemove)
}

func TestEvictClearsRow(t *testing.T) {
	tab := newTestTable(1)
	tab.Reset(0, 1)
	tab.RequestRemove(0)

	tab.Evict(0)

	s := tab.Get(0)
	assert.False(t, s.Active)
	assert.False(t, s.PendingRemove)
}

func TestTryRentSameIDPreservesRingPosition(t *testing.T) {
	tab := newTestTable(1)
	tab.Reset(0, 1)
	tab.BumpNotified(0, 99)
	tab.RequestRemove(0)
	tab.Evict(0) // simulate crash cleanup path clearing active, but recovery re-adopts below

	tab.TryRentSameID(0, 1)
	s := tab.Get(0)
	assert.True(t, s.Active)
	assert.False(t, s.PendingRemove)
	assert.Equal(t, uint64(99), s.StartIndex)
	assert.Equal(t, uint64(1), s.Notified)
}
