// Package subtable implements the subscriber table (spec component E): a
// fixed array of SlotRecord rows living in a topic's shared region. Each
// row tracks one subscriber's pid, its activation state relative to the
// ring, and the pending-remove flag a subscriber CASes on its own row to
// request eviction.
package subtable

import (
	"sync/atomic"
	"unsafe"
)

// RecordSize is the on-disk size of one SlotRecord: pid, notified,
// start_index (three u64) plus a combined active/pending_remove flag word,
// matching region.SlotRecordSize.
const RecordSize = 32

const (
	flagActive        = 1 << 0
	flagPendingRemove = 1 << 1
)

// Table is a view over SlotRecord[N] backed by buf, which may be a private
// Go slice or a slice into a memory-mapped shared region — the same
// EntryView/StateView split used by internal/ring.
type Table struct {
	buf []byte
	n   int
}

// New wraps buf as a Table of n SlotRecord rows. buf must be at least
// n*RecordSize bytes.
func New(buf []byte, n int) *Table {
	return &Table{buf: buf, n: n}
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.n }

func (t *Table) word(i int, field int) *uint64 {
	off := i*RecordSize + field*8
	return (*uint64)(unsafe.Pointer(&t.buf[off]))
}

// Snapshot is a point-in-time copy of one row, safe to read after the
// underlying memory has moved on.
type Snapshot struct {
	PID           uint64
	Notified      uint64
	StartIndex    uint64
	Active        bool
	PendingRemove bool
}

// Get returns a snapshot of row i.
func (t *Table) Get(i int) Snapshot {
	flags := atomic.LoadUint64(t.word(i, 3))
	return Snapshot{
		PID:           atomic.LoadUint64(t.word(i, 0)),
		Notified:      atomic.LoadUint64(t.word(i, 1)),
		StartIndex:    atomic.LoadUint64(t.word(i, 2)),
		Active:        flags&flagActive != 0,
		PendingRemove: flags&flagPendingRemove != 0,
	}
}

// Reset initializes row i for a freshly rented slot id, per spec.md §4.E's
// allocate transition: {pid, notified=0, active=true, pending_remove=false}.
func (t *Table) Reset(i int, pid uint64) {
	atomic.StoreUint64(t.word(i, 0), pid)
	atomic.StoreUint64(t.word(i, 1), 0)
	atomic.StoreUint64(t.word(i, 2), 0)
	atomic.StoreUint64(t.word(i, 3), flagActive)
}

// BumpNotified implements activate-on-first-notify: it increments the
// notified counter and, if the old value was 0, stamps start_index with
// nextIndex. It returns true the first time this is called since the slot
// was (re)allocated.
func (t *Table) BumpNotified(i int, nextIndex uint64) (firstTime bool) {
	old := atomic.AddUint64(t.word(i, 1), 1) - 1
	if old == 0 {
		atomic.StoreUint64(t.word(i, 2), nextIndex)
		return true
	}
	return false
}

// RequestRemove CASes pending_remove from false to true. It reports
// whether this call made the change (false if it was already set).
func (t *Table) RequestRemove(i int) bool {
	word := t.word(i, 3)
	for {
		old := atomic.LoadUint64(word)
		if old&flagPendingRemove != 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(word, old, old|flagPendingRemove) {
			return true
		}
	}
}

// Evict clears a slot's active and pending_remove flags, returning it to
// the unallocated state. Only the broker's NotifyAll path calls this,
// single-writer, per spec.md §4.E.
func (t *Table) Evict(i int) {
	atomic.StoreUint64(t.word(i, 3), 0)
}

// TryRentSameID re-activates row i for pid during recovery without
// resetting notified/start_index — the surviving ring position must be
// preserved so the subscriber doesn't replay or skip entries.
func (t *Table) TryRentSameID(i int, pid uint64) {
	atomic.StoreUint64(t.word(i, 0), pid)
	word := t.word(i, 3)
	for {
		old := atomic.LoadUint64(word)
		if atomic.CompareAndSwapUint64(word, old, (old&^uint64(flagPendingRemove))|flagActive) {
			return
		}
	}
}
