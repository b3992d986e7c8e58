// Package ring implements the fixed-capacity message index over a
// wrap-around byte arena (spec component B). A Ring has exactly one
// producer, which reserves a WriterScope, writes payload bytes into the
// arena, and releases the scope to publish an entry. Any number of readers
// open low-level Cursors over the ring and poll try_read/data; the
// consumer-side semaphore/spin protocol that turns this into a blocking
// read lives one layer up, in internal/client.
package ring

import (
	"github.com/ringbus/ringbus/internal/arena"
	"github.com/ringbus/ringbus/internal/xerror"
)

// Ring composes an arena with the entry index and header counters. It
// implements spec component B exactly: entries[(next_index-1) mod C] is
// always the most recent entry, and next_index is the linearization point
// writers and readers agree on.
type Ring struct {
	Arena   *arena.Arena
	entries EntryView
	state   StateView
}

// New constructs a Ring purely in-process: a fresh arena of arenaSize bytes
// and an entry table of capacity entries. Only tests use it; replication
// Targets publish into region-backed topic rings.
func New(arenaSize int, capacity int) *Ring {
	return &Ring{
		Arena:   arena.New(make([]byte, arenaSize)),
		entries: newSliceEntries(capacity),
		state:   newPrivateState(uint64(capacity)),
	}
}

// NewView builds a Ring over externally-owned arena/entries/state, used by
// internal/region to present a shared memory mapping as a Ring.
func NewView(a *arena.Arena, entries EntryView, state StateView) *Ring {
	return &Ring{Arena: a, entries: entries, state: state}
}

// NextIndex returns the ring's current monotonic sequence number.
func (r *Ring) NextIndex() uint64 { return r.state.NextIndex() }

// CurrentSize returns the sum of sizes of entries in the addressable
// window.
func (r *Ring) CurrentSize() uint64 { return r.state.CurrentSize() }

// Capacity returns the number of entry slots C.
func (r *Ring) Capacity() uint64 { return r.state.Capacity() }

// WriterScope is the single producer's RAII-style hold over one arena span
// plus the pending entry metadata it will publish on Release. It is not
// safe for concurrent use; the arena's busy flag already prevents a second
// WriterScope from being opened while one is outstanding.
type WriterScope struct {
	ring     *Ring
	span     arena.Span
	typ      uint64
	released bool
}

// WriterScope reserves an arena span of at least minSize bytes for an entry
// tagged with typ. It fails with KindArenaBusy or KindTooLarge exactly as
// arena.Reserve does.
func (r *Ring) WriterScope(minSize int, typ uint64) (*WriterScope, error) {
	span, err := r.Arena.Reserve(minSize)
	if err != nil {
		return nil, xerror.Wrap(errKind(err), "ring.WriterScope", err)
	}
	return &WriterScope{ring: r, span: span, typ: typ}, nil
}

// Bytes returns the writable region of the span; callers write their
// payload into it directly (zero-copy) before calling Commit.
func (w *WriterScope) Bytes() []byte {
	return w.ring.Arena.Bytes(w.span.Start(), w.span.Capacity())
}

// Commit marks k bytes of the span as containing valid payload. It may be
// called multiple times as long as the running total stays within the
// span's capacity.
func (w *WriterScope) Commit(k int) error {
	return w.ring.Arena.Commit(&w.span, k)
}

// Release publishes the entry if any bytes were committed, then frees the
// arena for the next writer. On a zero-commit release, no entry is
// published — this lets a producer abandon a reservation (e.g. a failed
// serialization) without advancing next_index.
//
// Release returns the published entry's index and true if it published
// anything.
func (w *WriterScope) Release() (index uint64, published bool) {
	if w.released {
		return 0, false
	}
	w.released = true
	defer w.ring.Arena.Release(w.span)

	if w.span.Committed() == 0 {
		return 0, false
	}

	capacity := w.ring.state.Capacity()
	next := w.ring.state.NextIndex()
	slot := next % capacity

	var evicted uint64
	if next >= capacity {
		evicted = w.ring.entries.Get(slot).Size
	}

	generation := w.ring.entries.Get(slot).Generation + 1
	w.ring.entries.Set(slot, EntryRecord{
		Size:       uint64(w.span.Committed()),
		Type:       w.typ,
		Offset:     uint64(w.span.Start()),
		Generation: generation,
	})

	w.ring.state.AddNextIndex(1)
	w.ring.state.SetCurrentSize(w.ring.state.CurrentSize() + uint64(w.span.Committed()) - evicted)

	return next, true
}

func errKind(err error) xerror.Kind {
	if xerror.Is(err, xerror.KindArenaBusy) {
		return xerror.KindArenaBusy
	}
	if xerror.Is(err, xerror.KindTooLarge) {
		return xerror.KindTooLarge
	}
	return xerror.KindUnknown
}

// Cursor is the ring's own mechanical position tracker: an index into the
// monotonic sequence, with no knowledge of semaphores or blocking. It
// exists so internal/client's Cursor (the consumer-facing protocol, spec
// component I) has something to delegate the actual entries[] traversal
// to.
type Cursor struct {
	index uint64
}

// OpenCursor returns a Cursor positioned so that TryRead returns true once
// next_index > at. If at is nil, the cursor starts at the ring's current
// next_index (i.e. it will only see entries published after this call).
func (r *Ring) OpenCursor(at *uint64) Cursor {
	start := r.state.NextIndex()
	if at != nil {
		start = *at
	}
	// index is stored as one behind the next unread entry; TryRead's
	// unsigned subtraction (next_index - index > 1) relies on this, and on
	// index wrapping to ^uint64(0) when start is 0, which correctly yields
	// "nothing readable yet" until next_index reaches 1.
	return Cursor{index: start - 1}
}

// TryRead advances the cursor by one and returns true if an unread entry is
// now available, i.e. next_index - cursor.index > 1. It never blocks.
func (r *Ring) TryRead(c *Cursor) bool {
	if r.state.NextIndex()-c.index > 1 {
		c.index++
		return true
	}
	return false
}

// Accessor is an in-place view of the entry at a cursor's current index: no
// payload copy is ever made, matching the bus's zero-copy contract.
type Accessor struct {
	Entry EntryRecord
	Bytes []byte
	Stale bool
}

// Data returns an Accessor for the entry at cursor.index. If the ring has
// wrapped past that slot since the cursor last advanced (the producer has
// published capacity or more entries beyond it), Stale is set and Bytes
// must not be trusted: the caller should treat this the same as
// KindTryReadFailed. The entry's Generation field (see SPEC_FULL.md §5 item
// 2) is what lets a caller holding only a raw slot index, rather than a
// Cursor advanced through TryRead, make the same check independently.
func (r *Ring) Data(c Cursor) Accessor {
	capacity := r.state.Capacity()
	slot := c.index % capacity
	e := r.entries.Get(slot)

	stale := r.state.NextIndex()-c.index > capacity

	return Accessor{
		Entry: e,
		Bytes: r.Arena.Bytes(int(e.Offset), int(e.Size)),
		Stale: stale,
	}
}
