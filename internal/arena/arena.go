// Package arena implements the fixed-capacity, wrap-around byte allocator
// that backs a single topic's ring. Only one writer span may be open at a
// time; this is the mechanism that enforces the bus's single-producer
// invariant for a topic.
//
// The arena never reports "full" — a request that doesn't fit in the
// remaining contiguous tail wraps to offset 0 and may overwrite bytes still
// referenced by a slow reader. Detecting that is the ring layer's job (see
// internal/ring), not the arena's.
package arena

import (
	"github.com/ringbus/ringbus/internal/xerror"
)

// Arena is a contiguous byte buffer with a monotonic-then-wrapping write
// cursor. Buf may be backed by a plain Go slice (private rings) or by a
// memory-mapped shared region (internal/region); Arena itself does not care
// which.
type Arena struct {
	buf    []byte
	offset int
	inUse  bool
}

// New wraps buf as an arena. buf's length is the arena's fixed capacity.
func New(buf []byte) *Arena {
	return &Arena{buf: buf}
}

// Size returns the arena's total capacity in bytes.
func (a *Arena) Size() int { return len(a.buf) }

// Span is a half-open, exclusively-held slice of the arena returned by
// Reserve. The holder must call Commit zero or more times (with
// non-decreasing totals) and then Release exactly once.
type Span struct {
	start     int
	capacity  int
	committed int
}

// Start returns the byte offset into the arena where this span begins.
func (s Span) Start() int { return s.start }

// Capacity returns the number of contiguous bytes reserved for this span.
func (s Span) Capacity() int { return s.capacity }

// Committed returns the number of bytes committed so far.
func (s Span) Committed() int { return s.committed }

// Reserve opens a new writer span of at least minSize bytes. It fails with
// KindArenaBusy if a span is already open, or KindTooLarge if minSize
// exceeds the arena's total capacity. If the remaining contiguous tail from
// the current offset is smaller than minSize, the arena wraps to offset 0
// before reserving — this is the only place wraparound happens.
func (a *Arena) Reserve(minSize int) (Span, error) {
	if a.inUse {
		return Span{}, xerror.New(xerror.KindArenaBusy, "arena.Reserve")
	}
	if minSize > len(a.buf) {
		return Span{}, xerror.New(xerror.KindTooLarge, "arena.Reserve")
	}
	if len(a.buf)-a.offset < minSize {
		a.offset = 0
	}
	a.inUse = true
	return Span{start: a.offset, capacity: len(a.buf) - a.offset}, nil
}

// Commit advances the span's committed length by k bytes and advances the
// arena's write offset by the same amount. It fails with KindOvercommit if
// the new committed total would exceed the span's capacity. Commit may be
// called more than once on the same span as long as the running total stays
// within capacity.
func (a *Arena) Commit(s *Span, k int) error {
	if k+s.committed > s.capacity {
		return xerror.New(xerror.KindOvercommit, "arena.Commit")
	}
	s.committed += k
	a.offset += k
	return nil
}

// Bytes returns the arena's backing slice for the half-open range
// [start, start+n), without regard to span ownership. Callers are expected
// to have already established (via the ring's sequence number) that the
// range is still valid and not torn by a wrap.
func (a *Arena) Bytes(start, n int) []byte {
	return a.buf[start : start+n]
}

// Release closes the currently open span. It is an idempotent no-op if no
// span is open — mirroring the C++ original's RAII scope destructor, which
// may run on an already-released span during unwind.
func (a *Arena) Release(_ Span) {
	a.inUse = false
}

// Unlock forcibly clears the busy flag and reports whether it was set. The
// flag lives in this Arena value in process memory, not in the shared
// region, so a fresh Arena over a reopened region always starts clear.
func (a *Arena) Unlock() bool {
	was := a.inUse
	a.inUse = false
	return was
}

// InUse reports whether a span is currently open.
func (a *Arena) InUse() bool { return a.inUse }
