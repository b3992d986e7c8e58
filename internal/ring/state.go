package ring

import "sync/atomic"

// StateView exposes the ring header counters: next_index (the
// linearization point for the whole ring) and current_size (the sum of
// sizes of entries currently addressable in the ring's window). Both must
// be visible across process boundaries with acquire/release ordering; see
// internal/region for the shared-memory-backed implementation and
// SPEC_FULL.md §5 item 1 for why a cursor still spins after observing a
// signal.
type StateView interface {
	NextIndex() uint64
	SetNextIndex(v uint64)
	AddNextIndex(delta uint64) uint64
	CurrentSize() uint64
	SetCurrentSize(v uint64)
	Capacity() uint64
}

// privateState is an in-process StateView backed by plain atomics, used for
// rings that never leave the current process (those that New builds).
type privateState struct {
	nextIndex   atomic.Uint64
	currentSize atomic.Uint64
	capacity    uint64
}

func newPrivateState(capacity uint64) *privateState {
	return &privateState{capacity: capacity}
}

func (s *privateState) NextIndex() uint64 { return s.nextIndex.Load() }
func (s *privateState) SetNextIndex(v uint64) { s.nextIndex.Store(v) }
func (s *privateState) AddNextIndex(d uint64) uint64 {
	return s.nextIndex.Add(d)
}
func (s *privateState) CurrentSize() uint64     { return s.currentSize.Load() }
func (s *privateState) SetCurrentSize(v uint64) { s.currentSize.Store(v) }
func (s *privateState) Capacity() uint64        { return s.capacity }
