// Package idpool implements a lock-free allocator of small integer ids in
// [0, N), used by the subscriber table to hand out slot ids. It supports
// renting any free id, renting one specific id (for crash recovery), and
// returning ids to the free pool.
package idpool

import (
	"sync/atomic"

	"github.com/ringbus/ringbus/internal/xerror"
)

const nilIdx = ^uint32(0)

// node is one entry in the free-list. next points to the next free node's
// index, or nilIdx if this is the tail. inUse is a witness flag: TryRent
// uses it to detect that a non-head node was concurrently popped and retry
// rather than resurrect a node already handed out.
type node struct {
	next  atomic.Uint32
	inUse atomic.Bool
}

// Pool is a fixed-universe [0, N) id allocator. The free list is threaded
// through the nodes slice and its head is manipulated with CAS, making
// Rent/Return safe to call concurrently from any number of goroutines
// within one process (the broker is the only such caller in practice, but
// the structure makes no assumption about that).
type Pool struct {
	nodes []node
	head  atomic.Uint32 // index of first free node, or nilIdx if pool is empty
}

// New builds a pool over the universe [0, n), with every id initially free.
func New(n int) *Pool {
	p := &Pool{nodes: make([]node, n)}
	for i := 0; i < n; i++ {
		if i == n-1 {
			p.nodes[i].next.Store(nilIdx)
		} else {
			p.nodes[i].next.Store(uint32(i + 1))
		}
	}
	if n > 0 {
		p.head.Store(0)
	} else {
		p.head.Store(nilIdx)
	}
	return p
}

// Rent pops any free id from the pool. It fails with KindNoSlotAvailable if
// the pool is exhausted.
func (p *Pool) Rent() (uint32, error) {
	for {
		head := p.head.Load()
		if head == nilIdx {
			return 0, xerror.New(xerror.KindNoSlotAvailable, "idpool.Rent")
		}
		next := p.nodes[head].next.Load()
		if p.head.CompareAndSwap(head, next) {
			p.nodes[head].inUse.Store(true)
			return head, nil
		}
		// Lost the race with another renter; retry.
	}
}

// TryRent attempts to rent the specific id, used during topic recovery to
// re-adopt a slot a surviving subscriber still owns. It returns false if the
// id is not currently free (already rented).
func (p *Pool) TryRent(id uint32) bool {
	if int(id) >= len(p.nodes) {
		return false
	}
	if p.nodes[id].inUse.Load() {
		return false
	}

	for {
		head := p.head.Load()
		if head == nilIdx {
			return false
		}
		if head == id {
			next := p.nodes[id].next.Load()
			if p.head.CompareAndSwap(head, next) {
				p.nodes[id].inUse.Store(true)
				return true
			}
			continue // head moved under us; retry
		}

		// id is not at the head: walk the list looking for it, detecting
		// concurrent mutation via the inUse witness so we never unlink a
		// node that another goroutine has already rented.
		prev := head
		for {
			nextIdx := p.nodes[prev].next.Load()
			if nextIdx == nilIdx {
				return false // reached tail without finding id
			}
			if nextIdx == id {
				if p.nodes[id].inUse.Load() {
					return false // someone else rented it already
				}
				afterID := p.nodes[id].next.Load()
				if p.nodes[prev].next.CompareAndSwap(nextIdx, afterID) {
					if p.nodes[id].inUse.CompareAndSwap(false, true) {
						return true
					}
					// Lost to a concurrent rent of the same id; the node we
					// just unlinked is now orphaned from our perspective —
					// retry the whole operation from the top.
					break
				}
				break // CAS lost; retry from the top
			}
			prev = nextIdx
		}
	}
}

// Return pushes id back onto the free list. It fails with KindAlreadyFree on
// a double-free.
func (p *Pool) Return(id uint32) error {
	if !p.nodes[id].inUse.CompareAndSwap(true, false) {
		return xerror.New(xerror.KindAlreadyFree, "idpool.Return")
	}
	for {
		head := p.head.Load()
		p.nodes[id].next.Store(head)
		if p.head.CompareAndSwap(head, id) {
			return nil
		}
	}
}

// Cap returns the size of the id universe.
func (p *Pool) Cap() int { return len(p.nodes) }
