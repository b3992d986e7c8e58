package client

import (
	"time"

	"github.com/ringbus/ringbus/internal/metrics"
	"github.com/ringbus/ringbus/internal/ring"
	"github.com/ringbus/ringbus/internal/semaphore"
	"github.com/ringbus/ringbus/internal/subtable"
	"github.com/ringbus/ringbus/internal/xerror"
)

// spinRounds and spinSleep together approximate spec.md §4.I's "roughly
// 50 × 200-cycle spins": a short bounded busy-wait after a successful
// semaphore acquire, covering the gap between the producer's next_index
// increment becoming visible and the entry bytes themselves being
// visible through the shared mapping (SPEC_FULL.md §5 item 1).
const (
	spinRounds = 50
	spinSleep  = time.Microsecond
)

// cursorState is Unopened/Ready/Closed per spec.md §4.I.
type cursorState int

const (
	stateUnopened cursorState = iota
	stateReady
	stateClosed
)

// Cursor is the consumer-facing read handle for one subscription: a slot
// id, its semaphore, and the low-level ring.Cursor it polls after waking.
type Cursor struct {
	client *Client
	topic  string
	slotID uint32
	r      *ring.Ring
	slots  *subtable.Table
	sem    *semaphore.Semaphore

	state cursorState
	inner ring.Cursor
}

func newCursor(c *Client, topic string, slotID uint32, r *ring.Ring, slots *subtable.Table, sem *semaphore.Semaphore) *Cursor {
	return &Cursor{client: c, topic: topic, slotID: slotID, r: r, slots: slots, sem: sem, state: stateUnopened}
}

// Read blocks until the subscriber's semaphore signals, then spins for an
// entry to become visible. It fails with KindTryReadFailed if the spin
// budget is exhausted.
func (c *Cursor) Read() (ring.Accessor, error) {
	if err := c.sem.Acquire(); err != nil {
		return ring.Accessor{}, xerror.Wrap(xerror.KindTryReadFailed, "cursor.Read", err)
	}
	c.onWake()
	return c.spinForEntry()
}

// TryRead attempts a non-blocking acquire; it returns (Accessor{}, false,
// nil) if the semaphore was not signaled, matching spec.md's "false is
// normal" contract.
func (c *Cursor) TryRead() (ring.Accessor, bool, error) {
	acquired, err := c.sem.TryAcquire()
	if err != nil {
		return ring.Accessor{}, false, err
	}
	if !acquired {
		return ring.Accessor{}, false, nil
	}
	c.onWake()
	acc, err := c.spinForEntry()
	return acc, err == nil, err
}

// TryReadFor attempts a timed acquire.
func (c *Cursor) TryReadFor(timeout time.Duration) (ring.Accessor, bool, error) {
	acquired, err := c.sem.TryAcquireFor(timeout)
	if err != nil {
		return ring.Accessor{}, false, err
	}
	if !acquired {
		return ring.Accessor{}, false, nil
	}
	c.onWake()
	acc, err := c.spinForEntry()
	return acc, err == nil, err
}

// onWake transitions Unopened to Ready on the first successful acquire,
// per spec.md §4.I: index := slot.start_index - 1. The broker's notifyAll
// stamps slot.start_index with the very entry that triggered this wake
// (see topic.notifyAll), so reading it from the shared subscriber table
// here — rather than opening against whatever next_index happens to be by
// the time this goroutine gets scheduled — is what lets the cursor read
// that entry instead of skipping past it.
func (c *Cursor) onWake() {
	if c.state == stateUnopened {
		row := c.slots.Get(int(c.slotID))
		start := row.StartIndex
		c.inner = c.r.OpenCursor(&start)
		c.state = stateReady
	}
}

func (c *Cursor) spinForEntry() (ring.Accessor, error) {
	for i := 0; i < spinRounds; i++ {
		if c.r.TryRead(&c.inner) {
			acc := c.r.Data(c.inner)
			if acc.Stale {
				metrics.SlowConsumerDrops.WithLabelValues(c.topic).Inc()
				return ring.Accessor{}, xerror.New(xerror.KindTryReadFailed, "cursor: entry overwritten before read")
			}
			return acc, nil
		}
		time.Sleep(spinSleep)
	}
	return ring.Accessor{}, xerror.New(xerror.KindTryReadFailed, "cursor: no entry visible within spin budget")
}

// Close unsubscribes through the client and removes the semaphore from
// the namespace, per spec.md §4.I's Closed transition.
func (c *Cursor) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	_ = c.client.Unsubscribe(c.topic, c.slotID)
	err := c.sem.Close()
	_ = semaphore.Remove(semName(c.client.channel, c.topic, c.client.pid, c.slotID))
	return err
}
