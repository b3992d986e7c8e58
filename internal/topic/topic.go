// Package topic implements the broker-side Topic (spec component F): one
// shared-memory ring plus its subscriber table, owned exclusively by the
// broker process that created or recovered it.
package topic

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ringbus/ringbus/internal/idpool"
	"github.com/ringbus/ringbus/internal/metrics"
	"github.com/ringbus/ringbus/internal/region"
	"github.com/ringbus/ringbus/internal/ring"
	"github.com/ringbus/ringbus/internal/semaphore"
	"github.com/ringbus/ringbus/internal/subtable"
	"github.com/ringbus/ringbus/internal/xerror"
)

// subscription is the server-side, process-private record of a live
// subscriber: its slot id and the semaphore it signals on NotifyAll.
type subscription struct {
	slotID uint32
	sem    *semaphore.Semaphore
}

// Topic owns a topic's shared region, its ring, its subscriber table, and
// the in-process set of live subscriptions NotifyAll iterates. Exactly one
// Topic exists per (channel, name) in the broker process; clients never
// construct one directly.
type Topic struct {
	Channel string
	Name    string

	region *region.Region
	ring   *ring.Ring
	ids    *idpool.Pool
	slots  *subtable.Table

	mu   sync.Mutex // guards subs against concurrent Subscribe/Unsubscribe/NotifyAll
	subs map[uint32]*subscription

	log zerolog.Logger
}

// RecoveredSlot is one row Recover found live and dealt with, for the
// supplemented recovery report (SPEC_FULL.md §4 item 1).
type RecoveredSlot struct {
	SlotID  uint32
	PID     uint64
	Cleaned bool // true if evicted (dead owner or pending removal), false if re-adopted
}

// RecoveryReport summarizes what Recover did to a reopened region's
// subscriber table.
type RecoveryReport struct {
	Reclaimed []RecoveredSlot
}

// Create makes a brand-new topic region and Topic, per spec.md §4.G's
// CreateTopic handling.
func Create(channel, name string, maxMessages, bufferBytes uint64, log zerolog.Logger) (*Topic, error) {
	path := region.Path(channel, name)
	reg, err := region.Create(path, maxMessages, bufferBytes)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindRegionCorrupt, "topic.Create", err)
	}

	t := &Topic{
		Channel: channel,
		Name:    name,
		region:  reg,
		ring:    reg.Ring(),
		ids:     idpool.New(region.SlotCount),
		slots:   subtable.New(reg.SlotTableBytes(), region.SlotCount),
		subs:    make(map[uint32]*subscription),
		log:     log.With().Str("topic", name).Logger(),
	}
	return t, nil
}

// Recover reopens an existing topic region (broker restart) and
// reconciles the subscriber table per spec.md §4.E: a slot whose owner is
// dead or that was mid-removal is cleaned up; a slot whose owner is
// confirmed alive is re-rented at the same id and its semaphore reopened
// in open-or-create mode so the subscriber's ring position survives.
func Recover(channel, name string, log zerolog.Logger) (*Topic, RecoveryReport, error) {
	path := region.Path(channel, name)
	reg, err := region.Open(path)
	if err != nil {
		return nil, RecoveryReport{}, xerror.Wrap(xerror.KindRegionCorrupt, "topic.Recover", err)
	}

	t := &Topic{
		Channel: channel,
		Name:    name,
		region:  reg,
		ring:    reg.Ring(),
		ids:     idpool.New(region.SlotCount),
		slots:   subtable.New(reg.SlotTableBytes(), region.SlotCount),
		subs:    make(map[uint32]*subscription),
		log:     log.With().Str("topic", name).Logger(),
	}

	var report RecoveryReport
	for i := 0; i < region.SlotCount; i++ {
		row := t.slots.Get(i)
		if !row.Active {
			continue
		}

		if row.PendingRemove || !pidAlive(row.PID) {
			t.slots.Evict(i)
			_ = semaphore.Remove(semName(channel, name, row.PID, uint32(i)))
			report.Reclaimed = append(report.Reclaimed, RecoveredSlot{
				SlotID: uint32(i), PID: row.PID, Cleaned: true,
			})
			continue
		}

		if t.ids.TryRent(uint32(i)) {
			sem, err := semaphore.OpenOrCreate(semName(channel, name, row.PID, uint32(i)), 0)
			if err != nil {
				t.log.Warn().Err(err).Uint32("slot", uint32(i)).Msg("failed to reopen subscriber semaphore during recovery")
				continue
			}
			t.subs[uint32(i)] = &subscription{slotID: uint32(i), sem: sem}
			metrics.ActiveSubscriptions.WithLabelValues(t.Name).Inc()
			report.Reclaimed = append(report.Reclaimed, RecoveredSlot{
				SlotID: uint32(i), PID: row.PID, Cleaned: false,
			})
		}
	}

	return t, report, nil
}

func semName(channel, topic string, pid uint64, slot uint32) string {
	return fmt.Sprintf("%s.%s.%d.%d.sem", channel, topic, pid, slot)
}

// pidAlive reports whether a process is still running, via the
// kill(pid, 0) idiom Unix tools use for liveness checks without sending a
// real signal.
func pidAlive(pid uint64) bool {
	if pid == 0 {
		return false
	}
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// PublishScope is the caller-facing handle returned by Publish: write into
// Bytes(), call Commit, then Release to run NotifyAll.
type PublishScope struct {
	topic *Topic
	inner *ring.WriterScope
}

// Bytes returns the writable span.
func (p *PublishScope) Bytes() []byte { return p.inner.Bytes() }

// Commit marks k bytes as valid payload.
func (p *PublishScope) Commit(k int) error { return p.inner.Commit(k) }

// Release publishes the entry (if any bytes were committed) and runs
// NotifyAll.
func (p *PublishScope) Release() {
	idx, published := p.inner.Release()
	if published {
		metrics.PublishesTotal.WithLabelValues(p.topic.Name).Inc()
		p.topic.notifyAll(idx)
	}
}

// Publish reserves a writer scope of at least minSize bytes tagged typ. It
// fails with KindArenaBusy if another publish is already open on this
// topic — concurrent publishers on one topic are a programmer error, not
// a runtime condition ringbus works around.
func (t *Topic) Publish(minSize int, typ uint64) (*PublishScope, error) {
	scope, err := t.ring.WriterScope(minSize, typ)
	if err != nil {
		return nil, err
	}
	return &PublishScope{topic: t, inner: scope}, nil
}

// Subscribe allocates a slot for pid, creates its semaphore, and adds it
// to the in-process subscription set. It fails with KindNoSlotAvailable if
// the table is full.
func (t *Topic) Subscribe(pid uint64) (uint32, error) {
	id, err := t.ids.Rent()
	if err != nil {
		return 0, err
	}
	t.slots.Reset(int(id), pid)

	sem, err := semaphore.Create(semName(t.Channel, t.Name, pid, id), 0)
	if err != nil {
		t.slots.Evict(int(id))
		_ = t.ids.Return(id)
		return 0, xerror.Wrap(xerror.KindSubscribeFailed, "topic.Subscribe", err)
	}

	t.mu.Lock()
	t.subs[id] = &subscription{slotID: id, sem: sem}
	t.mu.Unlock()
	metrics.ActiveSubscriptions.WithLabelValues(t.Name).Inc()

	return id, nil
}

// Unsubscribe lazily flips pending_remove on slotID, provided it is still
// owned by pid. Actual removal happens inside the next NotifyAll.
func (t *Topic) Unsubscribe(pid uint64, slotID uint32) bool {
	row := t.slots.Get(int(slotID))
	if !row.Active || row.PID != pid {
		return false
	}
	return t.slots.RequestRemove(int(slotID))
}

// Ring exposes the underlying ring, e.g. for a replication Source's local
// client to open a cursor directly in-process.
func (t *Topic) Ring() *ring.Ring { return t.ring }

// NotifyAll runs the same subscriber wake-up pass Publish triggers on a
// successful Release. A replication Target writes entries through a
// fragment.Defragmentator directly against Ring() rather than through
// Publish, so it calls this explicitly once a reassembled message
// commits, passing the index fragment.Defragmentator.Feed reported for
// that message.
func (t *Topic) NotifyAll(idx uint64) { t.notifyAll(idx) }

// notifyAll iterates the in-process subscription set after a publish,
// activating first-time notifications and releasing each slot's
// semaphore. idx is the just-published entry's own pre-increment ring
// index (ring.WriterScope.Release's return value) — the value spec.md
// §4.E wants stashed as a first-time subscriber's start_index, so that
// OpenCursor(&row.StartIndex) on the client side opens positioned to read
// exactly that entry rather than one past it. It is the single writer for
// subs, so evictions here never race a concurrent removal of the same
// entry (SPEC_FULL.md §5 item 4).
func (t *Topic) notifyAll(idx uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, sub := range t.subs {
		row := t.slots.Get(int(id))
		if !row.Active {
			delete(t.subs, id)
			metrics.ActiveSubscriptions.WithLabelValues(t.Name).Dec()
			continue
		}

		t.slots.BumpNotified(int(id), idx)
		if err := sub.sem.Release(1); err != nil {
			t.log.Warn().Err(err).Uint32("slot", id).Msg("failed to release subscriber semaphore")
		} else {
			metrics.NotificationsTotal.WithLabelValues(t.Name).Inc()
		}

		if row.PendingRemove {
			delete(t.subs, id)
			_ = sub.sem.Close()
			_ = semaphore.Remove(semName(t.Channel, t.Name, row.PID, id))
			t.slots.Evict(int(id))
			_ = t.ids.Return(id)
			metrics.ActiveSubscriptions.WithLabelValues(t.Name).Dec()
		}
	}
}

// Close unmaps the topic's region without removing it.
func (t *Topic) Close() error {
	return t.region.Close()
}

// Remove unmaps and deletes the topic's shared region entirely, per
// spec.md §4.G's RemoveTopic.
func (t *Topic) Remove() error {
	if err := t.region.Close(); err != nil {
		return err
	}
	return region.Remove(region.Path(t.Channel, t.Name))
}
