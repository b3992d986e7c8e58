package fragment

import (
	"github.com/ringbus/ringbus/internal/ring"
	"github.com/ringbus/ringbus/internal/xerror"
)

// MaxNextFrameMessages bounds how many out-of-order "next frame" messages
// the Defragmentator tolerates before giving up on the previous frame, per
// spec.md §4.K.
const MaxNextFrameMessages = 16

// bitset is a small fixed-capacity set of received chunk sequence numbers,
// in the register of sakateka-yanet2's TinyBitset: a words array with
// Insert/Count, sized generously for any MTU-derived chunk count ringbus
// expects to see (up to 1024 chunks — far beyond any realistic MTU-sized
// message).
type bitset struct {
	words [16]uint64
}

func (b *bitset) insert(i int) {
	b.words[i/64] |= 1 << uint(i%64)
}

func (b *bitset) has(i int) bool {
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

func (b *bitset) count() int {
	n := 0
	for _, w := range b.words {
		for w != 0 {
			n++
			w &= w - 1
		}
	}
	return n
}

// frame is in-progress reassembly state for one created-timestamp: the
// reserved ring writer scope, the set of chunk sequences received so far,
// and how many chunks we expect in total.
type frame struct {
	created  uint64
	size     uint32
	scope    *ring.WriterScope
	received bitset
	expected int
}

func (f *frame) complete() bool { return f.received.count() >= f.expected }

// Defragmentator reassembles fragmented messages arriving out of order
// across at most two concurrent "in flight" created-timestamps (current
// and previous), per spec.md §4.K.
type Defragmentator struct {
	r   *ring.Ring
	mtu int

	current  *frame
	previous *frame

	nextFrameMessages int
}

// NewDefragmentator constructs a Defragmentator writing reassembled
// messages into r.
func NewDefragmentator(r *ring.Ring, mtu int) *Defragmentator {
	return &Defragmentator{r: r, mtu: mtu}
}

// Feed processes one incoming (header, payload) pair. It reports whether
// this feed completed and committed a message ("completed" in spec.md
// §4.M's Target role, which triggers Topic.NotifyAll), and if so the
// index the ring published it under.
func (d *Defragmentator) Feed(hdr Header, payload []byte) (completed bool, index uint64, err error) {
	if int(hdr.Size) == len(payload) {
		return d.writeWhole(hdr, payload)
	}

	switch {
	case d.previous != nil && hdr.Created == d.previous.created:
		return d.acceptInto(d.previous, hdr, payload, true)

	case d.current != nil && hdr.Created == d.current.created:
		return d.acceptInto(d.current, hdr, payload, false)

	case d.current == nil || hdr.Created > d.current.created:
		return d.startNewCurrent(hdr, payload)

	default:
		// Older than current, newer than previous (or no previous yet):
		// track it as an out-of-order "next frame" message and give up on
		// previous once it overstays its welcome.
		if d.current != nil {
			d.nextFrameMessages++
			if d.nextFrameMessages > MaxNextFrameMessages {
				d.dropPrevious()
			}
		}
		return false, 0, nil
	}
}

func (d *Defragmentator) writeWhole(hdr Header, payload []byte) (bool, uint64, error) {
	scope, err := d.r.WriterScope(len(payload), uint64(hdr.Type))
	if err != nil {
		return false, 0, err
	}
	copy(scope.Bytes(), payload)
	if err := scope.Commit(len(payload)); err != nil {
		return false, 0, err
	}
	idx, _ := scope.Release()
	return true, idx, nil
}

func (d *Defragmentator) acceptInto(f *frame, hdr Header, payload []byte, isPrevious bool) (bool, uint64, error) {
	seq := int(hdr.Sequence)
	if f.received.has(seq) {
		return false, 0, nil // duplicate chunk: ignored
	}

	off := ChunkOffset(hdr.Sequence, d.mtu)
	dst := f.scope.Bytes()
	if off+len(payload) > len(dst) {
		return false, 0, xerror.New(xerror.KindReplicationFailed, "fragment.Defragmentator: chunk out of range")
	}
	copy(dst[off:], payload)
	f.received.insert(seq)

	if !f.complete() {
		return false, 0, nil
	}

	if err := f.scope.Commit(int(f.size)); err != nil {
		return false, 0, err
	}
	idx, _ := f.scope.Release()

	if isPrevious {
		d.previous = nil
	} else {
		d.current = nil
	}
	return true, idx, nil
}

func (d *Defragmentator) startNewCurrent(hdr Header, payload []byte) (bool, uint64, error) {
	if d.current != nil {
		d.dropOrPromoteCurrentToPrevious()
	}

	scope, err := d.r.WriterScope(int(hdr.Size), uint64(hdr.Type))
	if err != nil {
		return false, 0, err
	}

	f := &frame{
		created:  hdr.Created,
		size:     hdr.Size,
		scope:    scope,
		expected: ChunkCount(int(hdr.Size), d.mtu),
	}
	d.current = f
	d.nextFrameMessages = 0

	return d.acceptInto(f, hdr, payload, false)
}

func (d *Defragmentator) dropOrPromoteCurrentToPrevious() {
	if d.previous != nil {
		d.previous.scope.Release() // abandon without committing
	}
	d.previous = d.current
	d.current = nil
}

func (d *Defragmentator) dropPrevious() {
	if d.previous != nil {
		d.previous.scope.Release()
		d.previous = nil
	}
	d.nextFrameMessages = 0
}
