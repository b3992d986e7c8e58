package region

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ringbus/ringbus/internal/arena"
	"github.com/ringbus/ringbus/internal/ring"
	"github.com/ringbus/ringbus/internal/xerror"
)

// Path returns the /dev/shm path for a topic's shared region, per
// SPEC_FULL.md §6.2's "<channel>.<topic>.buffer" naming convention.
func Path(channel, topic string) string {
	return fmt.Sprintf("/dev/shm/%s.%s.buffer", channel, topic)
}

// Region is a memory-mapped topic region: the owning broker creates it
// read-write; subscribers map the same file read-only except for the one
// SlotRecord row they own.
type Region struct {
	path   string
	data   []byte
	layout Layout
}

// Create creates (or truncates and recreates) the backing file and maps it
// read-write, writing a fresh TopicHeader. capacity is the ring's item
// count C; bufferSize is the arena's byte size.
func Create(path string, capacity, bufferSize uint64) (*Region, error) {
	layout := Layout{Capacity: capacity, BufferSize: bufferSize}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC, 0666)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindRegionCorrupt, "region.Create", err)
	}
	defer unix.Close(fd)

	total := layout.TotalSize()
	if err := unix.Ftruncate(fd, int64(total)); err != nil {
		return nil, xerror.Wrap(xerror.KindRegionCorrupt, "region.Create", err)
	}

	data, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindRegionCorrupt, "region.Create", err)
	}

	writeHeader(data, TopicHeader{
		TotalBufferSize:     bufferSize,
		SubscriberTableSize: uint64(layout.slotTableSize()),
		BufferItemCapacity:  capacity,
		BufferSize:          bufferSize,
	})

	r := &Region{path: path, data: data, layout: layout}
	r.state().SetCapacity(capacity)
	return r, nil
}

// Open maps an existing region read-write, reading the TopicHeader it was
// created with rather than assuming the caller's own idea of capacity —
// this is what lets two processes that independently computed the same
// (channel, topic) agree on layout after a broker restart (spec.md §9.3's
// "opening an existing shared region twice yields equal TopicHeader").
func Open(path string) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindRegionCorrupt, "region.Open", err)
	}
	defer unix.Close(fd)

	st, err := os.Stat(path)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindRegionCorrupt, "region.Open", err)
	}

	probe, err := unix.Mmap(fd, 0, headerSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindRegionCorrupt, "region.Open", err)
	}
	hdr := readHeader(probe)
	unix.Munmap(probe)

	layout := Layout{Capacity: hdr.BufferItemCapacity, BufferSize: hdr.BufferSize}
	if int64(layout.TotalSize()) != st.Size() {
		return nil, xerror.New(xerror.KindRegionCorrupt, "region.Open: size mismatch against header")
	}

	data, err := unix.Mmap(fd, 0, layout.TotalSize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindRegionCorrupt, "region.Open", err)
	}

	return &Region{path: path, data: data, layout: layout}, nil
}

// OpenReadOnly maps an existing region read-only except that callers are
// still permitted (by the OS, not by this wrapper) to CAS their own
// SlotRecord row — per spec.md, clients may only ever touch the one row
// they own, so ringbus maps the whole region read-write and relies on
// discipline at the subtable layer rather than per-page protection, which
// would require splitting the mapping at slot granularity for no real
// safety gain within a single trusted host's processes.
func OpenReadOnly(path string) (*Region, error) {
	return Open(path)
}

// Close unmaps the region. It does not remove the backing file; use Remove
// for that (component F's RemoveTopic does both).
func (r *Region) Close() error {
	return unix.Munmap(r.data)
}

// Remove unlinks the backing shm file. Safe to call after Close.
func Remove(path string) error {
	return os.Remove(path)
}

// Header returns the region's TopicHeader.
func (r *Region) Header() TopicHeader {
	return readHeader(r.data[r.layout.headerOffset():])
}

// SlotTableBytes returns the raw SlotRecord[N] block for internal/subtable
// to wrap as a subtable.Table.
func (r *Region) SlotTableBytes() []byte {
	off := r.layout.slotTableOffset()
	return r.data[off : off+r.layout.slotTableSize()]
}

// SlotRecordSize is the on-disk size of one SlotRecord, exported for
// internal/subtable's indexing.
const SlotRecordSize = slotRecordSize

// Ring returns a ring.Ring backed directly by this region's RingState and
// Entry[C]/Arena[buffer_size] sections — writes through it are visible to
// every other process with this region mapped.
func (r *Region) Ring() *ring.Ring {
	a := arena.New(r.data[r.layout.arenaOffset() : r.layout.arenaOffset()+int(r.layout.BufferSize)])
	entries := &mappedEntries{buf: r.data[r.layout.entriesOffset() : r.layout.entriesOffset()+r.layout.entriesSize()]}
	return ring.NewView(a, entries, r.state())
}

func (r *Region) state() *mappedState {
	return &mappedState{buf: r.data[r.layout.ringStateOffset() : r.layout.ringStateOffset()+ringStateSize]}
}

// atPtr reinterprets an 8-byte-aligned slice offset as a *uint64 for
// atomic cross-process access, the same technique
// sakateka-yanet2's pdump ring buffer uses for its writeIdx/readableIdx
// pointers into mmap'd packet capture memory.
func atPtr(buf []byte, offset int) *uint64 {
	return (*uint64)(unsafe.Pointer(&buf[offset]))
}

// mappedState implements ring.StateView over RingState's three u64 fields.
type mappedState struct {
	buf []byte
}

func (s *mappedState) NextIndex() uint64    { return atomic.LoadUint64(atPtr(s.buf, 0)) }
func (s *mappedState) SetNextIndex(v uint64) { atomic.StoreUint64(atPtr(s.buf, 0), v) }
func (s *mappedState) AddNextIndex(d uint64) uint64 {
	return atomic.AddUint64(atPtr(s.buf, 0), d)
}
func (s *mappedState) CurrentSize() uint64     { return atomic.LoadUint64(atPtr(s.buf, 8)) }
func (s *mappedState) SetCurrentSize(v uint64) { atomic.StoreUint64(atPtr(s.buf, 8), v) }
func (s *mappedState) SetCapacity(v uint64)    { atomic.StoreUint64(atPtr(s.buf, 16), v) }
func (s *mappedState) Capacity() uint64        { return atomic.LoadUint64(atPtr(s.buf, 16)) }

// mappedEntries implements ring.EntryView over Entry[C], laid out as
// repeated {size, type, offset, generation} u64 quadruples.
type mappedEntries struct {
	buf []byte
}

func (e *mappedEntries) slotCount() uint64 { return uint64(len(e.buf) / entrySize) }

func (e *mappedEntries) Get(i uint64) ring.EntryRecord {
	off := int(i%e.slotCount()) * entrySize
	return ring.EntryRecord{
		Size:       atomic.LoadUint64(atPtr(e.buf, off)),
		Type:       atomic.LoadUint64(atPtr(e.buf, off+8)),
		Offset:     atomic.LoadUint64(atPtr(e.buf, off+16)),
		Generation: atomic.LoadUint64(atPtr(e.buf, off+24)),
	}
}

func (e *mappedEntries) Set(i uint64, rec ring.EntryRecord) {
	off := int(i%e.slotCount()) * entrySize
	// Order matters for a concurrent reader racing a wrap: write the
	// variable fields first and the generation counter last, so a reader
	// that observes the new generation is guaranteed to see the new
	// size/type/offset too.
	atomic.StoreUint64(atPtr(e.buf, off), rec.Size)
	atomic.StoreUint64(atPtr(e.buf, off+8), rec.Type)
	atomic.StoreUint64(atPtr(e.buf, off+16), rec.Offset)
	atomic.StoreUint64(atPtr(e.buf, off+24), rec.Generation)
}
