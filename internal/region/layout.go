// Package region memory-maps one topic's shared region and presents it as
// the ring.EntryView/ring.StateView pair plus the subscriber SlotRecord
// table, per SPEC_FULL.md §6.1's byte layout. It is the only package that
// knows the on-disk byte offsets; everything above it (topic, broker,
// client) works against the ring.Ring and subtable abstractions.
package region

import (
	"encoding/binary"
)

// SlotCount is N in SPEC_FULL.md §6.1 — the fixed subscriber table size.
const SlotCount = 256

// slotRecordSize is the on-disk size of one SlotRecord: pid, notified,
// start_index (three u64) plus one u64 flag word holding the active and
// pending_remove bits.
const slotRecordSize = 32

// headerSize is the on-disk size of TopicHeader: four u64 fields.
const headerSize = 32

// ringStateSize is the on-disk size of RingState: next_index,
// current_size, capacity — three u64 fields.
const ringStateSize = 24

// entrySize matches ring.EntrySize; duplicated as a constant here (rather
// than importing ring, which would create an import cycle through
// region's own ring.EntryView implementation) and asserted equal to it at
// init.
const entrySize = 32

func init() {
	if entrySize != 32 {
		panic("region: entrySize constant drifted from ring.EntrySize")
	}
}

// Layout resolves the byte offsets of every section within a mapped topic
// region, given its item capacity C and arena byte size, per SPEC_FULL.md
// §6.1:
//
//	TopicHeader | SlotRecord[N] | RingState | Entry[C] | Arena[buffer_size]
type Layout struct {
	Capacity   uint64
	BufferSize uint64
}

func (l Layout) headerOffset() int { return 0 }
func (l Layout) slotTableOffset() int {
	return l.headerOffset() + headerSize
}
func (l Layout) slotTableSize() int { return SlotCount * slotRecordSize }
func (l Layout) ringStateOffset() int {
	return l.slotTableOffset() + l.slotTableSize()
}
func (l Layout) entriesOffset() int {
	return l.ringStateOffset() + ringStateSize
}
func (l Layout) entriesSize() int {
	return int(l.Capacity) * entrySize
}
func (l Layout) arenaOffset() int {
	return l.entriesOffset() + l.entriesSize()
}

// TotalSize returns the full region size in bytes, matching
// arenaOffset()+BufferSize.
func (l Layout) TotalSize() int {
	return l.arenaOffset() + int(l.BufferSize)
}

// TopicHeader is the region's leading fixed block, written once at
// creation and read (never written) by every subsequent opener.
type TopicHeader struct {
	TotalBufferSize     uint64
	SubscriberTableSize uint64
	BufferItemCapacity  uint64
	BufferSize          uint64
}

func readHeader(buf []byte) TopicHeader {
	return TopicHeader{
		TotalBufferSize:     binary.LittleEndian.Uint64(buf[0:8]),
		SubscriberTableSize: binary.LittleEndian.Uint64(buf[8:16]),
		BufferItemCapacity:  binary.LittleEndian.Uint64(buf[16:24]),
		BufferSize:          binary.LittleEndian.Uint64(buf[24:32]),
	}
}

func writeHeader(buf []byte, h TopicHeader) {
	binary.LittleEndian.PutUint64(buf[0:8], h.TotalBufferSize)
	binary.LittleEndian.PutUint64(buf[8:16], h.SubscriberTableSize)
	binary.LittleEndian.PutUint64(buf[16:24], h.BufferItemCapacity)
	binary.LittleEndian.PutUint64(buf[24:32], h.BufferSize)
}
