package ring

// EntrySize is the on-disk/on-wire size of one EntryRecord: four 8-byte
// little-endian fields, matching the shared-region layout in SPEC_FULL.md
// §6.1 (size, type, offset) plus the generation counter added per the
// staleness-detection decision recorded there (§5, item 2).
const EntrySize = 32

// EntryRecord is a fixed-size index record locating one payload inside the
// arena.
type EntryRecord struct {
	Size       uint64
	Type       uint64
	Offset     uint64
	Generation uint64
}

// EntryView exposes the ring's entries[] array. Implementations back it
// either with a private Go slice (ring.New) or a memory-mapped shared
// region (internal/region).
type EntryView interface {
	Get(i uint64) EntryRecord
	Set(i uint64, e EntryRecord)
}

// sliceEntries is the simplest EntryView: a private, non-shared array of
// entries, used by the in-process rings that New builds.
type sliceEntries struct {
	records []EntryRecord
}

func newSliceEntries(capacity int) *sliceEntries {
	return &sliceEntries{records: make([]EntryRecord, capacity)}
}

func (s *sliceEntries) Get(i uint64) EntryRecord {
	return s.records[i%uint64(len(s.records))]
}

func (s *sliceEntries) Set(i uint64, e EntryRecord) {
	s.records[i%uint64(len(s.records))] = e
}
