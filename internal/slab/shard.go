package slab

import "sync/atomic"

// Shard is a fixed-size array of MAX_PAGES page handles, each an atomic
// pointer, initially all null. A Shard is owned exclusively by the Idr
// façade; its pages are read by any thread. This generalizes the teacher's
// per-shard ownership model (pkg/shard.go: one map+clock+genring per shard)
// to "one array of lazily-allocated pages per shard."
type Shard[T any] struct {
	pages    []atomic.Pointer[Page[T]]
	layout   *Layout
	geom     Geometry
	index    uint32
	occupied atomic.Int64
}

// NewShard builds an empty shard (no pages allocated yet) for the given
// layout. index is this shard's position among its Idr's shard array and is
// folded into every key this shard packs, so Decode can route a lookup back
// to it without the caller naming a shard explicitly.
func NewShard[T any](layout *Layout, index uint32) *Shard[T] {
	return &Shard[T]{
		pages:  make([]atomic.Pointer[Page[T]], layout.MaxPages()),
		layout: layout,
		index:  index,
		geom: Geometry{
			GenBits:       layout.GenerationBits(),
			OffsetBits:    layout.SlotOffsetBits(),
			MaxGeneration: layout.MaxGeneration(),
		},
	}
}

// PageIfAllocated returns the page at idx without allocating it; nil if no
// insertion has ever targeted this page.
func (s *Shard[T]) PageIfAllocated(idx uint32) *Page[T] {
	if idx >= uint32(len(s.pages)) {
		return nil
	}
	return s.pages[idx].Load()
}

// getOrCreatePage lazily builds the page at idx on first insertion into it.
// A losing CAS discards its freshly built candidate; the slot array it
// allocated becomes ordinary garbage.
func (s *Shard[T]) getOrCreatePage(idx uint32) *Page[T] {
	if existing := s.pages[idx].Load(); existing != nil {
		return existing
	}
	candidate := newPage[T](s.layout.PageCapacity(idx), s.geom)
	if s.pages[idx].CompareAndSwap(nil, candidate) {
		return candidate
	}
	return s.pages[idx].Load()
}

// Insert walks pages in order, allocating each lazily, until one yields a
// free slot. Returns the packed key on success; false if every page in this
// shard is full (capacity exhausted — spec.md §7).
func (s *Shard[T]) Insert(value T, geom Geometry) (Key, bool) {
	for p := uint32(0); p < s.layout.MaxPages(); p++ {
		page := s.getOrCreatePage(p)
		offset, ok := page.TryClaimFreeSlot()
		if !ok {
			continue
		}
		generation := page.Get(offset).Install(value, geom)
		ordinal := s.layout.OrdinalOf(p, uint32(offset))
		s.occupied.Add(1)
		return s.layout.Pack(s.index, ordinal, generation), true
	}
	return 0, false
}

// Reserve claims a slot without installing a value, for VacantEntry
// two-phase insertion (spec.md §4.5). It returns the page, offset, and the
// prospective key (whose generation is already fixed — the slot keeps it
// until install or an abandoned reservation is pushed back to the free
// stack).
func (s *Shard[T]) Reserve() (page *Page[T], offset int, key Key, ok bool) {
	for p := uint32(0); p < s.layout.MaxPages(); p++ {
		pg := s.getOrCreatePage(p)
		off, claimed := pg.TryClaimFreeSlot()
		if !claimed {
			continue
		}
		meta := pg.Get(off).meta.Load()
		_, generation := decodeMeta(meta, s.geom)
		ordinal := s.layout.OrdinalOf(p, uint32(off))
		s.occupied.Add(1)
		return pg, off, s.layout.Pack(s.index, ordinal, generation), true
	}
	return nil, 0, 0, false
}

// Abandon returns a reserved-but-never-installed slot to its page's free
// stack without ever marking it occupied.
func (s *Shard[T]) Abandon(page *Page[T], offset int) {
	page.PushFree(offset)
	s.occupied.Add(-1)
}

// MarkRemoved decrements the shard's occupied counter; called once a
// previously-installed slot is CASed back to vacant by Remove.
func (s *Shard[T]) MarkRemoved() { s.occupied.Add(-1) }

// Occupied returns the shard's current live-entry count (includes slots
// reserved by a VacantEntry that has not yet installed a value).
func (s *Shard[T]) Occupied() int64 { return s.occupied.Load() }

// Geometry exposes the shard's derived bit widths, needed by callers that
// operate directly on Slot/Page (the Idr façade).
func (s *Shard[T]) Geometry() Geometry { return s.geom }

// Layout exposes the shard's key-codec layout.
func (s *Shard[T]) Layout() *Layout { return s.layout }

// Index returns this shard's position in its Idr's shard array.
func (s *Shard[T]) Index() uint32 { return s.index }
