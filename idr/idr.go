package idr

import (
	"encoding/binary"
	"iter"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/Voskan/idr/internal/ebr"
	"github.com/Voskan/idr/internal/obs"
	"github.com/Voskan/idr/internal/slab"
	"github.com/Voskan/idr/internal/threadid"
)

// Key is the opaque, non-zero handle Insert/VacantEntry hand back. It is a
// type alias (not a defined type) so slab.Key's Valid/Uint64 methods carry
// over without a forwarding layer.
type Key = slab.Key

// KeyFromUint64 reconstructs a Key from its wire form, rejecting zero.
// Reserved-bit, shard-range, and generation validation happen lazily on the
// first Get/Remove/Contains call against it.
func KeyFromUint64(u uint64) (Key, bool) { return slab.KeyFromUint64(u) }

// Idr is a concurrent slab allocator: Insert is lock-free and routes to a
// shard chosen by the calling goroutine's thread identity; Get/Remove/
// Contains decode the target shard straight out of the key.
type Idr[T any] struct {
	shards    []*slab.Shard[T]
	layout    *slab.Layout
	ebr       *ebr.Engine
	metrics   obs.MetricsSink
	logger    *zap.Logger
	shardMask uint32
	hints     hinted[T]
}

// New builds an Idr[T], applying opts over DefaultConfig/a GOMAXPROCS-sized
// shard count.
func New[T any](opts ...Option[T]) (*Idr[T], error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	layout, err := slab.NewLayout(cfg.layout, cfg.shardCount)
	if err != nil {
		return nil, err
	}
	shards := make([]*slab.Shard[T], cfg.shardCount)
	for i := range shards {
		shards[i] = slab.NewShard[T](layout, uint32(i))
	}
	return &Idr[T]{
		shards:    shards,
		layout:    layout,
		ebr:       ebr.New(),
		metrics:   obs.NewSink(int(cfg.shardCount), cfg.registry),
		logger:    cfg.logger,
		shardMask: cfg.shardCount - 1,
	}, nil
}

// shardFor picks the calling goroutine's shard by thread identity, per
// spec.md's "IDR routes inserts to a shard derived from thread identity."
// threadid.Current returns a small, densely-packed P id, which would
// otherwise map adjacent goroutines onto adjacent shards in lockstep with
// GOMAXPROCS; it is run through xxhash first (the same hash-to-bucket idiom
// the teacher's pkg/cache.go uses for its maphash-based shard routing) so
// shard assignment doesn't track P-id parity.
func (r *Idr[T]) shardFor() *slab.Shard[T] {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(threadid.Current()))
	idx := uint32(xxhash.Sum64(buf[:])) & r.shardMask
	return r.shards[idx]
}

func (r *Idr[T]) shardForKey(key Key) (*slab.Shard[T], slab.Decoded, bool) {
	d, ok := r.layout.Decode(key)
	if !ok {
		return nil, slab.Decoded{}, false
	}
	if d.ShardIndex >= uint32(len(r.shards)) {
		return nil, slab.Decoded{}, false
	}
	return r.shards[d.ShardIndex], d, true
}

// Insert stores value in the calling goroutine's shard and returns a Key
// usable from any goroutine from then on. ok is false only when every page
// up to MaxPages in that shard is already full.
func (r *Idr[T]) Insert(value T) (Key, bool) {
	s := r.shardFor()
	key, ok := s.Insert(value, s.Geometry())
	if !ok {
		r.metrics.IncInsertFailure(s.Index())
		r.logger.Warn("idr: insert failed, shard exhausted", zap.Uint32("shard", s.Index()))
		return 0, false
	}
	r.metrics.SetOccupied(s.Index(), s.Occupied())
	return key, true
}

// VacantEntry reserves a slot without publishing a value, for callers that
// need the Key before the value is fully constructed (e.g. a value that
// embeds its own key). ok is false under the same capacity-exhaustion
// condition as Insert.
func (r *Idr[T]) VacantEntry() (VacantEntry[T], bool) {
	s := r.shardFor()
	page, offset, key, ok := s.Reserve()
	if !ok {
		r.metrics.IncInsertFailure(s.Index())
		return VacantEntry[T]{}, false
	}
	return VacantEntry[T]{idr: r, shard: s, page: page, offset: offset, key: key}, true
}

// Remove invalidates key: the underlying slot's generation advances so every
// existing copy of key (and any BorrowedEntry/OwnedEntry already read from
// it) is logically stale, though a live OwnedEntry's strong reference keeps
// the value itself readable until the entry is dropped. The slot is not
// handed back to its page's free stack until the epoch active at the moment
// of removal has fully drained, so a Get racing the removal either
// completes cleanly against the old generation or observes the slot as
// already vacant — never a half-recycled state.
func (r *Idr[T]) Remove(key Key) bool {
	s, d, ok := r.shardForKey(key)
	if !ok {
		return false
	}
	page := s.PageIfAllocated(d.PageIndex)
	if page == nil {
		return false
	}
	slot := page.Get(int(d.SlotOffset))
	container, ok := slot.Remove(d.Generation, s.Geometry(), uint32(page.Capacity()))
	if !ok {
		return false
	}

	wrapped := d.Generation == s.Layout().MaxGeneration()
	r.metrics.IncRemove(d.ShardIndex)
	if wrapped {
		r.metrics.IncGenerationWrap(d.ShardIndex)
		r.logger.Info("idr: slot generation wrapped", zap.Uint32("shard", d.ShardIndex), zap.Uint32("page", d.PageIndex))
	}

	offset := int(d.SlotOffset)
	r.ebr.DeferDestroy(func() {
		container.Release()
		page.PushFree(offset)
		s.MarkRemoved()
		r.metrics.SetOccupied(d.ShardIndex, s.Occupied())
	})
	return true
}

// Get resolves key to a BorrowedEntry scoped to g. ok is false when key is
// malformed, stale (the slot was removed, or reused under a different
// generation), or points past this Idr's shard/page bounds.
func (r *Idr[T]) Get(key Key, g *ebr.Guard) (BorrowedEntry[T], bool) {
	s, d, ok := r.shardForKey(key)
	if !ok {
		return BorrowedEntry[T]{}, false
	}
	page := s.PageIfAllocated(d.PageIndex)
	if page == nil {
		r.metrics.IncMiss(d.ShardIndex)
		return BorrowedEntry[T]{}, false
	}
	c, ok := page.Get(int(d.SlotOffset)).Read(d.Generation, s.Geometry())
	if !ok {
		r.metrics.IncMiss(d.ShardIndex)
		return BorrowedEntry[T]{}, false
	}
	r.metrics.IncHit(d.ShardIndex)
	return BorrowedEntry[T]{container: c, guard: g}, true
}

// GetOwned resolves key to an OwnedEntry independent of any guard: it holds
// its own strong reference and remains valid even after key is later
// removed, until the entry itself is dropped.
func (r *Idr[T]) GetOwned(key Key) (OwnedEntry[T], bool) {
	s, d, ok := r.shardForKey(key)
	if !ok {
		return OwnedEntry[T]{}, false
	}
	page := s.PageIfAllocated(d.PageIndex)
	if page == nil {
		r.metrics.IncMiss(d.ShardIndex)
		return OwnedEntry[T]{}, false
	}
	g := r.ebr.Pin()
	defer g.Unpin()
	c, ok := page.Get(int(d.SlotOffset)).ReadOwned(d.Generation, s.Geometry())
	if !ok {
		r.metrics.IncMiss(d.ShardIndex)
		return OwnedEntry[T]{}, false
	}
	r.metrics.IncHit(d.ShardIndex)
	return OwnedEntry[T]{container: c}, true
}

// Contains reports whether key currently resolves to a live entry, without
// touching the value container.
func (r *Idr[T]) Contains(key Key) bool {
	s, d, ok := r.shardForKey(key)
	if !ok {
		return false
	}
	page := s.PageIfAllocated(d.PageIndex)
	if page == nil {
		return false
	}
	return page.Get(int(d.SlotOffset)).Contains(d.Generation, s.Geometry())
}

// Iter returns a lazy, restartable sequence over every entry live at the
// moment each slot is visited. It holds no snapshot: a slot inserted or
// removed during iteration may or may not be observed, but a removed slot
// is never misreported as live (the generation check in Peek would simply
// not have applied — Peek reports the slot's current state directly, so a
// concurrently-vacated slot is skipped, not corrupted).
func (r *Idr[T]) Iter(g *ebr.Guard) iter.Seq2[Key, BorrowedEntry[T]] {
	return func(yield func(Key, BorrowedEntry[T]) bool) {
		for _, s := range r.shards {
			geom := s.Geometry()
			layout := s.Layout()
			for p := uint32(0); p < layout.MaxPages(); p++ {
				page := s.PageIfAllocated(p)
				if page == nil {
					continue
				}
				for off := 0; off < page.Capacity(); off++ {
					occupied, generation, c := page.Get(off).Peek(geom)
					if !occupied {
						continue
					}
					ordinal := layout.OrdinalOf(p, uint32(off))
					key := layout.Pack(s.Index(), ordinal, generation)
					if !yield(key, BorrowedEntry[T]{container: c, guard: g}) {
						return
					}
				}
			}
		}
	}
}

// Stats is a read-only snapshot of occupancy, for observability.
type Stats struct {
	Len        int64
	Capacity   int64
	ShardCount int
	PerShard   []ShardStats
}

// ShardStats reports one shard's occupancy.
type ShardStats struct {
	Index    uint32
	Occupied int64
	Capacity int64
}

// Stats snapshots current occupancy across every shard. Not atomic as a
// whole — concurrent Insert/Remove calls may land between per-shard reads —
// matching the teacher's Cache.Len/SizeBytes, which make the same tradeoff.
func (r *Idr[T]) Stats() Stats {
	st := Stats{ShardCount: len(r.shards), PerShard: make([]ShardStats, len(r.shards))}
	perShardCapacity := int64(r.layout.Capacity())
	for i, s := range r.shards {
		occ := s.Occupied()
		st.Len += occ
		st.Capacity += perShardCapacity
		st.PerShard[i] = ShardStats{Index: s.Index(), Occupied: occ, Capacity: perShardCapacity}
	}
	return st
}

// Pin begins a read scope; the returned Guard must be passed to Get/Iter and
// released with Unpin once the caller is done dereferencing any
// BorrowedEntry obtained under it.
func (r *Idr[T]) Pin() *ebr.Guard { return r.ebr.Pin() }

// Close flushes any reclamation work still pending. An Idr has no
// background goroutines to stop — every deferred destroy runs inline, on the
// Remove call that triggered it or a later one, or here at Close. Work
// retired while a guard is still pinned stays pending through Close.
func (r *Idr[T]) Close() {
	r.ebr.TryReclaim()
}
