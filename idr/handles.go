package idr

import (
	"github.com/Voskan/idr/internal/ebr"
	"github.com/Voskan/idr/internal/slab"
)

// BorrowedEntry is a copyable, guard-scoped view of a live value: valid only
// as long as its guard is pinned. It performs no refcount traffic of its
// own — the cost of a Get is exactly one metadata load plus one container
// pointer load.
type BorrowedEntry[T any] struct {
	container *slab.Container[T]
	guard     *ebr.Guard
}

// Value returns the entry's stored value. Safe to call at any point before
// the owning guard is unpinned.
func (e BorrowedEntry[T]) Value() T {
	return e.container.Value()
}

// ToOwned attempts to promote the borrow into an independent OwnedEntry that
// survives past the guard's Unpin. Returns false if the container's strong
// count had already reached zero — the slot was removed and every other
// strong reference already dropped — in which case the value may no longer
// exist even though this BorrowedEntry's guard is still pinned (spec.md §9
// Open Question (a): this is allowed; the promotion simply fails).
func (e BorrowedEntry[T]) ToOwned() (OwnedEntry[T], bool) {
	if e.container == nil {
		return OwnedEntry[T]{}, false
	}
	if !e.container.AcquireIfAlive() {
		return OwnedEntry[T]{}, false
	}
	return OwnedEntry[T]{container: e.container}, true
}

// OwnedEntry is an independent strong reference to a value: it keeps the
// value alive past both its originating guard and the Idr itself.
type OwnedEntry[T any] struct {
	container *slab.Container[T]
}

// Value returns the entry's stored value.
func (e OwnedEntry[T]) Value() T {
	return e.container.Value()
}

// Clone returns a second OwnedEntry sharing the same container, incrementing
// its strong count. The original remains valid; both must eventually be
// Released.
func (e OwnedEntry[T]) Clone() OwnedEntry[T] {
	e.container.Acquire()
	return OwnedEntry[T]{container: e.container}
}

// Release decrements the strong count. Once every OwnedEntry sharing a
// container (and the slot's own reference, if it has not yet been removed)
// has released, the container becomes garbage and is collected normally —
// Go has no destructor to run, so there is nothing further for Release to
// trigger beyond the refcount bookkeeping itself. Calling Release on a
// zero-value OwnedEntry (one that failed to obtain its container) is a
// no-op.
func (e OwnedEntry[T]) Release() {
	if e.container != nil {
		e.container.Release()
	}
}

// VacantEntry reserves a slot without yet publishing a value, letting a
// caller who needs the key before constructing the value (e.g. a value that
// embeds its own key) obtain one. Exactly one of InsertValue or Abandon must
// be called; neither Key nor the reservation itself is valid to reuse after
// either has run.
type VacantEntry[T any] struct {
	idr   *Idr[T]
	shard *slab.Shard[T]
	page  *slab.Page[T]
	offset int
	key   Key
}

// Key returns the prospective key. It is stable from reservation onward,
// but Get/GetOwned/Contains return none for it until InsertValue publishes a
// value (spec.md §4.5).
func (v VacantEntry[T]) Key() Key { return v.key }

// InsertValue publishes value into the reserved slot and returns the key,
// now resolvable by Get/GetOwned/Contains.
func (v VacantEntry[T]) InsertValue(value T) Key {
	v.page.Get(v.offset).Install(value, v.shard.Geometry())
	v.idr.metrics.SetOccupied(v.shard.Index(), v.shard.Occupied())
	return v.key
}

// Abandon returns the reservation to its page's free stack without ever
// publishing a value. Per spec.md S6, a subsequent Insert on an otherwise-
// empty Idr may or may not reuse this exact slot.
func (v VacantEntry[T]) Abandon() {
	v.shard.Abandon(v.page, v.offset)
}
