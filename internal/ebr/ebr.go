// Package ebr implements the epoch-based reclamation engine the slab
// package relies on to make Get a pure read: a Guard pins the calling
// goroutine's view of the world, and DeferDestroy schedules a cleanup
// function to run only once every guard that existed at deferral time has
// been released.
//
// The design is grounded on the reader/epoch bookkeeping of a generic
// copy-on-write epoch reclaimer (readers register an entry epoch in a
// shared registry; writers retire resources into per-epoch buckets; a
// reclaim pass frees every bucket older than the oldest epoch any live
// reader could still observe), generalized here from a single B-tree's
// node type to an arbitrary cleanup closure, and from a mutex-guarded map to
// a lock-free sync.Map so that Pin/Unpin never block a concurrent Retire.
//
// © 2025 idr authors. MIT License.
package ebr

import (
	"sync"
	"sync/atomic"
)

// Engine owns the global epoch counter, the registry of live guards, and the
// buckets of retired cleanups awaiting reclamation.
type Engine struct {
	epoch atomic.Uint64

	nextGuardID atomic.Uint64
	liveGuards  sync.Map // guardID uint64 -> *guardState

	retiredMu sync.Mutex
	retired   map[uint64][]func()
}

// guardState is the per-guard bookkeeping kept in the engine's registry.
type guardState struct {
	epoch  uint64
	active atomic.Bool
}

// New constructs an Engine with its epoch counter starting at 1 (0 is
// reserved to mean "no epoch recorded yet").
func New() *Engine {
	e := &Engine{retired: make(map[uint64][]func())}
	e.epoch.Store(1)
	return e
}

// Guard is a scoped handle that pins the engine's current epoch for the
// holding goroutine. While any Guard exists, no cleanup deferred while that
// Guard was live may run. Guards are not safe to share across goroutines
// (matching spec.md §4.4's "current thread" framing) but a single goroutine
// may hold several nested or sequential guards.
type Guard struct {
	engine *Engine
	state  *guardState
	id     uint64
}

// Pin begins a read scope, recording the current epoch. The returned Guard
// must be released with Unpin. Cost is amortized O(1): one atomic load for
// the epoch, one atomic counter increment for the guard id, and one
// lock-free map insert.
func (e *Engine) Pin() *Guard {
	id := e.nextGuardID.Add(1)
	st := &guardState{epoch: e.epoch.Load()}
	st.active.Store(true)
	e.liveGuards.Store(id, st)
	return &Guard{engine: e, state: st, id: id}
}

// Unpin ends the read scope. Safe to call at most once per Guard; a nil
// receiver or double-Unpin is a no-op.
func (g *Guard) Unpin() {
	if g == nil || g.state == nil {
		return
	}
	g.state.active.Store(false)
	g.engine.liveGuards.Delete(g.id)
	g.state = nil
}

// Epoch reports the epoch this guard pinned at.
func (g *Guard) Epoch() uint64 {
	if g == nil || g.state == nil {
		return 0
	}
	return g.state.epoch
}

// Advance bumps the global epoch. Callers don't normally need to call this
// directly — DeferDestroy advances on every retirement so that readers
// entering after a retirement never observe the stale epoch — but it is
// exposed for tests that want to force a reclamation boundary.
func (e *Engine) Advance() uint64 {
	return e.epoch.Add(1)
}

// CurrentEpoch returns the engine's current epoch.
func (e *Engine) CurrentEpoch() uint64 {
	return e.epoch.Load()
}

// DeferDestroy schedules cleanup to run no earlier than the epoch after
// every guard live at the moment of the call has been released. In
// practice this means: retire it at the current epoch, advance the global
// epoch so future Pins land strictly later, and let the next Reclaim pass
// (triggered lazily by later DeferDestroy calls, or explicitly via
// TryReclaim) run it once no live guard's recorded epoch is <= the
// retirement epoch.
func (e *Engine) DeferDestroy(cleanup func()) {
	retireEpoch := e.epoch.Load()

	e.retiredMu.Lock()
	e.retired[retireEpoch] = append(e.retired[retireEpoch], cleanup)
	e.retiredMu.Unlock()

	e.Advance()
	e.TryReclaim()
}

// TryReclaim runs (and discards) every cleanup retired at an epoch strictly
// older than the oldest epoch any currently-live guard could still observe.
// Returns the number of cleanups run. Safe to call concurrently; a cleanup
// is run by exactly one caller (the retired map entry is removed before the
// closures execute).
func (e *Engine) TryReclaim() int {
	minActive := e.minActiveEpoch()

	e.retiredMu.Lock()
	var due []func()
	for epoch, fns := range e.retired {
		if epoch < minActive {
			due = append(due, fns...)
			delete(e.retired, epoch)
		}
	}
	e.retiredMu.Unlock()

	for _, fn := range due {
		fn()
	}
	return len(due)
}

// minActiveEpoch returns the smallest epoch recorded by any guard that is
// still active, or the current epoch if no guard is live (meaning
// everything retired so far is safe to free).
func (e *Engine) minActiveEpoch() uint64 {
	min := e.epoch.Load()
	e.liveGuards.Range(func(_, v any) bool {
		st := v.(*guardState)
		if st.active.Load() && st.epoch < min {
			min = st.epoch
		}
		return true
	})
	return min
}

// PendingCount returns the number of cleanups retired but not yet
// reclaimed, across all epochs. Useful for tests and diagnostics.
func (e *Engine) PendingCount() int {
	e.retiredMu.Lock()
	defer e.retiredMu.Unlock()
	n := 0
	for _, fns := range e.retired {
		n += len(fns)
	}
	return n
}
