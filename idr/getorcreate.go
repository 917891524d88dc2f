package idr

import (
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Voskan/idr/internal/ebr"
)

// errCapacityExhausted is returned internally by the singleflight-guarded
// constructor when Insert found every page full; GetOrCreate surfaces it
// only as a false ok, matching the rest of the package's error taxonomy.
var errCapacityExhausted = errors.New("idr: capacity exhausted")

// hinted bundles the per-Idr state GetOrCreate needs: a map from caller-
// supplied hint strings to the Key already created for that hint, and a
// singleflight.Group that collapses concurrent creators racing the same
// hint into a single Insert — the same thundering-herd guard the teacher's
// loaderGroup gives GetOrLoad, generalized from "load from a LoaderFunc" to
// "construct and Insert a value."
type hinted[T any] struct {
	group singleflight.Group
	keys  sync.Map // hint string -> Key
}

// GetOrCreate resolves hint to an existing entry, or calls fn exactly once
// (even under concurrent callers racing the same hint) to construct one via
// Insert. g scopes the returned BorrowedEntry exactly as with Get.
func (r *Idr[T]) GetOrCreate(hint string, g *ebr.Guard, fn func() T) (Key, BorrowedEntry[T], bool) {
	if v, ok := r.hints.keys.Load(hint); ok {
		key := v.(Key)
		if be, ok := r.Get(key, g); ok {
			return key, be, true
		}
		// The hint's mapped key was removed out from under us; fall through
		// and let singleflight race a fresh Insert for this hint. Use
		// CompareAndDelete rather than Delete: a concurrent caller may have
		// already replaced the mapping with a fresh live key between our
		// Load and here, and an unconditional Delete would erase that
		// instead of the stale entry we actually observed.
		r.hints.keys.CompareAndDelete(hint, key)
	}

	res, err, _ := r.hints.group.Do(hint, func() (any, error) {
		if v, ok := r.hints.keys.Load(hint); ok {
			return v.(Key), nil
		}
		key, ok := r.Insert(fn())
		if !ok {
			return nil, errCapacityExhausted
		}
		r.hints.keys.Store(hint, key)
		return key, nil
	})
	if err != nil {
		return 0, BorrowedEntry[T]{}, false
	}

	key := res.(Key)
	be, ok := r.Get(key, g)
	return key, be, ok
}
