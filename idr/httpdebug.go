package idr

import (
	"encoding/json"
	"net/http"
)

// snapshotView is the JSON shape served at /debug/idr/snapshot, mirroring
// the teacher's examples/basic debug endpoint (which dumps Cache.Len/
// SizeBytes/shard stats as JSON for a running process).
type snapshotView struct {
	Len        int64             `json:"len"`
	Capacity   int64             `json:"capacity"`
	ShardCount int               `json:"shard_count"`
	Shards     []shardSnapshot   `json:"shards"`
}

type shardSnapshot struct {
	Index    uint32 `json:"index"`
	Occupied int64  `json:"occupied"`
	Capacity int64  `json:"capacity"`
}

// SnapshotHandler returns an http.Handler that serves the current Stats() as
// JSON, for wiring into a debug mux the way the teacher wires
// /debug/arena-cache/snapshot alongside /metrics in examples/basic.
func (r *Idr[T]) SnapshotHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		stats := r.Stats()
		view := snapshotView{
			Len:        stats.Len,
			Capacity:   stats.Capacity,
			ShardCount: stats.ShardCount,
			Shards:     make([]shardSnapshot, len(stats.PerShard)),
		}
		for i, s := range stats.PerShard {
			view.Shards[i] = shardSnapshot{Index: s.Index, Occupied: s.Occupied, Capacity: s.Capacity}
		}

		w.Header().Set("Content-Type", "application/json")
		if req.URL.Query().Get("pretty") == "1" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			_ = enc.Encode(view)
			return
		}
		_ = json.NewEncoder(w).Encode(view)
	})
}
