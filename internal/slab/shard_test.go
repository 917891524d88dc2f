package slab

import "testing"

func TestShardInsertRemoveReinsert(t *testing.T) {
	t.Parallel()

	l, err := NewLayout(Config{InitialPageSize: 4, MaxPages: 3}, 2)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	s := NewShard[string](l, 1)
	geom := s.Geometry()

	key, ok := s.Insert("first", geom)
	if !ok {
		t.Fatal("Insert should succeed on an empty shard")
	}
	d, ok := l.Decode(key)
	if !ok {
		t.Fatal("Decode should succeed for a freshly-packed key")
	}
	if d.ShardIndex != 1 {
		t.Fatalf("ShardIndex=%d, want 1 (the shard that packed it)", d.ShardIndex)
	}

	page := s.PageIfAllocated(d.PageIndex)
	if page == nil {
		t.Fatal("page should be allocated after Insert")
	}
	slot := page.Get(int(d.SlotOffset))
	if !slot.Contains(d.Generation, geom) {
		t.Fatal("slot should contain the inserted value's generation")
	}

	container, ok := slot.Remove(d.Generation, geom, uint32(page.Capacity()))
	if !ok || container.Value() != "first" {
		t.Fatalf("Remove: ok=%v value=%v", ok, container)
	}
	page.PushFree(int(d.SlotOffset))
	s.MarkRemoved()

	key2, ok := s.Insert("second", geom)
	if !ok {
		t.Fatal("Insert after Remove should still succeed")
	}
	d2, ok := l.Decode(key2)
	if !ok {
		t.Fatal("Decode should succeed for the reinserted key")
	}
	if d2.PageIndex != d.PageIndex || d2.SlotOffset != d.SlotOffset {
		t.Fatalf("expected the reclaimed offset to be reused: got page=%d offset=%d, want page=%d offset=%d",
			d2.PageIndex, d2.SlotOffset, d.PageIndex, d.SlotOffset)
	}
	if d2.Generation == d.Generation {
		t.Fatal("reinsertion into a reclaimed slot must bump the generation")
	}
}

func TestShardReserveAbandonReturnsSlotUnoccupied(t *testing.T) {
	t.Parallel()

	l, err := NewLayout(Config{InitialPageSize: 4, MaxPages: 1}, 1)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	s := NewShard[string](l, 0)

	page, offset, key, ok := s.Reserve()
	if !ok {
		t.Fatal("Reserve should succeed")
	}
	d, ok := l.Decode(key)
	if !ok {
		t.Fatal("Decode should succeed for a reserved key")
	}
	if page.Get(offset).Contains(d.Generation, s.Geometry()) {
		t.Fatal("a reserved-but-uninstalled slot must not report as occupied")
	}

	s.Abandon(page, offset)
	if s.Occupied() != 0 {
		t.Fatalf("Occupied()=%d after Abandon, want 0", s.Occupied())
	}

	// The abandoned offset should be reusable.
	page2, offset2, _, ok := s.Reserve()
	if !ok || page2 != page || offset2 != offset {
		t.Fatalf("expected Reserve to recycle the abandoned slot: got page=%v offset=%d ok=%v", page2, offset2, ok)
	}
}

func TestShardInsertExhaustsCapacity(t *testing.T) {
	t.Parallel()

	l, err := NewLayout(Config{InitialPageSize: 2, MaxPages: 2}, 1)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	s := NewShard[int](l, 0)
	geom := s.Geometry()

	capacity := l.Capacity()
	for i := 0; i < capacity; i++ {
		if _, ok := s.Insert(i, geom); !ok {
			t.Fatalf("Insert %d/%d should have succeeded", i, capacity)
		}
	}
	if _, ok := s.Insert(capacity, geom); ok {
		t.Fatal("Insert past capacity should fail")
	}
}
