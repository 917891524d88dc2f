package slab

import "testing"

func testGeometry() Geometry {
	l, err := NewLayout(DefaultConfig, 1)
	if err != nil {
		panic(err)
	}
	return Geometry{GenBits: l.GenerationBits(), OffsetBits: l.SlotOffsetBits(), MaxGeneration: l.MaxGeneration()}
}

func TestSlotInstallThenRead(t *testing.T) {
	t.Parallel()

	geom := testGeometry()
	var s Slot[int]
	s.seedVacant(0, geom)

	gen := s.Install(42, geom)
	c, ok := s.Read(gen, geom)
	if !ok {
		t.Fatal("Read after Install should hit")
	}
	if c.Value() != 42 {
		t.Fatalf("Value()=%d, want 42", c.Value())
	}
}

func TestSlotReadMissesOnGenerationMismatch(t *testing.T) {
	t.Parallel()

	geom := testGeometry()
	var s Slot[int]
	s.seedVacant(0, geom)
	gen := s.Install(7, geom)

	if _, ok := s.Read(gen+1, geom); ok {
		t.Fatal("Read with wrong generation should miss")
	}
}

func TestSlotRemoveInvalidatesOldGeneration(t *testing.T) {
	t.Parallel()

	geom := testGeometry()
	var s Slot[int]
	s.seedVacant(0, geom)
	gen := s.Install(7, geom)

	c, ok := s.Remove(gen, geom, 999)
	if !ok {
		t.Fatal("Remove should succeed against the matching generation")
	}
	if c.Value() != 7 {
		t.Fatalf("Remove returned container with Value()=%d, want 7", c.Value())
	}
	if _, ok := s.Read(gen, geom); ok {
		t.Fatal("Read against a removed generation should miss")
	}
	if s.Contains(gen, geom) {
		t.Fatal("Contains against a removed generation should be false")
	}
}

func TestSlotRemoveTwiceFails(t *testing.T) {
	t.Parallel()

	geom := testGeometry()
	var s Slot[int]
	s.seedVacant(0, geom)
	gen := s.Install(7, geom)

	if _, ok := s.Remove(gen, geom, 0); !ok {
		t.Fatal("first Remove should succeed")
	}
	if _, ok := s.Remove(gen, geom, 0); ok {
		t.Fatal("second Remove against the same generation should fail")
	}
}

func TestContainerAcquireIfAliveRejectsDeadContainer(t *testing.T) {
	t.Parallel()

	c := &Container[int]{}
	c.strong.Store(1)
	c.Release() // strong count now 0

	if c.AcquireIfAlive() {
		t.Fatal("AcquireIfAlive should fail once strong count reaches zero")
	}
}

func TestContainerAcquireIfAliveSucceedsWhileAlive(t *testing.T) {
	t.Parallel()

	c := &Container[int]{}
	c.strong.Store(1)

	if !c.AcquireIfAlive() {
		t.Fatal("AcquireIfAlive should succeed while strong count > 0")
	}
	if c.StrongCount() != 2 {
		t.Fatalf("StrongCount()=%d, want 2", c.StrongCount())
	}
}
