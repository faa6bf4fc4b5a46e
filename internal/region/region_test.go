package region

import "testing"

func testLayout() Layout {
	return NewLayout(4096, 4096, 1024, 8, 0)
}

func TestNewRegionZeroed(t *testing.T) {
	r := New(testLayout())

	if got := atomicLoad(r.InHead()); got != 0 {
		t.Errorf("expected in_head == 0, got %d", got)
	}
	if got := atomicLoad(r.InWriteLock()); got != 0 {
		t.Errorf("expected in_write_lock == 0, got %d", got)
	}
}

func atomicLoad(p *uint32) uint32 { return *p }

func TestNodeTreeEmptySlots(t *testing.T) {
	r := New(testLayout())

	entries, version, dropped := r.Tree()
	if len(entries) != 0 {
		t.Errorf("expected 0 entries on a fresh region, got %d", len(entries))
	}
	if version != 0 {
		t.Errorf("expected version 0, got %d", version)
	}
	if dropped != 0 {
		t.Errorf("expected dropped_count 0, got %d", dropped)
	}
}

func TestNextNodeIDStartsAtSeed(t *testing.T) {
	r := New(testLayout())

	first := r.NextNodeID(1000)
	second := r.NextNodeID(1000)

	if first != 1000 {
		t.Errorf("expected first node ID 1000, got %d", first)
	}
	if second != 1001 {
		t.Errorf("expected second node ID 1001, got %d", second)
	}
}

func TestNTPStartRoundTrip(t *testing.T) {
	r := New(testLayout())

	r.SetNTPStart(3912345678.5)
	if got := r.NTPStart(); got != 3912345678.5 {
		t.Errorf("expected NTPStart 3912345678.5, got %v", got)
	}
}

func TestDriftAndGlobalOffset(t *testing.T) {
	r := New(testLayout())

	r.SetDriftMs(-7)
	if got := r.DriftMs(); got != -7 {
		t.Errorf("expected drift -7, got %d", got)
	}

	r.SetGlobalOffsetMs(42)
	if got := r.GlobalOffsetMs(); got != 42 {
		t.Errorf("expected global offset 42, got %d", got)
	}
}
