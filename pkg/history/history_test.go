package history

import "testing"

func TestStore_RecordAndSnapshot(t *testing.T) {
	s := NewStore(3)

	s.Record(Sample{Mode: "Idle", SplitRatio: 100})
	s.Record(Sample{Mode: "Warmup", SplitRatio: 100})
	s.Record(Sample{Mode: "Stable", SplitRatio: 80})

	got := s.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len(Snapshot()) = %d, want 3", len(got))
	}
	if got[0].Mode != "Idle" || got[2].Mode != "Stable" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestStore_RingOverwritesOldest(t *testing.T) {
	s := NewStore(2)
	s.Record(Sample{Mode: "a"})
	s.Record(Sample{Mode: "b"})
	s.Record(Sample{Mode: "c"})

	got := s.Snapshot()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Mode != "b" || got[1].Mode != "c" {
		t.Fatalf("got %+v, want [b c]", got)
	}
}

func TestStore_EmptySnapshot(t *testing.T) {
	s := NewStore(5)
	if got := s.Snapshot(); got != nil {
		t.Fatalf("Snapshot() on empty store = %v, want nil", got)
	}
}

func TestNewStore_ClampsSmallCapacity(t *testing.T) {
	s := NewStore(0)
	if s.capacity != 2 {
		t.Fatalf("capacity = %d, want clamped to 2", s.capacity)
	}
}
