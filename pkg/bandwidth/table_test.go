package bandwidth

import (
	"strings"
	"testing"
)

func TestLookup_ExactGridPoint(t *testing.T) {
	tbl := Default()

	got := tbl.Lookup(16, 1, 100)
	if got <= 0 {
		t.Fatalf("Lookup(16,1,100) = %d, want > 0", got)
	}
}

func TestLookup_MonotonicBySplit(t *testing.T) {
	tbl := Default()

	prev := int64(-1)
	for _, s := range []int{0, 20, 40, 60, 80, 100} {
		v := tbl.Lookup(16, 1, s)
		if v < prev {
			t.Fatalf("Lookup(16,1,%d) = %d, not >= previous %d; expected cache-heavier splits to not decrease IOPS", s, v, prev)
		}
		prev = v
	}
}

func TestLookup_NearestOffGrid(t *testing.T) {
	tbl := Default()

	exact := tbl.Lookup(16, 1, 50)
	nearby := tbl.Lookup(16, 1, 51) // not on the 10%-step grid
	if nearby != exact {
		t.Fatalf("Lookup(16,1,51) = %d, want nearest-grid value %d", nearby, exact)
	}
}

func TestLookup_UnsampledDimensionReturnsZero(t *testing.T) {
	tbl := Default()

	if got := tbl.Lookup(9999, 9999, 100); got != 0 {
		t.Fatalf("Lookup on unsampled dimension = %d, want 0", got)
	}
}

func TestLoad_SkipsHeaderAndMalformedRows(t *testing.T) {
	csv := "io_depth,num_jobs,split_percent,iops\n1,1,0,100\nbad,row,here\n1,1,100,200\n"
	tbl, err := Load(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := tbl.Lookup(1, 1, 0); got != 100 {
		t.Fatalf("Lookup(1,1,0) = %d, want 100", got)
	}
	if got := tbl.Lookup(1, 1, 100); got != 200 {
		t.Fatalf("Lookup(1,1,100) = %d, want 200", got)
	}
}
