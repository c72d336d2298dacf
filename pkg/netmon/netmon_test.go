package netmon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileRDMASource_MeasurePerformance(t *testing.T) {
	dir := t.TempDir()
	latencyPath := filepath.Join(dir, "latency")
	throughputPath := filepath.Join(dir, "throughput")

	if err := os.WriteFile(latencyPath, []byte("42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(throughputPath, []byte("1234"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &FileRDMASource{LatencyPath: latencyPath, ThroughputPath: throughputPath}
	s := src.MeasurePerformance()
	if s.Latency != 42 || s.Throughput != 1234 {
		t.Fatalf("got %+v, want {42 1234}", s)
	}
}

func TestFileRDMASource_MissingFileReturnsZero(t *testing.T) {
	src := &FileRDMASource{LatencyPath: "/does/not/exist", ThroughputPath: "/does/not/exist/either"}
	s := src.MeasurePerformance()
	if s.Latency != 0 || s.Throughput != 0 {
		t.Fatalf("got %+v, want zero sample on missing files", s)
	}
}

func TestFileRDMASource_UnparsableReturnsZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage")
	if err := os.WriteFile(path, []byte("not-a-number"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := &FileRDMASource{LatencyPath: path, ThroughputPath: path}
	s := src.MeasurePerformance()
	if s.Latency != 0 || s.Throughput != 0 {
		t.Fatalf("got %+v, want zero sample on unparsable files", s)
	}
}

func TestStatCounterIOPSSource_FirstCallReturnsZero(t *testing.T) {
	src := &StatCounterIOPSSource{
		ReadCounters: func() (uint64, uint64, error) { return 100, 50, nil },
	}
	if got := src.IOPS(time.Second); got != 0 {
		t.Fatalf("first call: IOPS = %d, want 0", got)
	}
}

func TestStatCounterIOPSSource_Delta(t *testing.T) {
	calls := 0
	src := &StatCounterIOPSSource{
		ReadCounters: func() (uint64, uint64, error) {
			calls++
			if calls == 1 {
				return 100, 50, nil
			}
			return 200, 150, nil // +200 total over 1s
		},
	}
	src.IOPS(time.Second) // seed baseline
	got := src.IOPS(time.Second)
	if got != 200 {
		t.Fatalf("IOPS = %d, want 200", got)
	}
}

func TestStatCounterIOPSSource_ErrorReturnsZeroAndKeepsBaseline(t *testing.T) {
	good := true
	src := &StatCounterIOPSSource{
		ReadCounters: func() (uint64, uint64, error) {
			if good {
				good = false
				return 100, 0, nil
			}
			return 0, 0, errors.New("read failed")
		},
	}
	src.IOPS(time.Second)
	if got := src.IOPS(time.Second); got != 0 {
		t.Fatalf("IOPS on error = %d, want 0", got)
	}
}

func TestStatCounterIOPSSource_CounterResetDoesNotGoNegative(t *testing.T) {
	calls := 0
	src := &StatCounterIOPSSource{
		ReadCounters: func() (uint64, uint64, error) {
			calls++
			if calls == 1 {
				return 1000, 0, nil
			}
			return 10, 0, nil // counter reset / restart
		},
	}
	src.IOPS(time.Second)
	if got := src.IOPS(time.Second); got != 0 {
		t.Fatalf("IOPS after counter reset = %d, want 0 (never negative)", got)
	}
}

func TestStatCounterIOPSSource_NilReadCounters(t *testing.T) {
	src := &StatCounterIOPSSource{}
	if got := src.IOPS(time.Second); got != 0 {
		t.Fatalf("IOPS with nil ReadCounters = %d, want 0", got)
	}
}
