// Package netmon implements the network monitor: sampling RDMA
// latency/throughput and computing IOPS deltas from cache-engine and
// device-level counters. All external reads are failure-tolerant: on
// any read or parse error a sampler returns 0 and leaves its prior
// baseline untouched, so a single bad sample never produces a spurious
// negative delta or propagates an error up into the split controller.
package netmon

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/netsplitcas/hybridcache/pkg/logx"
)

// Sample is one RDMA metric reading.
type Sample struct {
	Latency    uint64
	Throughput uint64
}

// PerformanceSource exposes the most recent RDMA sample.
type PerformanceSource interface {
	MeasurePerformance() Sample
}

// IOPSSource computes an IOPS diagnostic as a delta over elapsed time.
// The first call establishes the baseline and returns 0.
type IOPSSource interface {
	IOPS(elapsed time.Duration) uint64
}

// FileRDMASource reads RDMA latency/throughput from two sysfs-style
// text counters.
type FileRDMASource struct {
	LatencyPath    string
	ThroughputPath string
}

// DefaultRDMAPaths are the conventional sysfs locations for the two
// RDMA counters this module consumes as an external metric source.
const (
	DefaultLatencyPath    = "/sys/kernel/rdma_metrics/latency"
	DefaultThroughputPath = "/sys/kernel/rdma_metrics/throughput"
)

// NewFileRDMASource returns a FileRDMASource reading the default sysfs
// paths.
func NewFileRDMASource() *FileRDMASource {
	return &FileRDMASource{
		LatencyPath:    DefaultLatencyPath,
		ThroughputPath: DefaultThroughputPath,
	}
}

// MeasurePerformance reads both counters. A failure on either counter
// yields 0 for that field; it never blocks on a missing file.
func (s *FileRDMASource) MeasurePerformance() Sample {
	return Sample{
		Latency:    readCounterFile(s.LatencyPath),
		Throughput: readCounterFile(s.ThroughputPath),
	}
}

func readCounterFile(path string) uint64 {
	if path == "" {
		return 0
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		logx.Logger.Debug().Err(err).Str("path", path).Msg("netmon: counter file unreadable")
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		logx.Logger.Debug().Err(err).Str("path", path).Msg("netmon: counter file unparsable")
		return 0
	}
	return v
}

// StatCounterIOPSSource computes IOPS from a cache engine's own
// cumulative read counters (cache-volume reads + core/backend-volume
// reads).
type StatCounterIOPSSource struct {
	// ReadCounters returns the current cumulative (cacheVolumeReads,
	// coreVolumeReads) counts, supplied by the cache's stats layer.
	ReadCounters func() (cacheVolumeReads, coreVolumeReads uint64, err error)

	mu          sync.Mutex
	initialized bool
	prevTotal   uint64
}

// IOPS returns the IOPS delta since the previous call. The first call
// seeds the baseline and returns 0.
func (s *StatCounterIOPSSource) IOPS(elapsed time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ReadCounters == nil {
		return 0
	}
	cacheReads, coreReads, err := s.ReadCounters()
	if err != nil {
		logx.Logger.Debug().Err(err).Msg("netmon: read counters failed")
		return 0
	}

	total := cacheReads + coreReads
	if !s.initialized {
		s.prevTotal = total
		s.initialized = true
		return 0
	}

	if total < s.prevTotal || elapsed <= 0 {
		// Counter reset or non-positive interval: never report a
		// negative delta, just reseed.
		s.prevTotal = total
		return 0
	}

	delta := total - s.prevTotal
	s.prevTotal = total
	return uint64(float64(delta) / elapsed.Seconds())
}
