package main

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/netsplitcas/hybridcache/pkg/netmon"
)

// syntheticRDMASource stands in for real RDMA hardware counters when no
// sysfs paths are configured: it ramps throughput up from zero over
// five seconds, then follows a 40-second cycle of a 20-second dip
// (down to 28% of the steady value at its deepest) and 20 seconds at
// the steady value. It stays above RDMAThreshold after the ramp, so the
// controller warms up and reaches Stable, and the dips are deep enough
// to reach Congestion. Exists only to make cmd/hybridcached runnable
// standalone; real deployments point netmon.FileRDMASource at actual
// counters.
type syntheticRDMASource struct {
	start atomic.Int64 // unix nano of first MeasurePerformance call
}

func newSyntheticRDMASource() *syntheticRDMASource {
	return &syntheticRDMASource{}
}

func (s *syntheticRDMASource) MeasurePerformance() netmon.Sample {
	now := time.Now().UnixNano()
	start := s.start.Load()
	if start == 0 {
		s.start.CompareAndSwap(0, now)
		start = s.start.Load()
	}
	elapsed := time.Duration(now - start)

	const rampUp = 5 * time.Second
	const steady = 500.0
	const period = 40 * time.Second

	var throughput float64
	switch {
	case elapsed < rampUp:
		throughput = steady * float64(elapsed) / float64(rampUp)
	default:
		phase := float64(elapsed%period) / float64(period)
		dip := math.Max(0, math.Sin(phase*2*math.Pi)) // periodic dip toward zero
		throughput = steady * (0.2 + 0.8*(1-dip*0.9))
	}

	return netmon.Sample{
		Latency:    50,
		Throughput: uint64(throughput),
	}
}
