// Package splitctl implements the split-ratio controller: a background
// supervisor that samples RDMA network metrics, maintains a moving
// average and running maximum, runs the Idle/Warmup/Stable/Congestion
// mode machine, and recomputes the optimal split ratio from the
// bandwidth table.
package splitctl

import (
	"context"
	"sync"
	"time"

	"github.com/netsplitcas/hybridcache/pkg/bandwidth"
	"github.com/netsplitcas/hybridcache/pkg/history"
	"github.com/netsplitcas/hybridcache/pkg/logx"
	"github.com/netsplitcas/hybridcache/pkg/netmon"
)

// Tunable constants for the controller loop.
const (
	WindowSize          = 20
	MonitorInterval     = 1000 * time.Millisecond
	WarmupPeriod        = 10 * time.Second
	RDMAThreshold       = 100
	CongestionThreshold = 90 // per-mille
)

// AdmissionSource is the seam between the engines and whichever
// controller implementation is active: callers depend only on this
// interface, never on a concrete controller type.
type AdmissionSource interface {
	QueryDataAdmit() bool
	QueryOptimalSplitRatio() uint64 // percent, 0-100
}

// window is the fixed-size circular buffer of recent throughput
// samples. It is owned and mutated exclusively by the controller
// goroutine, so it carries no lock of its own.
type window struct {
	buf   [WindowSize]uint64
	head  int
	count int
	sum   uint64
}

func (w *window) push(v uint64) (avg uint64) {
	if w.count == WindowSize {
		w.sum -= w.buf[w.head]
	} else {
		w.count++
	}
	w.buf[w.head] = v
	w.sum += v
	w.head = (w.head + 1) % WindowSize
	return w.sum / uint64(w.count)
}

func (w *window) reset() {
	*w = window{}
}

// Controller owns SplitState and runs the split-controller loop.
type Controller struct {
	perf  netmon.PerformanceSource
	table *bandwidth.Table

	ioDepth, numJobs int

	// casFailureSignal, when non-nil, is polled each tick; returning
	// true drives the mode machine to ModeFailure.
	casFailureSignal func() bool

	history *history.Store

	// splitRatioMu/dataAdmitMu each guard exactly one field. Readers
	// (the engines, the HTTP API, and the loop in cmd/hybridcached that
	// copies the ratio into the dispatcher) acquire in read mode; only
	// this controller's goroutine acquires in write mode.
	splitRatioMu sync.RWMutex
	splitRatio   uint64 // percent, 0-100

	dataAdmitMu sync.RWMutex
	dataAdmit   bool

	// Fields below are read/written only by the controller goroutine.
	win                window
	maxAvg             uint64
	mode               Mode
	warmupStartedAt    time.Time
	calculatedInStable bool
	casInitialized     bool
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithCasFailureSignal installs the caching-failed input signal.
func WithCasFailureSignal(signal func() bool) Option {
	return func(c *Controller) { c.casFailureSignal = signal }
}

// WithHistory attaches a history.Store that receives one Sample per
// tick.
func WithHistory(h *history.Store) Option {
	return func(c *Controller) { c.history = h }
}

// New constructs a Controller. perf supplies RDMA throughput samples;
// table is the bandwidth lookup table; ioDepth/numJobs are the fixed
// workload parameters used for table lookups.
func New(perf netmon.PerformanceSource, table *bandwidth.Table, ioDepth, numJobs int, opts ...Option) *Controller {
	c := &Controller{
		perf:       perf,
		table:      table,
		ioDepth:    ioDepth,
		numJobs:    numJobs,
		mode:       ModeIdle,
		splitRatio: 100,
		dataAdmit:  true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// QueryOptimalSplitRatio returns the published split ratio, 0-100.
func (c *Controller) QueryOptimalSplitRatio() uint64 {
	c.splitRatioMu.RLock()
	defer c.splitRatioMu.RUnlock()
	return c.splitRatio
}

// QueryDataAdmit returns the published data-admit switch.
func (c *Controller) QueryDataAdmit() bool {
	c.dataAdmitMu.RLock()
	defer c.dataAdmitMu.RUnlock()
	return c.dataAdmit
}

func (c *Controller) setSplitRatio(v uint64) {
	c.splitRatioMu.Lock()
	c.splitRatio = v
	c.splitRatioMu.Unlock()
}

func (c *Controller) setDataAdmit(v bool) {
	c.dataAdmitMu.Lock()
	c.dataAdmit = v
	c.dataAdmitMu.Unlock()
}

// Run executes the controller loop until ctx is canceled. Each
// iteration samples RDMA throughput, advances the mode machine, takes
// the per-mode action, and sleeps MonitorInterval as the last step of
// the loop body.
func (c *Controller) Run(ctx context.Context) {
	logx.Logger.Info().Msg("splitctl: controller loop started")
	for {
		select {
		case <-ctx.Done():
			logx.Logger.Info().Msg("splitctl: controller loop stopping")
			return
		default:
		}

		c.tick()

		select {
		case <-ctx.Done():
			logx.Logger.Info().Msg("splitctl: controller loop stopping")
			return
		case <-time.After(MonitorInterval):
		}
	}
}

// tick runs exactly one iteration of the controller's per-interval
// work: sample, compute drop, advance mode, act.
func (c *Controller) tick() {
	now := time.Now()
	sample := c.perf.MeasurePerformance()
	tNow := sample.Throughput

	var dropPermil uint64
	if c.maxAvg > 0 {
		windowAvg := c.currentAvg()
		if c.maxAvg > windowAvg {
			dropPermil = (c.maxAvg - windowAvg) * 1000 / c.maxAvg
		}
	}

	c.advanceMode(now, tNow, dropPermil)
	c.applyModeAction(tNow, dropPermil)

	if c.history != nil {
		c.history.Record(history.Sample{
			Mode:       c.mode.String(),
			SplitRatio: c.QueryOptimalSplitRatio(),
			DataAdmit:  c.QueryDataAdmit(),
			WindowAvg:  c.currentAvg(),
			MaxAvg:     c.maxAvg,
			Throughput: tNow,
			DropPermil: dropPermil,
		})
	}
}

func (c *Controller) currentAvg() uint64 {
	if c.win.count == 0 {
		return 0
	}
	return c.win.sum / uint64(c.win.count)
}

// advanceMode runs the mode transitions. Throughput at or below
// RDMAThreshold forces Idle from any mode before anything else is
// considered, and the failure signal is not polled on such a tick; on
// every other tick the failure signal overrides whatever was decided.
func (c *Controller) advanceMode(now time.Time, tNow, dropPermil uint64) {
	if tNow <= RDMAThreshold {
		c.mode = ModeIdle
		c.warmupStartedAt = time.Time{}
		return
	}

	switch c.mode {
	case ModeIdle:
		c.mode = ModeWarmup
		c.warmupStartedAt = now
		c.casInitialized = false
	case ModeWarmup:
		if now.Sub(c.warmupStartedAt) >= WarmupPeriod {
			c.mode = ModeStable
			c.calculatedInStable = false
		}
	case ModeCongestion:
		if dropPermil <= CongestionThreshold {
			c.mode = ModeStable
			c.calculatedInStable = false
		}
	case ModeStable:
		if dropPermil > CongestionThreshold {
			c.mode = ModeCongestion
			c.calculatedInStable = true
		}
	}

	if c.casFailureSignal != nil && c.casFailureSignal() {
		c.mode = ModeFailure
	}
}

// applyModeAction performs the current mode's per-tick work.
func (c *Controller) applyModeAction(tNow, dropPermil uint64) {
	switch c.mode {
	case ModeIdle:
		if !c.casInitialized {
			c.reinit()
			c.casInitialized = true
		}
	case ModeWarmup:
		c.setDataAdmit(false)
	case ModeStable:
		c.setDataAdmit(false)
		avg := c.win.push(tNow)
		if avg > c.maxAvg {
			c.maxAvg = avg
		}
		if c.win.count >= WindowSize && !c.calculatedInStable {
			c.recompute(tNow, dropPermil)
			c.calculatedInStable = true
		}
	case ModeCongestion:
		c.setDataAdmit(false)
		avg := c.win.push(tNow)
		if avg > c.maxAvg {
			c.maxAvg = avg
		}
		if c.win.count >= WindowSize {
			c.recompute(tNow, dropPermil)
		}
	case ModeFailure:
		// No state change.
	}
}

// reinit clears window/max/flags and resets the published state to its
// defaults on the first Idle tick.
func (c *Controller) reinit() {
	c.win.reset()
	c.maxAvg = 0
	c.calculatedInStable = false
	c.setSplitRatio(100)
	c.setDataAdmit(true)
}

// recompute derives the split ratio from the bandwidth table: the
// cache-only and backend-only IOPS levels, with the backend level
// penalized by the observed throughput drop.
func (c *Controller) recompute(tNow, dropPermil uint64) {
	if c.maxAvg == 0 {
		c.setSplitRatio(100)
		return
	}

	a := uint64(c.table.Lookup(c.ioDepth, c.numJobs, 100))
	b := uint64(c.table.Lookup(c.ioDepth, c.numJobs, 0))

	if tNow > RDMAThreshold {
		b = b * (1000 - dropPermil) / 1000
	}

	var split uint64
	if a+b > 0 {
		split = a * 100 / (a + b)
	}
	if split > 100 {
		split = 100
	}

	c.setSplitRatio(split)
}
