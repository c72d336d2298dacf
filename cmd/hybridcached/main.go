// Command hybridcached wires the bandwidth table, network monitor,
// split controller, load-admit dispatcher, and read/write engines
// together over an in-memory cache/backend store, and serves the
// controller's live state over HTTP. It drives a synthetic read/write
// workload against memstore so the full monitor/controller/dispatcher/
// engine pipeline runs end to end without real cache or RDMA hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/netsplitcas/hybridcache/pkg/bandwidth"
	"github.com/netsplitcas/hybridcache/pkg/dispatcher"
	"github.com/netsplitcas/hybridcache/pkg/engine"
	"github.com/netsplitcas/hybridcache/pkg/history"
	"github.com/netsplitcas/hybridcache/pkg/httpapi"
	"github.com/netsplitcas/hybridcache/pkg/lockmgr"
	"github.com/netsplitcas/hybridcache/pkg/logx"
	"github.com/netsplitcas/hybridcache/pkg/memstore"
	"github.com/netsplitcas/hybridcache/pkg/netmon"
	"github.com/netsplitcas/hybridcache/pkg/request"
	"github.com/netsplitcas/hybridcache/pkg/splitctl"
)

// Version is overridden at build time.
var Version = "dev"

func main() {
	host := flag.String("host", "0.0.0.0", "bind address for the observability HTTP server")
	port := flag.Int("port", 11113, "TCP port for the observability HTTP server")
	histCap := flag.Int("history", 300, "controller-state samples to retain")
	ioDepth := flag.Int("io-depth", 32, "io depth used for bandwidth-table lookups")
	numJobs := flag.Int("num-jobs", 4, "job count used for bandwidth-table lookups")
	backendSize := flag.Int64("backend-size", 64<<20, "size in bytes of the synthetic backend volume")
	rdmaLatencyPath := flag.String("rdma-latency-path", "", "sysfs-style path for the RDMA latency counter (empty = synthetic)")
	rdmaThroughputPath := flag.String("rdma-throughput-path", "", "sysfs-style path for the RDMA throughput counter (empty = synthetic)")
	workloadQPS := flag.Int("workload-qps", 200, "synthetic requests per second to drive against the engine")
	showVer := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hybridcached %s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVer {
		fmt.Printf("hybridcached %s\n", Version)
		os.Exit(0)
	}

	logx.Logger = logx.Logger.Level(zerolog.InfoLevel).With().Str("version", Version).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// C2: network monitor. A real deployment points these at the RDMA
	// driver's sysfs counters; the demo falls back to a synthetic
	// source that ramps up and oscillates, so the mode machine has
	// something to react to.
	var perf netmon.PerformanceSource
	if *rdmaLatencyPath != "" || *rdmaThroughputPath != "" {
		perf = &netmon.FileRDMASource{LatencyPath: *rdmaLatencyPath, ThroughputPath: *rdmaThroughputPath}
	} else {
		perf = newSyntheticRDMASource()
	}

	// C1: bandwidth table.
	table := bandwidth.Default()

	// C3: split controller, fed by C2, consulted by C4/C5/C6.
	hist := history.NewStore(*histCap)
	ctrl := splitctl.New(perf, table, *ioDepth, *numJobs, splitctl.WithHistory(hist))

	// C4: load-admit dispatcher. Its split ratio is kept in sync with
	// the controller's published value by a small background loop
	// below; the dispatcher never reads controller state itself.
	disp := dispatcher.New()

	// External collaborators (metadata, locking, I/O submission),
	// backed by the in-memory store for this runnable demo.
	store := memstore.New(*backendSize)
	locks := lockmgr.New()

	clean := &memstore.Clean{Store: store}
	eng := engine.New(engine.Collaborators{
		Locker:      locks,
		Metadata:    store,
		IO:          store,
		Buffers:     store,
		Stats:       store,
		PassThrough: &memstore.PassThrough{Store: store},
		Invalidate:  &memstore.Invalidate{Store: store},
		Backfill:    &memstore.Backfill{Store: store},
		Clean:       clean,
	}, disp, ctrl)
	clean.Resumer = eng.Read

	addr := fmt.Sprintf("%s:%d", *host, *port)
	api := httpapi.New(ctrl, hist, time.Second)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ctrl.Run(ctx)
		return nil
	})
	g.Go(func() error {
		syncDispatcherRatio(ctx, disp, ctrl)
		return nil
	})
	g.Go(func() error {
		driveWorkload(ctx, eng, store, *workloadQPS)
		return nil
	})
	g.Go(func() error {
		return api.Run(ctx, addr)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logx.Logger.Fatal().Err(err).Msg("fatal")
	}
	logx.Logger.Info().Msg("shutdown complete")
}

// syncDispatcherRatio keeps the dispatcher's split ratio current with
// the controller's published value. The controller publishes at most
// once per MonitorInterval, so polling at that same cadence picks up
// every new value; Decide uses it from the next call, and the pattern
// and quotas rebuild from it at the next window boundary.
func syncDispatcherRatio(ctx context.Context, disp *dispatcher.Dispatcher, ctrl *splitctl.Controller) {
	ticker := time.NewTicker(splitctl.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			disp.SetSplitRatioPercent(ctrl.QueryOptimalSplitRatio())
		}
	}
}

// driveWorkload issues a synthetic stream of reads (and the occasional
// write) against the engine at approximately qps requests per second,
// so the full C3->C4->C5/C6 pipeline runs continuously for the demo.
func driveWorkload(ctx context.Context, eng *engine.Engine, store *memstore.Store, qps int) {
	if qps <= 0 {
		qps = 1
	}
	interval := time.Second / time.Duration(qps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(1))
	const lines = 4096
	const lineSize = memstore.LineSize

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			offset := int64(rng.Intn(lines)) * lineSize
			if rng.Intn(10) == 0 {
				issueWrite(eng, store, offset)
			} else {
				issueRead(eng, store, offset)
			}
		}
	}
}

func issueRead(eng *engine.Engine, store *memstore.Store, offset int64) {
	m := store.BuildMapping(offset, memstore.LineSize)
	r := request.New(request.OpRead, offset, memstore.LineSize, m, func(r *request.Request, err error) {
		if err != nil {
			logx.Logger.Debug().Err(err).Int64("offset", offset).Msg("hybridcached: synthetic read failed")
		}
	})
	eng.Read(r)
}

var writeRNG = rand.New(rand.NewSource(2))

func issueWrite(eng *engine.Engine, store *memstore.Store, offset int64) {
	m := store.BuildMapping(offset, memstore.LineSize)
	payload := make([]byte, memstore.LineSize)
	_, _ = writeRNG.Read(payload)
	r := request.New(request.OpWrite, offset, memstore.LineSize, m, func(r *request.Request, err error) {
		if err != nil {
			logx.Logger.Debug().Err(err).Int64("offset", offset).Msg("hybridcached: synthetic write failed")
		}
	})
	r.CopyBuf = payload
	eng.Write(r)
}
