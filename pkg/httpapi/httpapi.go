// Package httpapi exposes the split controller's live state over HTTP:
// a point-in-time snapshot, a recent history window, and a streaming
// feed of ticks, for operators to watch the mode machine and split
// ratio react to network conditions.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"sync"
	"time"

	fiber "github.com/gofiber/fiber/v3"
	recovermiddleware "github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/netsplitcas/hybridcache/pkg/history"
	"github.com/netsplitcas/hybridcache/pkg/logx"
	"github.com/netsplitcas/hybridcache/pkg/splitctl"
)

const sseBufSize = 4

// snapshot is the JSON shape served by /api/split.
type snapshot struct {
	SplitRatio uint64 `json:"split_ratio"`
	DataAdmit  bool   `json:"data_admit"`
	UpdatedAt  string `json:"updated_at"`
}

// Server wraps a Fiber app exposing a splitctl.Controller's published
// state and its pkg/history.Store time series. Safe for concurrent use.
type Server struct {
	app     *fiber.App
	ctrl    splitctl.AdmissionSource
	history *history.Store

	ssesMu  sync.Mutex
	clients map[chan []byte]struct{}

	tickInterval time.Duration
}

// New builds a Server. ctrl supplies the current split_ratio/data_admit
// published state; hist supplies the recent-tick time series (may be
// nil, in which case /api/history returns an empty array).
func New(ctrl splitctl.AdmissionSource, hist *history.Store, tickInterval time.Duration) *Server {
	s := &Server{
		ctrl:         ctrl,
		history:      hist,
		clients:      make(map[chan []byte]struct{}),
		tickInterval: tickInterval,
	}

	app := fiber.New(fiber.Config{
		ServerHeader: "hybridcached",
	})
	app.Use(recovermiddleware.New())

	app.Get("/api/split", s.handleSplit)
	app.Get("/api/history", s.handleHistory)
	app.Get("/events", s.handleSSE)

	s.app = app
	return s
}

// Run serves the app on addr until ctx is canceled, and broadcasts one
// SSE frame per tickInterval to any connected /events clients.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.runBroadcaster(ctx)
	go func() {
		<-ctx.Done()
		_ = s.app.Shutdown()
	}()
	logx.Logger.Info().Str("addr", addr).Msg("httpapi: listening")
	return s.app.Listen(addr)
}

func (s *Server) runBroadcaster(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Server) currentSnapshot() snapshot {
	return snapshot{
		SplitRatio: s.ctrl.QueryOptimalSplitRatio(),
		DataAdmit:  s.ctrl.QueryDataAdmit(),
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

func (s *Server) broadcast() {
	payload, err := json.Marshal(s.currentSnapshot())
	if err != nil {
		return
	}
	event := buildSSEEvent(payload)

	s.ssesMu.Lock()
	defer s.ssesMu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

var sseBufPool = sync.Pool{New: func() any { b := make([]byte, 0, 256); return &b }}

func buildSSEEvent(payload []byte) []byte {
	buf := sseBufPool.Get().(*[]byte)
	*buf = (*buf)[:0]
	*buf = append(*buf, "retry: 2000\ndata: "...)
	*buf = append(*buf, payload...)
	*buf = append(*buf, "\n\n"...)
	out := make([]byte, len(*buf))
	copy(out, *buf)
	sseBufPool.Put(buf)
	return out
}

func (s *Server) handleSplit(c fiber.Ctx) error {
	c.Set("Content-Type", "application/json; charset=utf-8")
	b, _ := json.Marshal(s.currentSnapshot())
	return c.Send(b)
}

func (s *Server) handleHistory(c fiber.Ctx) error {
	c.Set("Content-Type", "application/json; charset=utf-8")
	samples := []history.Sample{}
	if s.history != nil {
		samples = s.history.Snapshot()
	}
	b, _ := json.Marshal(samples)
	return c.Send(b)
}

func (s *Server) handleSSE(c fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ch := make(chan []byte, sseBufSize)

	s.ssesMu.Lock()
	s.clients[ch] = struct{}{}
	s.ssesMu.Unlock()

	initial, _ := json.Marshal(s.currentSnapshot())

	c.RequestCtx().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			s.ssesMu.Lock()
			delete(s.clients, ch)
			s.ssesMu.Unlock()
		}()

		if _, err := w.Write(buildSSEEvent(initial)); err != nil {
			return
		}
		_ = w.Flush()

		for event := range ch {
			if _, err := w.Write(event); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
