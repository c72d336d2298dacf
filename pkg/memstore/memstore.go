// Package memstore is a minimal in-memory cache-line map and backend
// byte store: the swappable, test/demo-only implementation of the
// metadata, I/O-submission, buffer, and stats collaborator interfaces
// pkg/engine depends on. It is not a replacement-policy cache: no
// eviction, no persistence, no dirty-flush scheduling. One mutex
// guards a plain map, sized for clarity over throughput.
package memstore

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/netsplitcas/hybridcache/pkg/request"
)

// LineSize is the fixed cache-line granularity memstore maps byte
// offsets onto.
const LineSize = 4096

// ErrShortBackend is returned when a backend read/write addresses a
// range the in-memory backend volume has never been sized to cover.
var ErrShortBackend = errors.New("memstore: offset out of range of backend volume")

type lineState struct {
	present bool
	dirty   bool
}

// Store is an in-memory cache-line map plus a flat backend byte slice.
// Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	lines   map[int64]*lineState
	cache   map[int64][]byte // keyed by line offset
	backend []byte

	fallback  atomic.Int64
	coreError atomic.Int64
	lockError atomic.Int64
}

// New returns a Store whose backend volume is backendSize bytes, zero
// filled.
func New(backendSize int64) *Store {
	return &Store{
		lines:   make(map[int64]*lineState),
		cache:   make(map[int64][]byte),
		backend: make([]byte, backendSize),
	}
}

// SeedBackend writes data into the backend volume at offset, for test
// fixtures to establish known bytes before a read.
func (s *Store) SeedBackend(offset int64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.backend[offset:], data)
}

// SeedLine marks a line present (a cache hit) and optionally dirty,
// and seeds its cached bytes, for test fixtures.
func (s *Store) SeedLine(offset int64, data []byte, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[offset] = &lineState{present: true, dirty: dirty}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.cache[offset] = buf
}

// BuildMapping constructs a request.Mapping for [offset, offset+length)
// by consulting the current line states, for test fixtures and the
// demo binary's I/O front-end.
func (s *Store) BuildMapping(offset, length int64) request.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m request.Mapping
	for o := alignDown(offset); o < offset+length; o += LineSize {
		ls := s.lines[o]
		d := request.LineDescriptor{}
		if ls != nil {
			d.Present = ls.present
			d.Dirty = ls.dirty
		}
		m.Lines = append(m.Lines, d)
	}
	return m
}

func alignDown(offset int64) int64 {
	return offset - offset%LineSize
}

// --- engine.MetadataStore ---

// SetValidMapInfo marks every line covered by r's mapping present.
func (s *Store) SetValidMapInfo(r *request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range r.Mapping.Lines {
		r.Mapping.Lines[i].Present = true
		o := alignDown(r.Offset) + int64(i)*LineSize
		s.lines[o] = &lineState{present: true}
	}
	return nil
}

// SetCleanMapInfo clears the dirty flag on every line covered by r's
// mapping.
func (s *Store) SetCleanMapInfo(r *request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range r.Mapping.Lines {
		r.Mapping.Lines[i].Dirty = false
		o := alignDown(r.Offset) + int64(i)*LineSize
		if ls, ok := s.lines[o]; ok {
			ls.dirty = false
		}
	}
	return nil
}

// PartMove is a no-op: memstore never reshards or repartitions lines.
func (s *Store) PartMove(r *request.Request) error { return nil }

// --- engine.IOSubmitter ---

// SubmitCacheReqs writes/reads nSubReqs worth of data against the
// in-memory cache map, then invokes completion. Runs synchronously on
// the calling goroutine in this in-memory implementation; a real
// device submission would complete from an I/O-completion context
// instead.
func (s *Store) SubmitCacheReqs(r *request.Request, op request.Op, length int64, nSubReqs int, completion func(error)) {
	s.mu.Lock()
	o := alignDown(r.Offset)
	switch op {
	case request.OpRead:
		buf, ok := s.cache[o]
		if !ok {
			buf = make([]byte, LineSize)
		}
		if r.CopyBuf == nil {
			r.CopyBuf = make([]byte, length)
		}
		copy(r.CopyBuf, buf)
	case request.OpWrite:
		buf := make([]byte, LineSize)
		if r.CopyBuf != nil {
			copy(buf, r.CopyBuf)
		}
		s.cache[o] = buf
		s.lines[o] = &lineState{present: true}
	}
	s.mu.Unlock()
	completion(nil)
}

// SubmitVolumeReq reads/writes the in-memory backend volume, then
// invokes completion. Synchronous for the same reason as
// SubmitCacheReqs.
func (s *Store) SubmitVolumeReq(r *request.Request, op request.Op, completion func(error)) {
	s.mu.Lock()
	if r.Offset < 0 || r.Offset+r.Length > int64(len(s.backend)) {
		s.mu.Unlock()
		completion(ErrShortBackend)
		return
	}
	switch op {
	case request.OpRead:
		if r.CopyBuf == nil {
			r.CopyBuf = make([]byte, r.Length)
		}
		copy(r.CopyBuf, s.backend[r.Offset:r.Offset+r.Length])
	case request.OpWrite:
		if r.CopyBuf != nil {
			copy(s.backend[r.Offset:r.Offset+r.Length], r.CopyBuf)
		}
	}
	s.mu.Unlock()
	completion(nil)
}

// --- engine.BufferPool ---

// Allocate returns a zeroed byte slice of length n. A real pool would
// pin page-aligned memory; this one just allocates.
func (s *Store) Allocate(n int64) ([]byte, error) {
	return make([]byte, n), nil
}

// Free is a no-op: Go's garbage collector reclaims the slice.
func (s *Store) Free(buf []byte) {}

// --- engine.Stats ---

func (s *Store) IncFallback()  { s.fallback.Add(1) }
func (s *Store) IncCoreError() { s.coreError.Add(1) }
func (s *Store) IncLockError() { s.lockError.Add(1) }

// Counters returns the current (fallback, coreError, lockError) tally.
func (s *Store) Counters() (fallback, coreError, lockError int64) {
	return s.fallback.Load(), s.coreError.Load(), s.lockError.Load()
}
