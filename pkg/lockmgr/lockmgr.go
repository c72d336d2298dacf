// Package lockmgr implements a deferred-callback read/write
// line-locking table: a minimal, in-module Locker (pkg/engine's
// collaborator interface) that the demo binary and the engine's tests
// use in place of a real cache's hash-bucket lock subsystem.
//
// One mutex guards a map of per-line lock states, plus a wait queue
// per key so a lock request that arrives while the line is held can be
// granted later via the same deferred-callback mechanism the engine
// depends on.
package lockmgr

import (
	"sync"

	"github.com/netsplitcas/hybridcache/pkg/request"
)

// LineKey identifies one lockable line. AcquireLock derives it from the
// Request's starting byte offset, so a request that spans several
// cache lines is locked under a single key.
type LineKey int64

type waiter struct {
	lt    request.LockType
	grant func(request.LockHandle, error)
}

type line struct {
	readers int
	writer  bool
	waiters []waiter
}

// Table is a set of per-line lock states guarded by one mutex. A real
// cache would shard this across many mutexes for scalability; the
// decision path here is O(1) and non-blocking, so one lock suffices.
type Table struct {
	mu    sync.Mutex
	lines map[LineKey]*line
}

// New returns an empty Table.
func New() *Table {
	return &Table{lines: make(map[LineKey]*line)}
}

// handle is the concrete request.LockHandle this table hands out.
type handle struct {
	t   *Table
	key LineKey
	lt  request.LockType
}

// Release drops the lock and grants the next compatible waiter(s), if
// any are queued on this line. Grant callbacks run after the table's
// mutex is released, so a callback that re-enters AcquireLock or
// Release (as the engine's resumed read/write path can) never
// deadlocks against this call.
func (h *handle) Release() {
	h.t.mu.Lock()
	l := h.t.lines[h.key]
	if l == nil {
		h.t.mu.Unlock()
		return
	}
	switch h.lt {
	case request.LockRead:
		if l.readers > 0 {
			l.readers--
		}
	case request.LockWrite:
		l.writer = false
	}
	toGrant := h.t.promoteLocked(h.key, l)
	h.t.mu.Unlock()

	for _, g := range toGrant {
		g.grant(g.handle, nil)
	}
}

// AcquireLock implements pkg/engine.Locker. lt == request.LockNone is
// granted immediately with a nil handle, since the engine never calls
// Release on a none-lock request.
func (t *Table) AcquireLock(r *request.Request, lt request.LockType, grant func(request.LockHandle, error)) {
	if lt == request.LockNone {
		grant(nil, nil)
		return
	}

	key := LineKey(r.Offset)

	t.mu.Lock()

	l := t.lines[key]
	if l == nil {
		l = &line{}
		t.lines[key] = l
	}

	if grantableLocked(l, lt) {
		acquireLocked(l, lt)
		t.mu.Unlock()
		grant(&handle{t: t, key: key, lt: lt}, nil)
		return
	}

	l.waiters = append(l.waiters, waiter{lt: lt, grant: grant})
	t.mu.Unlock()
}

// grantableLocked reports whether lt can be granted on l right now.
func grantableLocked(l *line, lt request.LockType) bool {
	if l.writer {
		return false
	}
	if lt == request.LockWrite {
		return l.readers == 0
	}
	return true // read lock: any number of concurrent readers is fine
}

func acquireLocked(l *line, lt request.LockType) {
	if lt == request.LockWrite {
		l.writer = true
	} else {
		l.readers++
	}
}

// pendingGrant pairs a queued waiter's callback with the handle it is
// about to be granted, to be invoked once the caller has released the
// table's mutex.
type pendingGrant struct {
	grant  func(request.LockHandle, error)
	handle request.LockHandle
}

// promoteLocked grants as many queued waiters as the current line
// state allows, in FIFO order, and returns their callbacks for the
// caller to invoke after unlocking.
func (t *Table) promoteLocked(key LineKey, l *line) []pendingGrant {
	var out []pendingGrant
	for len(l.waiters) > 0 {
		next := l.waiters[0]
		if !grantableLocked(l, next.lt) {
			break
		}
		l.waiters = l.waiters[1:]
		acquireLocked(l, next.lt)
		out = append(out, pendingGrant{grant: next.grant, handle: &handle{t: t, key: key, lt: next.lt}})
		if next.lt == request.LockWrite {
			break // a granted writer excludes any further grants this round
		}
	}
	return out
}
