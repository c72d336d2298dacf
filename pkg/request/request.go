// Package request defines the Request (R) and Mapping (M) data model
// shared by the load-admit dispatcher and the read/write engines.
package request

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Op identifies the kind of I/O a Request carries.
type Op int

const (
	// OpRead is a read request.
	OpRead Op = iota
	// OpWrite is a write request.
	OpWrite
)

// Decision is the load-admit dispatcher's per-request verdict.
type Decision int

const (
	// ToCache routes the request to the cache device.
	ToCache Decision = iota
	// ToBackend routes the request to the backend volume.
	ToBackend
)

// LockType is the lock the read engine acquires on a request's cache
// lines before dispatch.
type LockType int

const (
	// LockNone acquires no line lock.
	LockNone LockType = iota
	// LockRead acquires a read lock.
	LockRead
	// LockWrite acquires a write lock.
	LockWrite
)

// LineDescriptor describes one cache line covered by a Request's byte
// range.
type LineDescriptor struct {
	Present    bool // line holds valid cached data
	ReadLocked bool // another reader currently holds a read lock on this line
	Dirty      bool // line holds data not yet flushed to the backend
	Remapped   bool // line requires re-mapping (counts against Hit)
}

// Mapping is the ordered sequence of per-line descriptors for a Request.
type Mapping struct {
	Lines []LineDescriptor
	Err   error // non-nil when metadata could not satisfy the request
}

// Hit reports whether every line is present and none require remapping.
func (m *Mapping) Hit() bool {
	if len(m.Lines) == 0 {
		return false
	}
	for _, l := range m.Lines {
		if !l.Present || l.Remapped {
			return false
		}
	}
	return true
}

// DirtyAny reports whether any line is marked dirty.
func (m *Mapping) DirtyAny() bool {
	for _, l := range m.Lines {
		if l.Dirty {
			return true
		}
	}
	return false
}

// AnyReadLocked reports whether any line is currently read-locked by
// another request, which makes it unsafe to promote a miss into cache.
func (m *Mapping) AnyReadLocked() bool {
	for _, l := range m.Lines {
		if l.ReadLocked {
			return true
		}
	}
	return false
}

// Error reports the mapping error, if the metadata layer could not
// satisfy this request.
func (m *Mapping) Error() error {
	return m.Err
}

// Callback is invoked exactly once when a Request completes.
type Callback func(r *Request, err error)

// LockHandle is a granted line-lock the engine must release exactly
// once. Defined here, rather than in pkg/engine, so a Request can hold
// one without creating an import cycle between pkg/request and the
// package that defines the locking collaborator interface.
type LockHandle interface {
	Release()
}

// Request is one outstanding logical I/O.
//
// Lifecycle: created by the I/O front-end, owned by the engine until
// the callback fires and the final reference is dropped. The pending
// counter monotonically decreases from its initial value and the
// callback fires exactly once when it reaches zero.
type Request struct {
	ID uuid.UUID

	Op      Op
	Offset  int64
	Length  int64
	Mapping Mapping

	// Admission snapshots captured at entry.
	DataAdmitAllowed bool
	LoadAdmitAllowed Decision

	// CopyBuf is the owned buffer used only when promoting a backend
	// read into cache; nil otherwise.
	CopyBuf []byte

	// CoreError is set when the backend submission failed. It is the
	// only error the write engine's callback ever surfaces to the
	// caller; a cache-only error during a write's parallel fan-out is
	// tracked separately in CacheError and never overrides a success.
	CoreError error

	// CacheError is set when the cache submission failed during the
	// write engine's parallel fan-out. It schedules invalidation, but
	// the callback still reports success unless a backend error is
	// also present.
	CacheError error

	// LockHandle is the line lock currently held on behalf of this
	// request, if any (nil once released or if none was acquired).
	LockHandle LockHandle

	callback Callback

	// pending is both the pending-completion counter and the
	// reference count of this request: it holds the number of
	// completions still outstanding, and each completion releases one
	// via Release. The engines size it from New's initial 1 (a read's
	// single sub-operation) or with SetPending (a write's fan-out); they
	// do not take a separate reference per sub-operation via Ref. It
	// decreases monotonically and the callback fires exactly once, when
	// it reaches zero.
	pending atomic.Int64
	fired   atomic.Bool
}

// New creates a Request with its pending count at 1, which covers a
// single dispatched sub-operation. A caller that fans out to more than
// one sub-operation calls SetPending before dispatching them.
func New(op Op, offset, length int64, m Mapping, cb Callback) *Request {
	r := &Request{
		ID:      uuid.New(),
		Op:      op,
		Offset:  offset,
		Length:  length,
		Mapping: m,

		callback: cb,
	}
	r.pending.Store(1)
	return r
}

// SetPending resets the pending-completion/reference counter to n. It
// is used once, after engine entry, to size the count for the number of
// sub-operations about to be dispatched (replacing the initial
// engine-entry reference with the real fan-out count).
func (r *Request) SetPending(n int64) {
	r.pending.Store(n)
}

// Ref takes one reference, to be matched by a later Release. The
// engines in this module do not call it; their counts are set by New
// and SetPending.
func (r *Request) Ref() {
	r.pending.Add(1)
}

// Release drops one reference (equivalently: signals one
// sub-operation's completion). It is safe to call from any completion
// context; the request's callback fires from whichever Release call
// observes the counter reach zero, and fires exactly once. It never
// goes negative: a call that would drive it below zero is a caller bug
// and panics, since it violates the monotonic-decrease invariant.
func (r *Request) Release() {
	r.ReleaseLast(nil)
}

// ReleaseLast behaves exactly like Release, except that when this call
// is the one that brings the counter to zero, finalize runs first,
// synchronously, before the user callback fires. Completions that fan
// out in parallel (the write engine's cache and backend submissions)
// use this to run unlock/invalidate decisions exactly once, in the
// same call that observes completion — never guessed from a racy peek
// at Pending().
func (r *Request) ReleaseLast(finalize func()) {
	v := r.pending.Add(-1)
	if v < 0 {
		panic("request: pending-completion counter went negative")
	}
	if v != 0 {
		return
	}
	if finalize != nil {
		finalize()
	}
	if r.fired.CompareAndSwap(false, true) {
		var err error
		if r.CoreError != nil {
			err = r.CoreError
		}
		if r.callback != nil {
			r.callback(r, err)
		}
	}
}

// Pending returns the current value of the pending-completion counter.
func (r *Request) Pending() int64 {
	return r.pending.Load()
}
