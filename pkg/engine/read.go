package engine

import (
	"errors"

	"github.com/netsplitcas/hybridcache/pkg/dispatcher"
	"github.com/netsplitcas/hybridcache/pkg/logx"
	"github.com/netsplitcas/hybridcache/pkg/request"
	"github.com/netsplitcas/hybridcache/pkg/splitctl"
)

// ErrLockFailed is returned to the request callback when line-lock
// acquisition itself fails.
var ErrLockFailed = errors.New("engine: lock acquisition failed")

// ErrNoMemory is the sentinel used when promotion buffer allocation
// fails, so the completion path can be routed through the same
// error branch the backend-submission failure path uses.
var ErrNoMemory = errors.New("engine: buffer allocation failed")

// Engine runs the read and write request state machines over a fixed
// set of collaborators, a load-admit dispatcher, and an admission
// source.
type Engine struct {
	Collab     Collaborators
	Dispatcher *dispatcher.Dispatcher
	Admission  splitctl.AdmissionSource

	// BlockedOnMisses, when true, forwards every read straight to the
	// pass-through engine without consulting admission or locks. A
	// plain field rather than hidden static state, so tests can
	// instantiate engines independently.
	BlockedOnMisses bool
}

// New constructs an Engine from its collaborators, dispatcher, and
// admission source.
func New(collab Collaborators, d *dispatcher.Dispatcher, admission splitctl.AdmissionSource) *Engine {
	return &Engine{Collab: collab, Dispatcher: d, Admission: admission}
}

// Read is the entry function for the read engine.
func (e *Engine) Read(r *request.Request) {
	if e.BlockedOnMisses {
		e.Collab.PassThrough.Read(r)
		return
	}

	r.DataAdmitAllowed = e.Admission.QueryDataAdmit()
	r.LoadAdmitAllowed = e.Dispatcher.Decide(r)

	if r.Mapping.Error() != nil {
		e.Collab.PassThrough.Read(r)
		return
	}

	lt := readLockType(&r.Mapping, r.LoadAdmitAllowed, r.DataAdmitAllowed)
	if lt == request.LockNone {
		e.doRead(r)
		return
	}

	e.Collab.Locker.AcquireLock(r, lt, func(h LockHandle, err error) {
		if err != nil {
			if e.Collab.Stats != nil {
				e.Collab.Stats.IncLockError()
			}
			r.CoreError = ErrLockFailed
			logx.Logger.Error().Err(err).Str("request", r.ID.String()).Msg("engine: read lock acquisition failed")
			r.Release()
			return
		}
		r.LockHandle = h
		e.doRead(r)
	})
}

// readLockType selects the line-lock type: a hit served from cache
// takes a read lock, a promoting miss takes a write lock, everything
// else runs unlocked.
func readLockType(m *request.Mapping, loadAdmit request.Decision, dataAdmit bool) request.LockType {
	if m.Hit() {
		if loadAdmit == request.ToCache {
			return request.LockRead
		}
		return request.LockNone
	}
	if dataAdmit {
		return request.LockWrite
	}
	return request.LockNone
}

// doRead is the dispatch step: it routes the request to cache or
// backend and selects the completion path. A single sub-operation is
// ever in flight for a read, so the one reference engine entry already
// holds (from request.New) is the
// pending count the completion must release to zero; no extra
// SetPending bookkeeping is needed here (contrast the write engine,
// which genuinely fans out to two parallel sub-operations).
func (e *Engine) doRead(r *request.Request) {
	if r.Mapping.Hit() {
		if r.LoadAdmitAllowed == request.ToCache {
			e.Collab.IO.SubmitCacheReqs(r, request.OpRead, r.Length, 1, e.onCacheDone(r))
			return
		}
		e.Collab.IO.SubmitVolumeReq(r, request.OpRead, e.onCoreDoneNoPromote(r))
		return
	}

	// Miss.
	if !r.DataAdmitAllowed {
		e.Collab.IO.SubmitVolumeReq(r, request.OpRead, e.onCoreDoneNoPromote(r))
		return
	}

	if r.Mapping.AnyReadLocked() {
		e.releaseLockIfHeld(r)
		e.Collab.PassThrough.Read(r)
		return
	}

	if r.Mapping.DirtyAny() {
		// The line lock is released before handing off: the clean
		// engine reschedules r back through Read, which re-acquires
		// under the then-current mapping state.
		e.releaseLockIfHeld(r)
		e.Collab.Clean.Read(r)
		return
	}

	if err := e.Collab.Metadata.SetValidMapInfo(r); err != nil {
		e.releaseLockIfHeld(r)
		r.CoreError = err
		logx.Logger.Error().Err(err).Str("request", r.ID.String()).Msg("engine: set valid map info failed")
		e.Collab.PassThrough.Read(r)
		return
	}

	buf, err := e.Collab.Buffers.Allocate(r.Length)
	if err != nil {
		// Buffer allocation failure during promotion: fail the backend
		// submission locally and route through the promote-completion
		// error branch so invalidate still runs.
		e.onCoreDonePromote(r)(ErrNoMemory)
		return
	}
	r.CopyBuf = buf

	e.Collab.IO.SubmitVolumeReq(r, request.OpRead, e.onCoreDonePromote(r))
}

func (e *Engine) releaseLockIfHeld(r *request.Request) {
	if r.LockHandle != nil {
		r.LockHandle.Release()
		r.LockHandle = nil
	}
}

// onCacheDone handles the cache-read completion path.
func (e *Engine) onCacheDone(r *request.Request) Completion {
	return func(err error) {
		if err != nil {
			// A cache I/O error never completes the callback
			// directly: it accumulates, bumps the fallback counter,
			// and pushes the request to pass-through,
			// which owns completion from here. Ownership transfers
			// without ever decrementing pending to zero on this path,
			// so the callback cannot fire twice.
			r.CoreError = err
			if e.Collab.Stats != nil {
				e.Collab.Stats.IncFallback()
			}
			e.releaseLockIfHeld(r)
			e.Collab.PassThrough.Read(r)
			return
		}
		e.releaseLockIfHeld(r)
		r.Release()
	}
}

// onCoreDoneNoPromote handles a non-promoting backend read completion.
func (e *Engine) onCoreDoneNoPromote(r *request.Request) Completion {
	return func(err error) {
		if err != nil {
			r.CoreError = err
			if r.CopyBuf != nil {
				e.Collab.Buffers.Free(r.CopyBuf)
				r.CopyBuf = nil
			}
			e.releaseLockIfHeld(r)
			r.Release()
			e.Collab.Invalidate.Read(r)
			return
		}
		e.releaseLockIfHeld(r)
		r.Release()
	}
}

// onCoreDonePromote handles a promoting backend read completion. On
// success, the delivered bytes and the backfilled bytes are byte-equal
// to what the backend returned; on any failure, the copy buffer is
// freed before invalidate, never partially written to cache.
func (e *Engine) onCoreDonePromote(r *request.Request) Completion {
	return func(err error) {
		if err != nil {
			r.CoreError = err
			if r.CopyBuf != nil {
				e.Collab.Buffers.Free(r.CopyBuf)
				r.CopyBuf = nil
			}
			e.releaseLockIfHeld(r)
			r.Release()
			e.Collab.Invalidate.Read(r)
			return
		}
		e.releaseLockIfHeld(r)
		r.Release()
		// Copy buffer already holds the backend-delivered bytes (the
		// IOSubmitter writes into r.CopyBuf directly); schedule
		// backfill into cache after the callback has fired.
		e.Collab.Backfill.Read(r)
	}
}
