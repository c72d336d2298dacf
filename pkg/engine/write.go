package engine

import (
	"github.com/netsplitcas/hybridcache/pkg/logx"
	"github.com/netsplitcas/hybridcache/pkg/request"
)

// Write is the entry function for the write engine: write-through to
// cache and backend in parallel, invalidate on error.
func (e *Engine) Write(r *request.Request) {
	if r.Mapping.Error() != nil {
		e.Collab.PassThrough.Write(r)
		return
	}

	e.Collab.Locker.AcquireLock(r, request.LockWrite, func(h LockHandle, err error) {
		if err != nil {
			if e.Collab.Stats != nil {
				e.Collab.Stats.IncLockError()
			}
			r.CoreError = ErrLockFailed
			logx.Logger.Error().Err(err).Str("request", r.ID.String()).Msg("engine: write lock acquisition failed")
			r.Release()
			return
		}
		r.LockHandle = h
		e.doWrite(r)
	})
}

// doWrite updates line metadata, then fans the write out to cache and
// backend in parallel.
func (e *Engine) doWrite(r *request.Request) {
	anyMiss := !r.Mapping.Hit()
	if anyMiss {
		if err := e.Collab.Metadata.SetValidMapInfo(r); err != nil {
			e.failWrite(r, err)
			return
		}
	}
	if r.Mapping.DirtyAny() {
		if err := e.Collab.Metadata.SetCleanMapInfo(r); err != nil {
			e.failWrite(r, err)
			return
		}
	}
	if err := e.Collab.Metadata.PartMove(r); err != nil {
		e.failWrite(r, err)
		return
	}

	// Pending count = io_count + 1: one for the cache fan-out, one
	// reserved for the backend completion. io_count is always 1 here
	// (the engine always aggregates the cache write into a single
	// submission); a metadata-flush sub-request would add to this
	// count and route its own completion through the cache side.
	r.SetPending(2)

	e.Collab.IO.SubmitCacheReqs(r, request.OpWrite, r.Length, 1, e.onWriteCacheDone(r))
	e.Collab.IO.SubmitVolumeReq(r, request.OpWrite, e.onWriteCoreDone(r))
}

// failWrite completes r with a metadata-update error, treated like a
// backend error: complete with the error, then invalidate, since the
// line state may be partially updated.
func (e *Engine) failWrite(r *request.Request, err error) {
	e.releaseLockIfHeld(r)
	r.CoreError = err
	logx.Logger.Error().Err(err).Str("request", r.ID.String()).Msg("engine: write metadata update failed")
	r.Release()
	e.Collab.Invalidate.Write(r)
}

// onWriteCacheDone handles the cache side of a write's parallel
// fan-out. A cache-only error is tracked in CacheError and bumps the
// fallback counter, but never by itself turns the callback's outcome
// into a failure; only a backend error (CoreError) does that.
func (e *Engine) onWriteCacheDone(r *request.Request) Completion {
	return func(err error) {
		if err != nil {
			if e.Collab.Stats != nil {
				e.Collab.Stats.IncFallback()
			}
			r.CacheError = err
		}
		e.finishWriteOne(r)
	}
}

// onWriteCoreDone handles the backend side of a write's parallel
// fan-out.
func (e *Engine) onWriteCoreDone(r *request.Request) Completion {
	return func(err error) {
		if err != nil {
			if e.Collab.Stats != nil {
				e.Collab.Stats.IncCoreError()
			}
			r.CoreError = err // backend error always wins for the callback
		}
		e.finishWriteOne(r)
	}
}

// finishWriteOne releases one of the two references the write fan-out
// holds. Whichever completion is actually last to arrive runs the
// unlock/invalidate decision exactly once, via ReleaseLast's finalize
// hook — not a racy peek at Pending() against the other completion.
// Any error (cache or backend) schedules invalidate, but only a
// backend error (r.CoreError) turns the callback's own outcome into a
// failure.
func (e *Engine) finishWriteOne(r *request.Request) {
	r.ReleaseLast(func() {
		e.releaseLockIfHeld(r)
		if r.CoreError != nil || r.CacheError != nil {
			e.Collab.Invalidate.Write(r)
		}
	})
}
