// Package engine implements the read and write request engines: the
// MFCWT per-request state machines that consult the admission signals,
// lock affected cache lines, dispatch I/O to cache and/or backend, and
// drive completions through to the user callback exactly once.
//
// Everything the engine needs from cache metadata, line locking, I/O
// submission, buffers, stats, and the fallback engines is expressed as
// the small set of interfaces below, passed as values so the fallback
// engines can re-enter engine selection without a naming cycle. The
// engine depends only on these; pkg/memstore and pkg/lockmgr supply
// concrete, swappable implementations for tests and the demo binary.
package engine

import "github.com/netsplitcas/hybridcache/pkg/request"

// Completion is invoked when one dispatched sub-operation (one cache
// sub-request, or the single backend request) finishes. err is nil on
// success.
type Completion func(err error)

// LockHandle is returned by a granted lock acquisition; Release drops
// it. Aliased to request.LockHandle so a *request.Request can hold one
// without pkg/request importing pkg/engine.
type LockHandle = request.LockHandle

// LockGrant is passed to the deferred-acquisition callback.
type LockGrant func(h LockHandle, err error)

// Locker acquires read/write locks on the cache lines covered by a
// Request. grant may be invoked synchronously (before AcquireLock
// returns) or asynchronously from another goroutine once the lock
// becomes available; the engine only depends on it firing exactly
// once.
type Locker interface {
	AcquireLock(r *request.Request, lt request.LockType, grant func(h LockHandle, err error))
}

// MetadataStore is the cache-line metadata collaborator: querying
// hit/miss/dirty state is done via the Request's own Mapping, but
// mutating it on promotion/clean/repartition goes through this
// interface so the engine never touches storage directly.
type MetadataStore interface {
	// SetValidMapInfo marks the lines covered by r's mapping valid,
	// under a read lock on the metadata hash.
	SetValidMapInfo(r *request.Request) error
	// SetCleanMapInfo marks the lines covered by r's mapping clean,
	// under a write lock on the metadata hash.
	SetCleanMapInfo(r *request.Request) error
	// PartMove performs any repartition moves required by a write.
	PartMove(r *request.Request) error
}

// IOSubmitter is the block-I/O submission collaborator.
// SubmitCacheReqs dispatches n sub-requests of the given op/length to
// the cache device; SubmitVolumeReq dispatches a single request to the
// backend volume. Completion always runs via the supplied Completion;
// it may fire from an I/O completion context or, for an in-memory
// implementation, synchronously before the submit call returns. The
// engine sizes the request's pending count before submitting, so it is
// correct either way.
type IOSubmitter interface {
	SubmitCacheReqs(r *request.Request, op request.Op, length int64, nSubReqs int, completion func(err error))
	SubmitVolumeReq(r *request.Request, op request.Op, completion func(err error))
}

// BufferPool is the page-aligned copy-buffer collaborator used only
// when promoting a backend read into cache.
type BufferPool interface {
	// Allocate returns a pinned, page-aligned buffer of length n, or an
	// error (e.g. out of memory).
	Allocate(n int64) ([]byte, error)
	// Free releases a buffer previously returned by Allocate.
	Free(buf []byte)
}

// Stats is the error/fallback counters collaborator.
type Stats interface {
	IncFallback()
	IncCoreError()
	IncLockError()
}

// SubEngine is a value with a Read and Write method, so pass-through/
// invalidate/backfill/clean engines can be passed around uniformly and
// can themselves re-enter engine selection without a naming cycle.
type SubEngine interface {
	Read(r *request.Request)
	Write(r *request.Request)
}

// Collaborators bundles every external dependency an Engine needs.
type Collaborators struct {
	Locker   Locker
	Metadata MetadataStore
	IO       IOSubmitter
	Buffers  BufferPool
	Stats    Stats

	// PassThrough bypasses the cache entirely; used as the fallback on
	// mapping errors, unsafe-to-promote misses, and cache I/O errors.
	PassThrough SubEngine
	// Invalidate marks cache lines invalid after a failed promotion or
	// a write error.
	Invalidate SubEngine
	// Backfill writes a promoted read's copy buffer into the mapped
	// cache lines after the callback has fired.
	Backfill SubEngine
	// Clean flushes dirty lines found on a promoting miss before
	// rescheduling the request.
	Clean SubEngine
}
