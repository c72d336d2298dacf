package memstore

import "github.com/netsplitcas/hybridcache/pkg/request"

// PassThrough is the trivial fallback engine: it bypasses cache
// entirely, reading/writing the backend volume directly and completing
// the request with success regardless of what drove it here.
type PassThrough struct {
	Store *Store
}

func (p *PassThrough) Read(r *request.Request) {
	r.CoreError = nil
	r.SetPending(1)
	p.Store.SubmitVolumeReq(r, request.OpRead, func(err error) {
		r.CoreError = nil // pass-through always reports success
		r.Release()
	})
}

func (p *PassThrough) Write(r *request.Request) {
	r.CoreError = nil
	r.SetPending(1)
	p.Store.SubmitVolumeReq(r, request.OpWrite, func(err error) {
		r.CoreError = nil
		r.Release()
	})
}

// Invalidate marks every line in r's mapping invalid (not present),
// after a failed promotion or a write error.
type Invalidate struct {
	Store *Store
}

func (inv *Invalidate) Read(r *request.Request)  { inv.invalidate(r) }
func (inv *Invalidate) Write(r *request.Request) { inv.invalidate(r) }

func (inv *Invalidate) invalidate(r *request.Request) {
	inv.Store.mu.Lock()
	o := alignDown(r.Offset)
	for i := range r.Mapping.Lines {
		delete(inv.Store.lines, o+int64(i)*LineSize)
		delete(inv.Store.cache, o+int64(i)*LineSize)
	}
	inv.Store.mu.Unlock()
}

// Backfill writes a promoted read's copy buffer into the mapped cache
// lines. Invoked after the user callback has already fired; it never
// touches the request's callback again.
type Backfill struct {
	Store *Store
}

func (b *Backfill) Read(r *request.Request) {
	b.Store.mu.Lock()
	o := alignDown(r.Offset)
	for i := range r.Mapping.Lines {
		start := int64(i) * LineSize
		buf := make([]byte, LineSize)
		if start < int64(len(r.CopyBuf)) {
			copy(buf, r.CopyBuf[start:])
		}
		b.Store.cache[o+start] = buf
		b.Store.lines[o+start] = &lineState{present: true}
	}
	b.Store.mu.Unlock()
}

// Write is unused: nothing backfills on the write path.
func (b *Backfill) Write(r *request.Request) {}

// Clean flushes dirty lines found on a promoting miss, then
// reschedules the request back into Engine.Read. Resumer is set by the
// caller that constructs Clean so it can call back into the engine
// without an import cycle.
type Clean struct {
	Store   *Store
	Resumer func(r *request.Request)
}

func (c *Clean) Read(r *request.Request) {
	c.Store.mu.Lock()
	o := alignDown(r.Offset)
	for i := range r.Mapping.Lines {
		r.Mapping.Lines[i].Dirty = false
		if ls, ok := c.Store.lines[o+int64(i)*LineSize]; ok {
			ls.dirty = false
		}
	}
	c.Store.mu.Unlock()

	if c.Resumer != nil {
		c.Resumer(r)
	}
}

// Write is unused: cleaning is only scheduled from the read path.
func (c *Clean) Write(r *request.Request) {}
