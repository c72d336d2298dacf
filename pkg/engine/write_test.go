package engine

import (
	"bytes"
	"testing"

	"github.com/netsplitcas/hybridcache/pkg/memstore"
	"github.com/netsplitcas/hybridcache/pkg/request"
	"github.com/netsplitcas/hybridcache/pkg/splitctl"
)

func TestWrite_Hit(t *testing.T) {
	store := memstore.New(1 << 20)
	store.SeedLine(0, bytes.Repeat([]byte{0x01}, memstore.LineSize), false)
	admit := &splitctl.StaticSource{SplitRatio: 100, DataAdmit: true}
	e, _ := newTestEngine(store, admit, 100)

	m := store.BuildMapping(0, memstore.LineSize)
	if !m.Hit() {
		t.Fatalf("expected hit mapping")
	}

	payload := bytes.Repeat([]byte{0x99}, memstore.LineSize)

	r, err := waitRead(t, func(cb func(*request.Request, error)) {
		req := request.New(request.OpWrite, 0, memstore.LineSize, m, cb)
		req.CopyBuf = payload
		e.Write(req)
	})
	if err != nil {
		t.Fatalf("callback error = %v", err)
	}
	if r.Pending() != 0 {
		t.Fatalf("req_remaining = %d, want 0", r.Pending())
	}

	readBack, err := waitRead(t, func(cb func(*request.Request, error)) {
		m2 := store.BuildMapping(0, memstore.LineSize)
		req := request.New(request.OpRead, 0, memstore.LineSize, m2, cb)
		e.Read(req)
	})
	if err != nil {
		t.Fatalf("readback error = %v", err)
	}
	if !bytes.Equal(readBack.CopyBuf, payload) {
		t.Fatalf("written bytes not observed on cache readback: got %v want %v", readBack.CopyBuf, payload)
	}
}

func TestWrite_MissSetsValidAndDispatchesBoth(t *testing.T) {
	store := memstore.New(1 << 20)
	admit := &splitctl.StaticSource{SplitRatio: 100, DataAdmit: true}
	e, _ := newTestEngine(store, admit, 100)

	m := store.BuildMapping(0, memstore.LineSize)
	if m.Hit() {
		t.Fatalf("expected miss mapping")
	}
	payload := bytes.Repeat([]byte{0x77}, memstore.LineSize)

	_, err := waitRead(t, func(cb func(*request.Request, error)) {
		req := request.New(request.OpWrite, 0, memstore.LineSize, m, cb)
		req.CopyBuf = payload
		e.Write(req)
	})
	if err != nil {
		t.Fatalf("callback error = %v", err)
	}

	m2 := store.BuildMapping(0, memstore.LineSize)
	if !m2.Hit() {
		t.Fatalf("expected line marked present after write-miss metadata update")
	}
}

func TestWrite_BackendErrorInvalidatesAndReportsError(t *testing.T) {
	store := memstore.New(0) // zero-sized backend: the backend write always fails
	store.SeedLine(0, bytes.Repeat([]byte{0x01}, memstore.LineSize), false)
	admit := &splitctl.StaticSource{SplitRatio: 100, DataAdmit: true}
	e, _ := newTestEngine(store, admit, 100)

	m := store.BuildMapping(0, memstore.LineSize)

	_, err := waitRead(t, func(cb func(*request.Request, error)) {
		req := request.New(request.OpWrite, 0, memstore.LineSize, m, cb)
		req.CopyBuf = bytes.Repeat([]byte{0x55}, memstore.LineSize)
		e.Write(req)
	})
	if err == nil {
		t.Fatalf("expected backend error to surface to callback")
	}
	m2 := store.BuildMapping(0, memstore.LineSize)
	if m2.Hit() {
		t.Fatalf("expected invalidate to clear the line after a backend write error")
	}
}

func TestWrite_CallbackFiresExactlyOnce(t *testing.T) {
	store := memstore.New(1 << 20)
	store.SeedLine(0, bytes.Repeat([]byte{0x01}, memstore.LineSize), false)
	admit := &splitctl.StaticSource{SplitRatio: 100, DataAdmit: true}
	e, _ := newTestEngine(store, admit, 100)

	m := store.BuildMapping(0, memstore.LineSize)

	var calls int
	waitRead(t, func(cb func(*request.Request, error)) {
		req := request.New(request.OpWrite, 0, memstore.LineSize, m, func(r *request.Request, err error) {
			calls++
			cb(r, err)
		})
		req.CopyBuf = bytes.Repeat([]byte{0x66}, memstore.LineSize)
		e.Write(req)
	})
	if calls != 1 {
		t.Fatalf("callback fired %d times, want exactly 1", calls)
	}
}
