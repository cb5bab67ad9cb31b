// Package inflight tracks one outstanding request per operation kind.
// Starting a new request of a kind cancels the previous one first, so a
// stale response can never overwrite fresh state.
package inflight

import (
	"context"
	"sync"
)

// Kind names a logical operation such as "analyze" or "preview".
type Kind string

const (
	Analyze   Kind = "analyze"
	Preview   Kind = "preview"
	Advisory  Kind = "advisory"
	Compat    Kind = "compatibility"
	Upload    Kind = "upload"
	AutoRetry Kind = "auto-retry"
)

type entry struct {
	gen    uint64
	cancel context.CancelFunc
}

// Tracker hands out cancellable contexts keyed by kind.
type Tracker struct {
	mu      sync.Mutex
	gen     uint64
	entries map[Kind]entry
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[Kind]entry)}
}

// Handle is returned by Begin. Done releases the slot; Current reports
// whether this request is still the latest of its kind.
type Handle struct {
	t    *Tracker
	kind Kind
	gen  uint64
}

// Begin cancels any outstanding request of kind and returns a context
// derived from parent for the new one.
func (t *Tracker) Begin(parent context.Context, kind Kind) (context.Context, *Handle) {
	ctx, cancel := context.WithCancel(parent)

	t.mu.Lock()
	if prev, ok := t.entries[kind]; ok {
		prev.cancel()
	}
	t.gen++
	gen := t.gen
	t.entries[kind] = entry{gen: gen, cancel: cancel}
	t.mu.Unlock()

	return ctx, &Handle{t: t, kind: kind, gen: gen}
}

// Current reports whether h is still the newest request of its kind.
func (h *Handle) Current() bool {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	e, ok := h.t.entries[h.kind]
	return ok && e.gen == h.gen
}

// Done cancels the request's context and frees the slot if it is still
// held by h.
func (h *Handle) Done() {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	e, ok := h.t.entries[h.kind]
	if !ok || e.gen != h.gen {
		return
	}
	e.cancel()
	delete(h.t.entries, h.kind)
}

// Cancel cancels the outstanding request of kind, if any.
func (t *Tracker) Cancel(kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[kind]
	if !ok {
		return false
	}
	e.cancel()
	delete(t.entries, kind)
	return true
}

// Active reports whether a request of kind is outstanding.
func (t *Tracker) Active(kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[kind]
	return ok
}

// CancelAll cancels every outstanding request. Used on session teardown.
func (t *Tracker) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		e.cancel()
		delete(t.entries, k)
	}
}
