package server

import (
	"os"
	"sync"
	"time"

	"github.com/sells-group/ingest-cli/internal/wizard"
)

// entry is a loaded session plus the directories holding files posted to
// it.
type entry struct {
	w *wizard.Wizard

	mu   sync.Mutex
	dirs []string
}

func (e *entry) addUploadDir(dir string) {
	e.mu.Lock()
	e.dirs = append(e.dirs, dir)
	e.mu.Unlock()
}

func (e *entry) removeUploads() {
	e.mu.Lock()
	dirs := e.dirs
	e.dirs = nil
	e.mu.Unlock()
	for _, d := range dirs {
		os.RemoveAll(d) //nolint:errcheck
	}
}

type registry struct {
	mu sync.RWMutex
	m  map[string]*entry
}

func newRegistry() *registry {
	return &registry{m: make(map[string]*entry)}
}

func (r *registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.m[id]
	return e, ok
}

// add stores w unless a session with its id is already loaded, in which
// case the loaded one is returned with false.
func (r *registry) add(w *wizard.Wizard) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.m[w.ID()]; ok {
		return e, false
	}
	e := &entry{w: w}
	r.m[w.ID()] = e
	return e, true
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; !ok {
		return false
	}
	delete(r.m, id)
	return true
}

func (r *registry) idleSince(cutoff time.Time) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entry
	for _, e := range r.m {
		if e.w.LastActivity().Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func (r *registry) drain() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.m))
	for id, e := range r.m {
		out = append(out, e)
		delete(r.m, id)
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
