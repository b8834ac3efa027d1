// Package registry holds the supervisor's set of live worker handles.
package registry

import (
	"errors"
	"sync"

	"github.com/randomizedcoder/go-worker-swarm/internal/worker"
)

// ErrEmptyRegistry is returned when a removal is requested with no members.
var ErrEmptyRegistry = errors.New("registry: no workers registered")

// Registry is a concurrency-safe, insertion-ordered collection of worker
// handles. Every operation runs under one exclusive lock; no reference to
// the underlying slice escapes.
type Registry struct {
	mu      sync.Mutex
	members []*worker.Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add appends a handle. The registry owns it until it is removed.
func (r *Registry) Add(h *worker.Handle) {
	r.mu.Lock()
	r.members = append(r.members, h)
	r.mu.Unlock()
}

// RemoveNewest pops the most recently added handle.
func (r *Registry) RemoveNewest() (*worker.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.members)
	if n == 0 {
		return nil, ErrEmptyRegistry
	}
	h := r.members[n-1]
	r.members[n-1] = nil
	r.members = r.members[:n-1]
	return h, nil
}

// RemoveOldest pops the least recently added handle.
func (r *Registry) RemoveOldest() (*worker.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) == 0 {
		return nil, ErrEmptyRegistry
	}
	h := r.members[0]
	r.members[0] = nil
	r.members = r.members[1:]
	return h, nil
}

// Remove drops a specific handle. It reports whether the handle was present.
func (r *Registry) Remove(h *worker.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.members {
		if m == h {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// Count returns the number of registered handles.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Reap removes every handle whose process has exited and returns their
// exit records in insertion order. It never blocks on a running worker.
func (r *Registry) Reap() []worker.Exit {
	r.mu.Lock()
	defer r.mu.Unlock()

	var exits []worker.Exit
	kept := r.members[:0]
	for _, h := range r.members {
		if exit, ok := h.Exit(); ok {
			exits = append(exits, exit)
			continue
		}
		kept = append(kept, h)
	}
	for i := len(kept); i < len(r.members); i++ {
		r.members[i] = nil
	}
	r.members = kept
	return exits
}

// DrainAll returns a snapshot of all members without removing them.
// Callers remove each handle once its exit is confirmed.
func (r *Registry) DrainAll() []*worker.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]*worker.Handle, len(r.members))
	copy(snapshot, r.members)
	return snapshot
}

// At returns the handle at insertion index i (0 = oldest).
func (r *Registry) At(i int) (*worker.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i < 0 || i >= len(r.members) {
		return nil, false
	}
	return r.members[i], true
}

// PIDs returns the process ids of all members in insertion order.
func (r *Registry) PIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pids := make([]int, len(r.members))
	for i, h := range r.members {
		pids[i] = h.PID()
	}
	return pids
}
