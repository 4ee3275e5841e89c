// Package inflight tracks which logical network operations are currently
// running so overlapping triggers (timer ticks racing user actions) don't
// issue the same request twice.
package inflight

import "sync"

type Registry struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{busy: make(map[string]struct{})}
}

// TryAcquire marks key busy and returns true, or returns false if an
// identical operation is already running. Losers must skip the operation
// entirely, not queue behind the winner.
func (r *Registry) TryAcquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.busy[key]; exists {
		return false
	}
	r.busy[key] = struct{}{}
	return true
}

// Release clears the busy marker. Callers defer it immediately after a
// successful TryAcquire so an error path can never leave the key stuck.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.busy, key)
}
