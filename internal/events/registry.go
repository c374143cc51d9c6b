// Package events provides handler sets with unsubscribe functions and a small named-topic bus
// for collaborators that must learn about changes made elsewhere (unread badges, lists).
package events

import (
	"sort"
	"sync"
)

// Registry is a set of handlers for values of type T. Handlers are invoked in
// registration order, outside the lock, so a handler may unsubscribe itself.
type Registry[T any] struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]func(T)
}

// Add registers fn and returns a function removing it. The returned function is idempotent.
func (r *Registry[T]) Add(fn func(T)) func() {
	r.mu.Lock()
	if r.handlers == nil {
		r.handlers = make(map[uint64]func(T))
	}
	r.next++
	id := r.next
	r.handlers[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers, id)
			r.mu.Unlock()
		})
	}
}

// Len returns the number of registered handlers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Emit calls every handler registered at the moment of the call.
func (r *Registry[T]) Emit(v T) {
	for _, fn := range r.snapshot() {
		fn(v)
	}
}

func (r *Registry[T]) snapshot() []func(T) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint64, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.handlers[id])
	}
	return out
}
