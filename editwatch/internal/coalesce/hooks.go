package coalesce

import "sync"

// Hooks is the ordered list of change callbacks. Callers register and
// remove hooks at any time; the coalescer only iterates.
type Hooks struct {
	mu   sync.RWMutex
	next int
	list []hookEntry
}

type hookEntry struct {
	id int
	fn func()
}

// Add appends fn and returns a function that removes it.
func (h *Hooks) Add(fn func()) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	id := h.next
	h.list = append(h.list, hookEntry{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.list {
			if e.id == id {
				h.list = append(h.list[:i:i], h.list[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered hooks.
func (h *Hooks) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.list)
}

// Run invokes every hook in registration order. A nil *Hooks runs nothing.
// A panicking hook stops the iteration and propagates to the caller.
func (h *Hooks) Run() {
	if h == nil {
		return
	}
	h.mu.RLock()
	fns := make([]func(), len(h.list))
	for i, e := range h.list {
		fns[i] = e.fn
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
