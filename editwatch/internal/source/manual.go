package source

import (
	"context"
	"sync"

	"github.com/hazyhaar/editkit/editwatch/mutation"
)

// Manual is an in-process source. Push delivers a batch synchronously to
// the subscribed callback.
type Manual struct {
	mu      sync.Mutex
	root    mutation.NodeID
	fn      BatchFunc
	stopped bool
}

// NewManual creates an idle Manual source.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Observe(_ context.Context, root mutation.NodeID, fn BatchFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrClosed
	}
	if m.fn != nil {
		return ErrAlreadyObserving
	}
	m.root = root
	m.fn = fn
	return nil
}

// Push delivers batch and reports whether a subscriber received it.
func (m *Manual) Push(batch mutation.Batch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fn == nil || m.stopped {
		return false
	}
	m.fn(batch)
	return true
}

// Root returns the subscribed root.
func (m *Manual) Root() mutation.NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

func (m *Manual) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.fn = nil
	return nil
}
