package sink

import (
	"context"

	"github.com/hazyhaar/editkit/editwatch/mutation"
)

// ChangeFunc is called for each flushed change.
type ChangeFunc func(ctx context.Context, change mutation.Change) error

// Callback delivers changes as in-process function calls, without
// serialisation. A nil function drops every change.
type Callback struct {
	fn ChangeFunc
}

// NewCallback creates a Callback sink.
func NewCallback(fn ChangeFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Save(ctx context.Context, change mutation.Change) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, change)
}

func (c *Callback) Close() error { return nil }
