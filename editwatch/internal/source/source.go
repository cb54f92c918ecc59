// Package source delivers ordered mutation batches from an editing surface.
//
// Three sources exist: Manual (in-process pushes), WebSocket (a capture
// agent running in a remote browser) and Rod (a page driven through the
// Chrome DevTools Protocol with the agent injected). Every source invokes
// its callback from a single goroutine, so callbacks never overlap.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/editkit/editwatch/internal/platform"
	"github.com/hazyhaar/editkit/editwatch/mutation"
)

var (
	// ErrAlreadyObserving is returned by a second Observe call.
	ErrAlreadyObserving = errors.New("source: already observing")
	// ErrClosed is returned when observing a stopped source.
	ErrClosed = errors.New("source: closed")
)

// BatchFunc receives one observation tick.
type BatchFunc func(batch mutation.Batch)

// Source is a mutation stream for one editing root. Observe subscribes
// exactly once; Stop detaches and releases the underlying transport.
type Source interface {
	Observe(ctx context.Context, root mutation.NodeID, fn BatchFunc) error
	Stop() error
}

// Frame types sent by capture agents.
const (
	FrameHello       = "hello"
	FrameBatch       = "batch"
	FrameComposition = "composition"
)

// Frame is one message from a capture agent.
type Frame struct {
	Type      string          `json:"type"`
	UserAgent string          `json:"user_agent,omitempty"`
	Composing bool            `json:"composing,omitempty"`
	Records   json.RawMessage `json:"records,omitempty"`
}

// dispatch applies a frame: batches go to fn, composition and hello frames
// update state.
func dispatch(f Frame, state *platform.State, fn BatchFunc) error {
	switch f.Type {
	case FrameBatch:
		var batch mutation.Batch
		if len(f.Records) > 0 {
			b, err := mutation.UnmarshalBatch(f.Records)
			if err != nil {
				return err
			}
			batch = b
		}
		fn(batch)
	case FrameComposition:
		state.SetComposing(f.Composing)
	case FrameHello:
		state.SetUserAgent(f.UserAgent)
	default:
		return fmt.Errorf("source: unknown frame type %q", f.Type)
	}
	return nil
}
