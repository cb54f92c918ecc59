// Package sink defines where flushed changes go. Every flush of a session's
// pending set becomes one mutation.Change delivered to the configured sinks
// (SQLite history, stdout, webhook, in-process callback).
package sink

import (
	"context"

	"github.com/hazyhaar/editkit/editwatch/mutation"
)

// Sink persists or forwards flushed changes.
type Sink interface {
	Save(ctx context.Context, change mutation.Change) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
