// Package coalesce turns per-tick mutation batches into flushed changes.
// It decides, for every tick, whether the accumulated records are flushed
// now, kept while an input-method composition runs, or handed to a
// debounced flush on platforms running in compatibility mode.
//
// A Coalescer is not safe for concurrent use. Its owner serialises OnBatch,
// Flush and Emit (see internal/observer).
package coalesce

import (
	"log/slog"

	"github.com/hazyhaar/editkit/editwatch/mutation"
)

// History persists flushed records. Save is synchronous and must not
// retain records after returning: the backing array is reused.
type History interface {
	Save(records []mutation.Record)
}

// HistoryFunc adapts a function to History.
type HistoryFunc func(records []mutation.Record)

func (f HistoryFunc) Save(records []mutation.Record) { f(records) }

// Config for creating a Coalescer.
type Config struct {
	Root    mutation.NodeID
	Flags   Flags
	History History
	Hooks   *Hooks // nil means no hooks
	Logger  *slog.Logger
}

// Coalescer owns the pending set of one editing session.
type Coalescer struct {
	root    mutation.NodeID
	flags   Flags
	history History
	hooks   *Hooks
	logger  *slog.Logger

	pending []mutation.Record
	ticks   int

	// scheduled is the debounced flush, installed only in compatibility mode.
	scheduled func()
}

// New creates a Coalescer with an empty pending set.
func New(cfg Config) *Coalescer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Flags == nil {
		cfg.Flags = StaticFlags{}
	}
	return &Coalescer{
		root:    cfg.Root,
		flags:   cfg.Flags,
		history: cfg.History,
		hooks:   cfg.Hooks,
		logger:  cfg.Logger,
		pending: make([]mutation.Record, 0, 64),
	}
}

// SetScheduledFlush installs the debounced flush used in compatibility
// mode. nil removes it.
func (c *Coalescer) SetScheduledFlush(fn func()) {
	c.scheduled = fn
}

// OnBatch filters a raw tick, appends the survivors and applies the flush
// policy for the current flags.
func (c *Coalescer) OnBatch(raw mutation.Batch) {
	filtered := Filter(raw, c.root)
	if len(filtered) > 0 {
		c.pending = append(c.pending, filtered...)
		c.ticks++
	}

	p := c.flags.Policy()

	if p.Compatibility {
		if c.scheduled == nil {
			c.logger.Debug("coalesce: compatibility mode without scheduled flush",
				"pending", len(c.pending))
			return
		}
		c.scheduled()
		return
	}

	if len(c.pending) == 0 {
		return
	}
	if p.Firefox || !p.Composing {
		c.Flush()
		return
	}
	c.logger.Debug("coalesce: composing, deferring flush", "pending", len(c.pending))
}

// Flush saves the pending set, empties it in place and emits the change
// event. It is a no-op returning false when nothing is pending.
func (c *Coalescer) Flush() bool {
	if len(c.pending) == 0 {
		return false
	}

	if c.history != nil {
		c.history.Save(c.pending)
	}
	c.logger.Debug("coalesce: flushed", "records", len(c.pending), "ticks", c.ticks)

	c.pending = c.pending[:0]
	c.ticks = 0

	c.Emit()
	return true
}

// Emit runs the change hooks in registration order.
func (c *Coalescer) Emit() {
	c.hooks.Run()
}

// Pending returns the current pending set. The slice aliases internal
// storage and is only valid until the next OnBatch or Flush.
func (c *Coalescer) Pending() []mutation.Record {
	return c.pending
}

// Ticks returns how many non-empty ticks the pending set spans.
func (c *Coalescer) Ticks() int { return c.ticks }
