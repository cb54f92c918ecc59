// Package observer runs the observation lifecycle of one editing session:
// it subscribes the coalescer to a mutation source, installs the debounced
// flush when the session runs in compatibility mode, turns every flush
// into a mutation.Change for the sinks, and tears everything down on Stop.
package observer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/editkit/editwatch/internal/coalesce"
	"github.com/hazyhaar/editkit/editwatch/internal/debounce"
	"github.com/hazyhaar/editkit/editwatch/internal/sink"
	"github.com/hazyhaar/editkit/editwatch/internal/source"
	"github.com/hazyhaar/editkit/editwatch/mutation"
)

var (
	// ErrAlreadyObserving is returned by a second Observe call.
	ErrAlreadyObserving = errors.New("observer: already observing")
	// ErrStopped is returned when observing after Stop.
	ErrStopped = errors.New("observer: stopped")
)

// Config for creating an Observer.
type Config struct {
	SessionID string
	// Root is the observed editing root. Default: mutation.RootID.
	Root   mutation.NodeID
	Source source.Source
	Flags  coalesce.Flags
	Sink   sink.Sink
	// Hooks receives change events. A fresh list is created when nil.
	Hooks *coalesce.Hooks
	// OnchangeTimeout is the compatibility-mode debounce delay. Default: 200ms.
	OnchangeTimeout time.Duration
	// Sanitizer, when set, cleans inserted HTML before it reaches the sinks.
	Sanitizer *bluemonday.Policy
	Clock     clock.Clock
	NewID     func() string
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.Root == 0 {
		c.Root = mutation.RootID
	}
	if c.Hooks == nil {
		c.Hooks = &coalesce.Hooks{}
	}
	if c.OnchangeTimeout <= 0 {
		c.OnchangeTimeout = 200 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.NewID == nil {
		c.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Observer owns one coalescer. OnBatch, debounced flushes and Emit are
// serialised by mu, so the coalescer sees one callback at a time.
type Observer struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	co        *coalesce.Coalescer
	deb       *debounce.Debouncer
	seq       uint64
	observing bool
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Observer. Nothing is subscribed until Observe.
func New(cfg Config) *Observer {
	cfg.defaults()
	o := &Observer{
		cfg:    cfg,
		logger: cfg.Logger.With("session", cfg.SessionID),
		ctx:    context.Background(),
		cancel: func() {},
	}
	o.co = coalesce.New(coalesce.Config{
		Root:    cfg.Root,
		Flags:   cfg.Flags,
		History: coalesce.HistoryFunc(o.save),
		Hooks:   cfg.Hooks,
		Logger:  o.logger,
	})
	return o
}

// Observe subscribes to the source. The compatibility flag is read once,
// here: when set, the debounced flush is built from OnchangeTimeout.
func (o *Observer) Observe(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrStopped
	}
	if o.observing {
		o.mu.Unlock()
		return ErrAlreadyObserving
	}
	o.ctx, o.cancel = context.WithCancel(ctx)

	compat := o.cfg.Flags != nil && o.cfg.Flags.Policy().Compatibility
	if compat {
		o.deb = debounce.New(o.cfg.OnchangeTimeout, o.debouncedFlush, debounce.WithClock(o.cfg.Clock))
		o.co.SetScheduledFlush(o.deb.Trigger)
	}
	o.observing = true
	runCtx := o.ctx
	o.mu.Unlock()

	if err := o.cfg.Source.Observe(runCtx, o.cfg.Root, o.onBatch); err != nil {
		o.mu.Lock()
		o.observing = false
		o.co.SetScheduledFlush(nil)
		o.deb = nil
		o.cancel()
		o.mu.Unlock()
		return fmt.Errorf("observer: observe: %w", err)
	}

	o.logger.Info("observer: observing",
		"root", o.cfg.Root, "compatibility", compat, "onchange_timeout", o.cfg.OnchangeTimeout)
	return nil
}

// Stop detaches the source and cancels a pending debounced flush.
// Records still pending are dropped.
func (o *Observer) Stop() error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	wasObserving := o.observing
	deb := o.deb
	dropped := len(o.co.Pending())
	o.mu.Unlock()

	if deb != nil {
		deb.Cancel()
	}
	var err error
	if wasObserving {
		err = o.cfg.Source.Stop()
	}
	o.cancel()

	o.logger.Info("observer: stopped", "dropped", dropped)
	if err != nil {
		return fmt.Errorf("observer: stop source: %w", err)
	}
	return nil
}

// Flush forces a flush of the pending set.
func (o *Observer) Flush() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.co.Flush()
}

// Emit runs the change hooks without flushing.
func (o *Observer) Emit() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.co.Emit()
}

// Pending returns a copy of the pending set.
func (o *Observer) Pending() []mutation.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.co.Pending()
	out := make([]mutation.Record, len(p))
	copy(out, p)
	return out
}

// PendingLen returns the number of pending records without copying them.
func (o *Observer) PendingLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.co.Pending())
}

// Debounced reports whether a debounced flush is installed.
func (o *Observer) Debounced() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deb != nil
}

// Hooks returns the change hook list of this session.
func (o *Observer) Hooks() *coalesce.Hooks { return o.cfg.Hooks }

// SessionID returns the session identifier.
func (o *Observer) SessionID() string { return o.cfg.SessionID }

func (o *Observer) onBatch(b mutation.Batch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	o.co.OnBatch(b)
}

func (o *Observer) debouncedFlush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	o.co.Flush()
}
