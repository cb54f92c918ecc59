package source

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/editkit/editwatch/internal/platform"
	"github.com/hazyhaar/editkit/editwatch/mutation"
)

//go:embed agent.js
var agentJS string

// BindingName is the Runtime binding the injected agent reports through.
const BindingName = "__editwatch_binding"

// Rod observes an editing root inside a Chrome page. The capture agent is
// injected with a MutationObserver and reports through a CDP binding.
type Rod struct {
	page     *rod.Page
	selector string
	state    *platform.State
	logger   *slog.Logger

	mu        sync.Mutex
	observing bool
	stopped   bool
	cancel    context.CancelFunc
}

// NewRod creates a source for the element matching selector on page.
func NewRod(page *rod.Page, selector string, state *platform.State, logger *slog.Logger) *Rod {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rod{page: page, selector: selector, state: state, logger: logger}
}

// UserAgent reads navigator.userAgent from the page and records it.
func (r *Rod) UserAgent(ctx context.Context) (string, error) {
	res, err := r.page.Context(ctx).Eval(`() => navigator.userAgent`)
	if err != nil {
		return "", fmt.Errorf("source: read user agent: %w", err)
	}
	ua := res.Value.Str()
	r.state.SetUserAgent(ua)
	return ua, nil
}

func (r *Rod) Observe(ctx context.Context, root mutation.NodeID, fn BatchFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrClosed
	}
	if r.observing {
		return ErrAlreadyObserving
	}

	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(r.page); err != nil {
		r.logger.Warn("source: addBinding failed (may already exist)", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	// Subscribe before injecting so the agent's first frames are not lost.
	// EachEvent handlers run on one goroutine, in delivery order.
	wait := r.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != BindingName {
			return
		}
		var f Frame
		if err := json.Unmarshal([]byte(e.Payload), &f); err != nil {
			r.logger.Warn("source: parse agent payload", "error", err)
			return
		}
		if err := dispatch(f, r.state, fn); err != nil {
			r.logger.Warn("source: agent frame rejected", "type", f.Type, "error", err)
		}
	})
	go wait()

	if _, err := r.page.Context(ctx).Eval(agentJS, r.selector, BindingName, int64(root)); err != nil {
		cancel()
		return fmt.Errorf("source: inject agent: %w", err)
	}

	r.observing = true
	r.cancel = cancel
	r.logger.Debug("source: agent injected", "selector", r.selector)
	return nil
}

// Stop disconnects the agent's MutationObserver and ends the event loop.
// The page itself is owned by the caller.
func (r *Rod) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	_, err := r.page.Eval(`() => { if (window.__editwatch_stop) window.__editwatch_stop(); }`)
	if err != nil {
		return fmt.Errorf("source: stop agent: %w", err)
	}
	return nil
}
