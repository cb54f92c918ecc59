// Package editwatch detects changes made to rich-text editing surfaces.
// Each editing session (a remote agent over websocket or a Chrome page
// driven through CDP) gets its own coalescer: raw DOM mutations are
// filtered, grouped per tick, held during input-method composition or
// debounced on legacy engines, and flushed as changes to the sinks.
//
// editwatch records what changed, it does not interpret. Changes are
// emitted to sinks (stdout, webhook, SQLite history, callback).
package editwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/editkit/editwatch/internal/browser"
	"github.com/hazyhaar/editkit/editwatch/internal/coalesce"
	"github.com/hazyhaar/editkit/editwatch/internal/config"
	"github.com/hazyhaar/editkit/editwatch/internal/observer"
	"github.com/hazyhaar/editkit/editwatch/internal/platform"
	"github.com/hazyhaar/editkit/editwatch/internal/sink"
	"github.com/hazyhaar/editkit/editwatch/internal/source"
)

var (
	// ErrUnknownSession is returned for a session ID with no live session.
	ErrUnknownSession = errors.New("editwatch: unknown session")
	// ErrSessionExists is returned when a session ID is already in use.
	ErrSessionExists = errors.New("editwatch: session already exists")
	// ErrStopped is returned once the watcher has been stopped.
	ErrStopped = errors.New("editwatch: watcher stopped")
)

// Session kinds.
const (
	KindWebSocket = "websocket"
	KindPage      = "page"
)

// SessionInfo describes a live session.
type SessionInfo struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Compatibility bool      `json:"compatibility"`
	Firefox       bool      `json:"firefox"`
	Composing     bool      `json:"composing"`
	Pending       int       `json:"pending"`
	StartedAt     time.Time `json:"started_at"`
}

type session struct {
	id      string
	kind    string
	state   *platform.State
	obs     *observer.Observer
	started time.Time
	// closer releases what the session owns beyond its source (a Chrome tab).
	closer func() error
}

// Watcher is the top-level orchestrator. It owns the sinks, the optional
// Chrome instance and every live editing session.
type Watcher struct {
	mu       sync.Mutex
	cfg      *config.Config
	sessions map[string]*session
	stopped  bool

	hooksMu sync.RWMutex
	hooks   []func(sessionID string)

	mgr       *browser.Manager
	sinkR     *sink.Router
	store     *sink.Store
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
}

// New creates a Watcher. A *Store among sinks also backs the history API.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}

	w := &Watcher{
		cfg:       cfg,
		sessions:  make(map[string]*session),
		sinkR:     sink.NewRouter(logger, sinks...),
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger,
	}
	for _, s := range sinks {
		if st, ok := s.(*sink.Store); ok {
			w.store = st
			break
		}
	}
	w.mgr = browser.NewManager(browser.Config{
		RemoteURL: cfg.Browser.Remote,
		Headless:  cfg.Browser.IsHeadless(),
		Stealth:   cfg.Browser.Stealth,
		Logger:    logger,
	})
	return w
}

// Start observes every page configured under browser.pages. Chrome is
// only launched when at least one page is configured.
func (w *Watcher) Start(ctx context.Context) error {
	cfg := w.Config()
	if len(cfg.Browser.Pages) == 0 {
		return nil
	}

	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("editwatch: start browser: %w", err)
	}
	for _, page := range cfg.Browser.Pages {
		if err := w.ObservePage(ctx, page); err != nil {
			w.logger.Error("editwatch: failed to observe page",
				"url", page.URL, "id", page.ID, "error", err)
		}
	}
	return nil
}

// ObservePage opens pageCfg in Chrome and observes its editing root.
func (w *Watcher) ObservePage(ctx context.Context, pageCfg PageConfig) error {
	if pageCfg.RootSelector == "" {
		pageCfg.RootSelector = w.Config().Editor.RootSelector
	}

	page, err := w.mgr.OpenPage(ctx, pageCfg.URL)
	if err != nil {
		return fmt.Errorf("editwatch: open page: %w", err)
	}

	state := platform.NewState()
	src := source.NewRod(page, pageCfg.RootSelector, state, w.logger)
	if _, err := src.UserAgent(ctx); err != nil {
		w.logger.Warn("editwatch: user agent unavailable", "url", pageCfg.URL, "error", err)
	}

	if _, err := w.openSession(ctx, pageCfg.ID, KindPage, src, state, page.Close); err != nil {
		page.Close()
		return err
	}
	w.logger.Info("editwatch: observing page",
		"url", pageCfg.URL, "id", pageCfg.ID, "root", pageCfg.RootSelector)
	return nil
}

// openSession builds the observer of one session and starts observing.
// The compatibility flag is decided here from the configured mode and the
// user agent, and does not change for the lifetime of the session.
func (w *Watcher) openSession(ctx context.Context, id, kind string, src source.Source, state *platform.State, closer func() error) (*session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil, ErrStopped
	}
	if _, dup := w.sessions[id]; dup {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	cfg := w.cfg
	// Reserve the ID; the observer is attached below.
	s := &session{id: id, kind: kind, state: state, started: time.Now(), closer: closer}
	w.sessions[id] = s
	w.mu.Unlock()

	state.SetCompatibility(platform.CompatMode(cfg.Editor.CompatibleMode).Resolve(state.UserAgent()))

	hooks := &coalesce.Hooks{}
	hooks.Add(func() { w.notify(id) })

	var sanitizer *bluemonday.Policy
	if cfg.History.SanitizeHTML {
		sanitizer = w.sanitizer
	}

	obs := observer.New(observer.Config{
		SessionID:       id,
		Source:          src,
		Flags:           state,
		Sink:            w.sinkR,
		Hooks:           hooks,
		OnchangeTimeout: cfg.Editor.OnchangeDelay(),
		Sanitizer:       sanitizer,
		Logger:          w.logger,
	})
	if err := obs.Observe(ctx); err != nil {
		w.mu.Lock()
		delete(w.sessions, id)
		w.mu.Unlock()
		return nil, fmt.Errorf("editwatch: observe session %s: %w", id, err)
	}

	w.mu.Lock()
	if w.sessions[id] != s {
		// Closed or stopped while the observer was starting.
		w.mu.Unlock()
		obs.Stop()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	s.obs = obs
	w.mu.Unlock()
	return s, nil
}

// CloseSession stops observing a session. Pending records are dropped.
func (w *Watcher) CloseSession(id string) error {
	w.mu.Lock()
	s, ok := w.sessions[id]
	if ok {
		delete(w.sessions, id)
	}
	w.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	return w.closeSession(s)
}

func (w *Watcher) closeSession(s *session) error {
	var err error
	if s.obs != nil {
		err = s.obs.Stop()
	}
	if s.closer != nil {
		if cerr := s.closer(); cerr != nil && err == nil {
			err = cerr
		}
	}
	w.logger.Info("editwatch: session closed", "session", s.id, "kind", s.kind)
	return err
}

// OnChange registers fn to run after every flush of any session, and on
// Emit. fn runs synchronously on the flushing goroutine and must not call
// back into the same session.
func (w *Watcher) OnChange(fn func(sessionID string)) {
	w.hooksMu.Lock()
	w.hooks = append(w.hooks, fn)
	w.hooksMu.Unlock()
}

func (w *Watcher) notify(sessionID string) {
	w.hooksMu.RLock()
	hooks := make([]func(string), len(w.hooks))
	copy(hooks, w.hooks)
	w.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(sessionID)
	}
}

// Emit fires the change hooks of a session without flushing it.
func (w *Watcher) Emit(sessionID string) error {
	obs, err := w.observer(sessionID)
	if err != nil {
		return err
	}
	obs.Emit()
	return nil
}

// Flush forces a flush of a session's pending records. It reports whether
// anything was flushed.
func (w *Watcher) Flush(sessionID string) (bool, error) {
	obs, err := w.observer(sessionID)
	if err != nil {
		return false, err
	}
	return obs.Flush(), nil
}

func (w *Watcher) observer(id string) (*observer.Observer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[id]
	if !ok || s.obs == nil {
		return nil, ErrUnknownSession
	}
	return s.obs, nil
}

// Sessions lists live sessions ordered by start time.
func (w *Watcher) Sessions() []SessionInfo {
	w.mu.Lock()
	live := make([]*session, 0, len(w.sessions))
	for _, s := range w.sessions {
		if s.obs != nil {
			live = append(live, s)
		}
	}
	w.mu.Unlock()

	out := make([]SessionInfo, 0, len(live))
	for _, s := range live {
		p := s.state.Policy()
		out = append(out, SessionInfo{
			ID:            s.id,
			Kind:          s.kind,
			UserAgent:     s.state.UserAgent(),
			Compatibility: p.Compatibility,
			Firefox:       p.Firefox,
			Composing:     p.Composing,
			Pending:       s.obs.PendingLen(),
			StartedAt:     s.started,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Config returns the configuration new sessions are opened with.
func (w *Watcher) Config() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// SetConfig replaces the configuration. Live sessions keep the settings
// they were opened with.
func (w *Watcher) SetConfig(cfg *Config) {
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
	w.logger.Info("editwatch: configuration updated",
		"onchange_timeout", cfg.Editor.OnchangeTimeout, "compatible_mode", cfg.Editor.CompatibleMode)
}

// WatchConfig reloads path on change and applies it to new sessions.
// It blocks until ctx is cancelled.
func (w *Watcher) WatchConfig(ctx context.Context, path string) error {
	return config.Watch(ctx, path, w.logger, w.SetConfig)
}

// Store returns the history store, nil when none was configured.
func (w *Watcher) Store() *Store { return w.store }

// Stop closes every session, the sinks and the browser.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	sessions := w.sessions
	w.sessions = make(map[string]*session)
	w.mu.Unlock()

	for _, s := range sessions {
		if err := w.closeSession(s); err != nil {
			w.logger.Warn("editwatch: close session", "session", s.id, "error", err)
		}
	}
	if err := w.sinkR.Close(); err != nil {
		w.logger.Warn("editwatch: close sinks", "error", err)
	}
	if err := w.mgr.Close(); err != nil {
		w.logger.Warn("editwatch: close browser", "error", err)
	}
}
