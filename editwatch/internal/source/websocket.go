package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/editkit/editwatch/internal/platform"
	"github.com/hazyhaar/editkit/editwatch/mutation"
)

// WebSocket reads agent frames from a remote editing surface.
// The remote agent numbers the observed root mutation.RootID.
type WebSocket struct {
	conn   *websocket.Conn
	state  *platform.State
	logger *slog.Logger

	mu        sync.Mutex
	observing bool
	stopped   bool
	done      chan struct{}
	err       error
}

// NewWebSocket wraps an upgraded connection. state receives hello and
// composition frames.
func NewWebSocket(conn *websocket.Conn, state *platform.State, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		conn:   conn,
		state:  state,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Handshake reads the agent's hello frame and records its user agent.
// It must run before Observe so the compatibility flag can be decided.
func (w *WebSocket) Handshake(timeout time.Duration) (Frame, error) {
	var f Frame
	if timeout > 0 {
		w.conn.SetReadDeadline(time.Now().Add(timeout))
		defer w.conn.SetReadDeadline(time.Time{})
	}
	if err := w.conn.ReadJSON(&f); err != nil {
		return f, fmt.Errorf("source: websocket handshake: %w", err)
	}
	if f.Type != FrameHello {
		return f, fmt.Errorf("source: websocket handshake: expected hello, got %q", f.Type)
	}
	w.state.SetUserAgent(f.UserAgent)
	return f, nil
}

func (w *WebSocket) Observe(ctx context.Context, root mutation.NodeID, fn BatchFunc) error {
	if root != mutation.RootID {
		return fmt.Errorf("source: websocket agents number the root %d, got %d", mutation.RootID, root)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrClosed
	}
	if w.observing {
		return ErrAlreadyObserving
	}
	w.observing = true

	go w.readLoop(fn)
	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done:
		}
	}()
	return nil
}

// Done is closed when the read loop ends.
func (w *WebSocket) Done() <-chan struct{} { return w.done }

// Err returns why the read loop ended. nil after a clean Stop or close.
func (w *WebSocket) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *WebSocket) readLoop(fn BatchFunc) {
	defer close(w.done)
	for {
		var f Frame
		if err := w.conn.ReadJSON(&f); err != nil {
			w.mu.Lock()
			stopped := w.stopped
			if !stopped && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.err = err
			}
			w.mu.Unlock()
			if !stopped {
				w.logger.Debug("source: websocket read ended", "error", err)
			}
			return
		}
		if err := dispatch(f, w.state, fn); err != nil {
			w.logger.Warn("source: websocket frame rejected", "type", f.Type, "error", err)
		}
	}
}

// Stop closes the connection. The read loop exits on its next read.
func (w *WebSocket) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	// Best effort: the peer may already be gone.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}
