package editwatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/editkit/editwatch/internal/platform"
	"github.com/hazyhaar/editkit/editwatch/internal/shield"
	"github.com/hazyhaar/editkit/editwatch/internal/sink"
	"github.com/hazyhaar/editkit/editwatch/internal/source"
)

var errNoHistory = errors.New("editwatch: history not configured")

// Handler returns a chi router serving Routes with the usual middleware.
func (w *Watcher) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultStack(w.logger) {
		r.Use(mw)
	}
	w.Routes(r)
	return r
}

// Routes registers the websocket endpoint and the session and history API.
//
//	GET    /healthz
//	GET    /ws?session=<id>
//	GET    /api/sessions
//	DELETE /api/sessions/{id}
//	POST   /api/sessions/{id}/flush
//	POST   /api/sessions/{id}/emit
//	GET    /api/changes?session=<id>&after=<seq>&limit=<n>
//	GET    /api/changes/{id}
func (w *Watcher) Routes(r chi.Router) {
	r.Get("/healthz", w.handleHealth)
	r.Get("/ws", w.HandleWebSocket)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", w.handleSessions)
		r.Delete("/{id}", w.handleCloseSession)
		r.Post("/{id}/flush", w.handleFlush)
		r.Post("/{id}/emit", w.handleEmit)
	})

	r.Route("/api/changes", func(r chi.Router) {
		r.Get("/", w.handleListChanges)
		r.Get("/{id}", w.handleGetChange)
	})
}

// HandleWebSocket upgrades the request, reads the agent's hello frame and
// observes the session until the connection ends.
func (w *Watcher) HandleWebSocket(rw http.ResponseWriter, r *http.Request) {
	cfg := w.Config()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, cfg.Server.AllowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("editwatch: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	state := platform.NewState()
	src := source.NewWebSocket(conn, state, w.logger)
	if _, err := src.Handshake(cfg.Server.HandshakeTimeout); err != nil {
		w.logger.Warn("editwatch: websocket handshake failed", "remote", r.RemoteAddr, "error", err)
		conn.Close()
		return
	}

	ctx := r.Context()
	s, err := w.openSession(ctx, r.URL.Query().Get("session"), KindWebSocket, src, state, nil)
	if err != nil {
		w.logger.Warn("editwatch: websocket session refused", "remote", r.RemoteAddr, "error", err)
		src.Stop()
		return
	}
	w.logger.Info("editwatch: websocket session opened",
		"session", s.id, "remote", r.RemoteAddr, "user_agent", state.UserAgent(),
		"compatibility", state.Policy().Compatibility)

	select {
	case <-src.Done():
	case <-ctx.Done():
	}
	if err := src.Err(); err != nil {
		w.logger.Warn("editwatch: websocket read failed", "session", s.id, "error", err)
	}
	if err := w.CloseSession(s.id); err != nil && !errors.Is(err, ErrUnknownSession) {
		w.logger.Warn("editwatch: close websocket session", "session", s.id, "error", err)
	}
}

func (w *Watcher) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	w.mu.Lock()
	n := len(w.sessions)
	w.mu.Unlock()
	writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "sessions": n})
}

func (w *Watcher) handleSessions(rw http.ResponseWriter, r *http.Request) {
	resp := struct {
		Live    []SessionInfo         `json:"live"`
		History []sink.SessionSummary `json:"history,omitempty"`
	}{Live: w.Sessions()}

	if w.store != nil {
		hist, err := w.store.Sessions(r.Context())
		if err != nil {
			writeError(rw, http.StatusInternalServerError, err)
			return
		}
		resp.History = hist
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (w *Watcher) handleCloseSession(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := w.CloseSession(id); err != nil {
		writeSessionError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "closed", "id": id})
}

func (w *Watcher) handleFlush(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flushed, err := w.Flush(id)
	if err != nil {
		writeSessionError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"id": id, "flushed": flushed})
}

func (w *Watcher) handleEmit(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := w.Emit(id); err != nil {
		writeSessionError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "emitted", "id": id})
}

func (w *Watcher) handleListChanges(rw http.ResponseWriter, r *http.Request) {
	if w.store == nil {
		writeError(rw, http.StatusServiceUnavailable, errNoHistory)
		return
	}

	q := r.URL.Query()
	opts := ListOptions{SessionID: q.Get("session")}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(rw, http.StatusBadRequest, fmt.Errorf("invalid after %q", v))
			return
		}
		opts.AfterSeq = after
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(rw, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		opts.Limit = limit
	}

	changes, err := w.store.List(r.Context(), opts)
	if err != nil {
		shield.GetLogger(r.Context()).Error("editwatch: list changes", "error", err)
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	if changes == nil {
		changes = []Change{}
	}
	writeJSON(rw, http.StatusOK, changes)
}

func (w *Watcher) handleGetChange(rw http.ResponseWriter, r *http.Request) {
	if w.store == nil {
		writeError(rw, http.StatusServiceUnavailable, errNoHistory)
		return
	}
	c, err := w.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		writeError(rw, http.StatusNotFound, err)
		return
	}
	if err != nil {
		shield.GetLogger(r.Context()).Error("editwatch: get change", "error", err)
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, c)
}

func writeSessionError(rw http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownSession) {
		writeError(rw, http.StatusNotFound, err)
		return
	}
	writeError(rw, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// isOriginAllowed accepts requests without Origin, origins listed in
// allowed (full origin or bare host), and same-host origins when allowed
// is empty.
func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	if originHost == "" {
		return false
	}

	if len(allowed) > 0 {
		for _, a := range allowed {
			if strings.EqualFold(origin, a) || strings.EqualFold(originHost, a) {
				return true
			}
		}
		return false
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.EqualFold(originHost, strings.Trim(host, "[]"))
}
