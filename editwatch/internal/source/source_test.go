package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/editkit/editwatch/internal/platform"
	"github.com/hazyhaar/editkit/editwatch/mutation"
)

const uaFirefox = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

func TestDispatch(t *testing.T) {
	state := platform.NewState()
	var got []mutation.Batch
	fn := func(b mutation.Batch) { got = append(got, b) }

	frames := []Frame{
		{Type: FrameHello, UserAgent: uaFirefox},
		{Type: FrameComposition, Composing: true},
		{Type: FrameBatch, Records: json.RawMessage(`[{"type":"childList","target":3}]`)},
		{Type: FrameBatch},
	}
	for _, f := range frames {
		if err := dispatch(f, state, fn); err != nil {
			t.Fatalf("dispatch %s: %v", f.Type, err)
		}
	}

	p := state.Policy()
	if !p.Firefox || !p.Composing {
		t.Errorf("policy: got %+v", p)
	}
	if len(got) != 2 {
		t.Fatalf("batches: got %d, want 2", len(got))
	}
	if len(got[0]) != 1 || got[0][0].Target != 3 {
		t.Errorf("batch[0]: got %+v", got[0])
	}
	if len(got[1]) != 0 {
		t.Errorf("batch[1]: got %d records, want 0", len(got[1]))
	}
}

func TestDispatch_Rejects(t *testing.T) {
	state := platform.NewState()
	fn := func(mutation.Batch) { t.Error("callback must not run") }

	if err := dispatch(Frame{Type: "bogus"}, state, fn); err == nil {
		t.Error("unknown type: expected error")
	}
	bad := Frame{Type: FrameBatch, Records: json.RawMessage(`[{"type":"nope","target":1}]`)}
	if err := dispatch(bad, state, fn); err == nil {
		t.Error("unknown kind: expected error")
	}
}

func TestManual(t *testing.T) {
	m := NewManual()
	if m.Push(mutation.Batch{{Kind: mutation.KindChildList}}) {
		t.Error("Push before Observe: got true")
	}

	var n int
	if err := m.Observe(context.Background(), 9, func(b mutation.Batch) { n += len(b) }); err != nil {
		t.Fatal(err)
	}
	if err := m.Observe(context.Background(), 9, func(mutation.Batch) {}); !errors.Is(err, ErrAlreadyObserving) {
		t.Errorf("second Observe: got %v", err)
	}
	if m.Root() != 9 {
		t.Errorf("Root: got %d", m.Root())
	}

	m.Push(mutation.Batch{{Kind: mutation.KindChildList}, {Kind: mutation.KindCharacterData}})
	if n != 2 {
		t.Errorf("records: got %d, want 2", n)
	}

	m.Stop()
	if m.Push(mutation.Batch{{Kind: mutation.KindChildList}}) {
		t.Error("Push after Stop: got true")
	}
	if err := m.Observe(context.Background(), 9, func(mutation.Batch) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Observe after Stop: got %v", err)
	}
}

// wsPair starts a server that wraps the upgraded connection in a WebSocket
// source and returns the client side.
func wsPair(t *testing.T, state *platform.State) (*websocket.Conn, <-chan *WebSocket) {
	t.Helper()
	ch := make(chan *WebSocket, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ch <- NewWebSocket(conn, state, nil)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, ch
}

func TestWebSocket_HandshakeAndBatches(t *testing.T) {
	state := platform.NewState()
	client, ch := wsPair(t, state)
	ws := <-ch

	if err := client.WriteJSON(Frame{Type: FrameHello, UserAgent: uaFirefox}); err != nil {
		t.Fatal(err)
	}
	hello, err := ws.Handshake(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if hello.UserAgent != uaFirefox || !state.Policy().Firefox {
		t.Fatalf("handshake: got %+v, policy %+v", hello, state.Policy())
	}

	batches := make(chan mutation.Batch, 4)
	if err := ws.Observe(context.Background(), mutation.RootID, func(b mutation.Batch) { batches <- b }); err != nil {
		t.Fatal(err)
	}
	defer ws.Stop()

	client.WriteJSON(Frame{Type: FrameComposition, Composing: true})
	client.WriteJSON(Frame{Type: FrameBatch, Records: json.RawMessage(`[{"type":"characterData","target":4,"value":"x"}]`)})

	select {
	case b := <-batches:
		if len(b) != 1 || b[0].Value != "x" {
			t.Errorf("batch: got %+v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no batch received")
	}
	// The composition frame was read before the batch on the same loop.
	if !state.Policy().Composing {
		t.Error("composing flag not set")
	}
}

func TestWebSocket_HandshakeRequiresHello(t *testing.T) {
	client, ch := wsPair(t, platform.NewState())
	ws := <-ch

	client.WriteJSON(Frame{Type: FrameBatch})
	if _, err := ws.Handshake(time.Second); err == nil {
		t.Fatal("expected handshake error")
	}
}

func TestWebSocket_RejectsForeignRoot(t *testing.T) {
	_, ch := wsPair(t, platform.NewState())
	ws := <-ch
	defer ws.Stop()

	if err := ws.Observe(context.Background(), 42, func(mutation.Batch) {}); err == nil {
		t.Fatal("expected error for non-agent root")
	}
}

func TestWebSocket_ClientCloseEndsLoop(t *testing.T) {
	client, ch := wsPair(t, platform.NewState())
	ws := <-ch

	if err := ws.Observe(context.Background(), mutation.RootID, func(mutation.Batch) {}); err != nil {
		t.Fatal(err)
	}
	client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	select {
	case <-ws.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not end")
	}
	if err := ws.Err(); err != nil {
		t.Errorf("Err after normal close: %v", err)
	}
	ws.Stop()
}

func TestWebSocket_ContextCancelStops(t *testing.T) {
	_, ch := wsPair(t, platform.NewState())
	ws := <-ch

	ctx, cancel := context.WithCancel(context.Background())
	if err := ws.Observe(ctx, mutation.RootID, func(mutation.Batch) {}); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-ws.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not end after cancel")
	}
}
