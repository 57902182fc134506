package relay

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/launcher-accounts/accountd/internal/surface"
)

type fakeShell struct {
	t      *testing.T
	conn   *websocket.Conn
	mu     sync.Mutex
	got    []Message
	reject map[string]string
	seen   chan Message
}

func startRelay(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()
	mgr := NewManager(Options{CallTimeout: 2 * time.Second})
	srv := httptest.NewServer(mgr.Handler())
	t.Cleanup(func() {
		_ = mgr.Stop(context.Background())
		srv.Close()
	})
	return mgr, srv
}

func connectShell(t *testing.T, mgr *Manager, srv *httptest.Server) *fakeShell {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	waitFor(t, mgr.Connected)

	sh := &fakeShell{t: t, conn: conn, reject: map[string]string{}, seen: make(chan Message, 16)}
	go sh.serve()
	return sh
}

func (sh *fakeShell) serve() {
	for {
		var msg Message
		if err := sh.conn.ReadJSON(&msg); err != nil {
			return
		}
		sh.mu.Lock()
		sh.got = append(sh.got, msg)
		reason, reject := sh.reject[msg.Type]
		sh.mu.Unlock()

		reply := Message{ID: msg.ID, Type: MessageTypeAck}
		if reject {
			reply = Message{ID: msg.ID, Type: MessageTypeError, Payload: map[string]any{"error": reason}}
		}
		sh.mu.Lock()
		_ = sh.conn.WriteJSON(reply)
		sh.mu.Unlock()
		sh.seen <- msg
	}
}

func (sh *fakeShell) emit(msgType, label, rawURL string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	payload := map[string]any{"label": label}
	if rawURL != "" {
		payload["url"] = rawURL
	}
	if err := sh.conn.WriteJSON(Message{Type: msgType, Payload: payload}); err != nil {
		sh.t.Errorf("emit %s: %v", msgType, err)
	}
}

func (sh *fakeShell) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-sh.seen:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for shell message")
		return Message{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func openSignin(t *testing.T, mgr *Manager) surface.Surface {
	t.Helper()
	sf, err := mgr.Open(context.Background(), surface.Options{
		Label:       "signin",
		URL:         "https://login.live.com/oauth20_authorize.srf?client_id=1",
		Title:       "Sign into Modrinth",
		AlwaysOnTop: true,
		Center:      true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sf
}

func TestOpenWithoutShellFails(t *testing.T) {
	t.Parallel()

	mgr, _ := startRelay(t)
	_, err := mgr.Open(context.Background(), surface.Options{Label: "signin", URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected error without a shell")
	}
}

func TestSurfaceTracksNavigationAndClose(t *testing.T) {
	t.Parallel()

	mgr, srv := startRelay(t)
	sh := connectShell(t, mgr, srv)

	sf := openSignin(t, mgr)
	open := sh.next(t)
	if open.Type != MessageTypeOpen || payloadString(open.Payload, "title") != "Sign into Modrinth" {
		t.Fatalf("unexpected open message: %+v", open)
	}
	if on, _ := open.Payload["always_on_top"].(bool); !on {
		t.Fatal("open should request always_on_top")
	}

	loc, err := sf.Location()
	if err != nil || loc.Host != "login.live.com" {
		t.Fatalf("initial location = %v, %v", loc, err)
	}

	sh.emit(MessageTypeNavigated, "signin", "https://login.live.com/oauth20_desktop.srf?code=abc")
	waitFor(t, func() bool {
		u, errLoc := sf.Location()
		return errLoc == nil && u.Query().Get("code") == "abc"
	})

	if err = sf.RequestAttention(); err != nil {
		t.Fatalf("RequestAttention: %v", err)
	}
	if msg := sh.next(t); msg.Type != MessageTypeAttention || payloadString(msg.Payload, "kind") != "critical" {
		t.Fatalf("unexpected attention message: %+v", msg)
	}

	sh.emit(MessageTypeClosed, "signin", "")
	waitFor(t, sf.Closed)
	if _, err = sf.Location(); !errors.Is(err, surface.ErrClosed) {
		t.Fatalf("Location after close = %v, want ErrClosed", err)
	}
	if _, ok := mgr.Lookup("signin"); ok {
		t.Fatal("closed surface should be forgotten")
	}
}

func TestCloseSendsRequestOnce(t *testing.T) {
	t.Parallel()

	mgr, srv := startRelay(t)
	sh := connectShell(t, mgr, srv)

	sf := openSignin(t, mgr)
	sh.next(t)
	if found, ok := mgr.Lookup("signin"); !ok || found != sf {
		t.Fatal("Lookup should return the open surface")
	}
	if err := sf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if msg := sh.next(t); msg.Type != MessageTypeClose {
		t.Fatalf("expected close request, got %+v", msg)
	}
	if err := sf.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case msg := <-sh.seen:
		t.Fatalf("second Close must not reach the shell, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestShellDisconnectClosesSurfaces(t *testing.T) {
	t.Parallel()

	mgr, srv := startRelay(t)
	sh := connectShell(t, mgr, srv)
	sf := openSignin(t, mgr)
	sh.next(t)

	_ = sh.conn.Close()
	waitFor(t, sf.Closed)
	waitFor(t, func() bool { return !mgr.Connected() })
}

func TestShellRejectsOpen(t *testing.T) {
	t.Parallel()

	mgr, srv := startRelay(t)
	sh := connectShell(t, mgr, srv)
	sh.mu.Lock()
	sh.reject[MessageTypeOpen] = "webview unavailable"
	sh.mu.Unlock()

	_, err := mgr.Open(context.Background(), surface.Options{Label: "signin", URL: "https://example.com"})
	if err == nil || !strings.Contains(err.Error(), "webview unavailable") {
		t.Fatalf("Open err = %v", err)
	}
	if _, ok := mgr.Lookup("signin"); ok {
		t.Fatal("rejected surface must not be registered")
	}
}
