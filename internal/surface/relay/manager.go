// Package relay drives sign-in surfaces rendered by a GUI shell connected over a websocket.
// The shell opens, closes and focuses named webview windows on request and reports
// their navigation back to the daemon.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/launcher-accounts/accountd/internal/surface"
)

// DefaultPath is where the shell connects.
const DefaultPath = "/v0/surface/ws"

const defaultCallTimeout = 10 * time.Second

// Manager accepts the shell connection and implements surface.Host on top of it.
// Only one shell is active; a new connection replaces the previous one.
type Manager struct {
	path     string
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	shell    *session
	surfaces map[string]*relaySurface

	callTimeout    time.Duration
	onConnected    func(string)
	onDisconnected func(string, error)

	logDebugf func(string, ...any)
	logInfof  func(string, ...any)
	logWarnf  func(string, ...any)
}

// Options configures a Manager.
type Options struct {
	Path           string
	CallTimeout    time.Duration
	OnConnected    func(string)
	OnDisconnected func(string, error)
	LogDebugf      func(string, ...any)
	LogInfof       func(string, ...any)
	LogWarnf       func(string, ...any)
}

// NewManager builds a relay manager with the supplied options.
func NewManager(opts Options) *Manager {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mgr := &Manager{
		path:     path,
		surfaces: make(map[string]*relaySurface),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The shell is a local webview with a custom scheme origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		callTimeout:    opts.CallTimeout,
		onConnected:    opts.OnConnected,
		onDisconnected: opts.OnDisconnected,
		logDebugf:      opts.LogDebugf,
		logInfof:       opts.LogInfof,
		logWarnf:       opts.LogWarnf,
	}
	if mgr.callTimeout <= 0 {
		mgr.callTimeout = defaultCallTimeout
	}
	noop := func(string, ...any) {}
	if mgr.logDebugf == nil {
		mgr.logDebugf = noop
	}
	if mgr.logInfof == nil {
		mgr.logInfof = noop
	}
	if mgr.logWarnf == nil {
		mgr.logWarnf = noop
	}
	return mgr
}

// Path returns the HTTP path the manager expects for websocket upgrades.
func (m *Manager) Path() string { return m.path }

// Handler upgrades shell connections.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(m.handleWebsocket)
}

// Connected reports whether a shell is attached.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shell != nil
}

// Stop disconnects the shell.
func (m *Manager) Stop(_ context.Context) error {
	m.mu.Lock()
	shell := m.shell
	m.mu.Unlock()
	if shell != nil {
		shell.cleanup(errors.New("relay: manager stopped"))
	}
	return nil
}

func (m *Manager) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.URL != nil && r.URL.Path != m.path {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logWarnf("relay: upgrade failed: %v", err)
		return
	}
	s := newSession(conn, m, uuid.NewString())

	m.mu.Lock()
	replaced := m.shell
	m.shell = s
	m.mu.Unlock()

	if replaced != nil {
		replaced.cleanup(errors.New("replaced by new connection"))
	}
	m.logInfof("relay: shell %s connected", s.id)
	if m.onConnected != nil {
		m.onConnected(s.id)
	}
	go s.run()
}

func (m *Manager) handleSessionClosed(s *session, cause error) {
	m.mu.Lock()
	if m.shell == s {
		m.shell = nil
	}
	var orphaned []*relaySurface
	for label, sf := range m.surfaces {
		if sf.sess == s {
			orphaned = append(orphaned, sf)
			delete(m.surfaces, label)
		}
	}
	m.mu.Unlock()

	for _, sf := range orphaned {
		sf.markClosed()
	}
	m.logInfof("relay: shell %s disconnected: %v", s.id, cause)
	if m.onDisconnected != nil {
		m.onDisconnected(s.id, cause)
	}
}

func (m *Manager) handleEvent(s *session, msg Message) {
	label := payloadString(msg.Payload, "label")
	m.mu.RLock()
	sf := m.surfaces[label]
	m.mu.RUnlock()
	if sf == nil || sf.sess != s {
		m.logDebugf("relay: %s event for unknown surface %q", msg.Type, label)
		return
	}

	switch msg.Type {
	case MessageTypeNavigated:
		raw := payloadString(msg.Payload, "url")
		u, err := url.Parse(raw)
		if err != nil {
			m.logWarnf("relay: surface %q reported unparseable url: %v", label, err)
			return
		}
		sf.setLocation(u)
	case MessageTypeClosed:
		m.forget(sf)
		sf.markClosed()
	}
}

func (m *Manager) forget(sf *relaySurface) {
	m.mu.Lock()
	if cur, ok := m.surfaces[sf.label]; ok && cur == sf {
		delete(m.surfaces, sf.label)
	}
	m.mu.Unlock()
}

func (m *Manager) call(ctx context.Context, s *session, msgType string, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	return s.call(ctx, Message{ID: uuid.NewString(), Type: msgType, Payload: payload})
}

// Open asks the shell to create a surface and waits for its acknowledgement.
func (m *Manager) Open(ctx context.Context, opts surface.Options) (surface.Surface, error) {
	start, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("relay: invalid surface url: %w", err)
	}
	m.mu.RLock()
	s := m.shell
	m.mu.RUnlock()
	if s == nil {
		return nil, errors.New("relay: no shell connected")
	}

	sf := &relaySurface{label: opts.Label, manager: m, sess: s, location: start}
	m.mu.Lock()
	prev := m.surfaces[opts.Label]
	m.surfaces[opts.Label] = sf
	m.mu.Unlock()
	if prev != nil {
		prev.markClosed()
	}

	errCall := m.call(ctx, s, MessageTypeOpen, map[string]any{
		"label":         opts.Label,
		"url":           opts.URL,
		"title":         opts.Title,
		"always_on_top": opts.AlwaysOnTop,
		"center":        opts.Center,
	})
	if errCall != nil {
		m.forget(sf)
		sf.markClosed()
		return nil, fmt.Errorf("relay: open surface %q: %w", opts.Label, errCall)
	}
	return sf, nil
}

// Lookup returns the open surface with label.
func (m *Manager) Lookup(label string) (surface.Surface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sf, ok := m.surfaces[label]
	if !ok {
		return nil, false
	}
	return sf, true
}
