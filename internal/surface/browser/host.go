// Package browser presents sign-in in the system browser and captures the provider's
// redirect on a loopback callback server.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	sysbrowser "github.com/launcher-accounts/accountd/internal/browser"
	"github.com/launcher-accounts/accountd/internal/surface"
	"github.com/launcher-accounts/accountd/internal/util"
	log "github.com/sirupsen/logrus"
)

const successHTML = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Signed in</title></head>
<body style="font-family:sans-serif;text-align:center;margin-top:15%">
<h1>Sign-in complete</h1><p>You can close this tab and return to the launcher.</p>
</body></html>`

// Host opens surfaces as browser tabs. The identity redirect URI must point at
// an http loopback address; the host listens there for the callback.
type Host struct {
	callback *url.URL
	opener   func(string) error

	mu       sync.Mutex
	surfaces map[string]*browserSurface
}

// NewHost validates redirectURI and returns a browser host.
func NewHost(redirectURI string) (*Host, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("browser surface: invalid redirect uri: %w", err)
	}
	if u.Scheme != "http" || u.Hostname() == "" {
		return nil, fmt.Errorf("browser surface: redirect uri %q must be an http loopback address", redirectURI)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return &Host{
		callback: u,
		opener:   sysbrowser.OpenURL,
		surfaces: make(map[string]*browserSurface),
	}, nil
}

// WithOpener replaces the function that launches the browser.
func (h *Host) WithOpener(fn func(string) error) *Host {
	h.opener = fn
	return h
}

// Open starts the callback listener and opens opts.URL in the browser.
// A browser launch failure is not fatal; the URL is logged for manual use.
func (h *Host) Open(_ context.Context, opts surface.Options) (surface.Surface, error) {
	start, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("browser surface: invalid url: %w", err)
	}
	listener, err := net.Listen("tcp", h.callback.Host)
	if err != nil {
		return nil, fmt.Errorf("browser surface: callback port unavailable: %w", err)
	}

	sf := &browserSurface{label: opts.Label, host: h, location: start, callbackBase: h.callback}
	mux := http.NewServeMux()
	mux.HandleFunc(h.callback.Path, sf.handleCallback)
	sf.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if errServe := sf.server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.WithField("label", opts.Label).Errorf("browser surface: callback server failed: %v", errServe)
			sf.markClosed()
		}
	}()

	h.mu.Lock()
	h.surfaces[opts.Label] = sf
	h.mu.Unlock()

	if errOpen := h.opener(opts.URL); errOpen != nil {
		log.Warnf("browser surface: failed to open browser: %v", errOpen)
		log.Infof("Please open this URL in your browser to sign in: %s", opts.URL)
	}
	return sf, nil
}

// Lookup returns the open surface with label.
func (h *Host) Lookup(label string) (surface.Surface, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sf, ok := h.surfaces[label]
	if !ok {
		return nil, false
	}
	return sf, true
}

func (h *Host) forget(sf *browserSurface) {
	h.mu.Lock()
	if cur, ok := h.surfaces[sf.label]; ok && cur == sf {
		delete(h.surfaces, sf.label)
	}
	h.mu.Unlock()
}

type browserSurface struct {
	label        string
	host         *Host
	server       *http.Server
	callbackBase *url.URL

	mu       sync.RWMutex
	location *url.URL
	closed   bool
}

func (s *browserSurface) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Rebuild the absolute URL as the browser saw it so prefix matching works.
	u := *s.callbackBase
	u.RawQuery = r.URL.RawQuery
	log.WithField("label", s.label).Debugf("browser surface: callback received %s", util.MaskURL(u.String()))

	s.mu.Lock()
	s.location = &u
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(successHTML)); err != nil {
		log.Errorf("browser surface: failed to write success page: %v", err)
	}
}

func (s *browserSurface) Label() string { return s.label }

func (s *browserSurface) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *browserSurface) Location() (*url.URL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, surface.ErrClosed
	}
	u := *s.location
	return &u, nil
}

func (s *browserSurface) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.host.forget(s)
}

// Close stops the callback server. The browser tab itself stays with the user.
func (s *browserSurface) Close() error {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	s.host.forget(s)
	if already {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil && !strings.Contains(err.Error(), "closed") {
		return fmt.Errorf("browser surface: stop callback server: %w", err)
	}
	return nil
}

// RequestAttention is a no-op: the browser owns window focus.
func (s *browserSurface) RequestAttention() error {
	if s.Closed() {
		return surface.ErrClosed
	}
	return nil
}
