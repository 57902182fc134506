// Package terminal presents sign-in as a terminal prompt: the user opens the shown
// address anywhere and pastes back the page they land on.
package terminal

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	sysbrowser "github.com/launcher-accounts/accountd/internal/browser"
	"github.com/launcher-accounts/accountd/internal/surface"
)

// Host runs one bubbletea program per open surface.
type Host struct {
	in   io.Reader
	out  io.Writer
	copy func(string) error
	open func(string) error

	mu       sync.Mutex
	surfaces map[string]*termSurface
}

// NewHost returns a terminal host. Nil in/out use the process terminal.
func NewHost(in io.Reader, out io.Writer) *Host {
	return &Host{
		in:       in,
		out:      out,
		copy:     clipboard.WriteAll,
		open:     sysbrowser.OpenURL,
		surfaces: make(map[string]*termSurface),
	}
}

// Open starts the prompt program.
func (h *Host) Open(_ context.Context, opts surface.Options) (surface.Surface, error) {
	start, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("terminal surface: invalid url: %w", err)
	}
	sf := &termSurface{label: opts.Label, host: h, location: start, done: make(chan struct{})}

	var progOpts []tea.ProgramOption
	if h.in != nil {
		progOpts = append(progOpts, tea.WithInput(h.in))
	}
	if h.out != nil {
		progOpts = append(progOpts, tea.WithOutput(h.out))
	}
	sf.program = tea.NewProgram(newModel(sf, opts.Title, opts.URL), progOpts...)

	h.mu.Lock()
	h.surfaces[opts.Label] = sf
	h.mu.Unlock()

	go func() {
		defer close(sf.done)
		_, _ = sf.program.Run()
		sf.markClosed()
	}()
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

func (h *Host) forget(sf *termSurface) {
	h.mu.Lock()
	if cur, ok := h.surfaces[sf.label]; ok && cur == sf {
		delete(h.surfaces, sf.label)
	}
	h.mu.Unlock()
}

type termSurface struct {
	label   string
	host    *Host
	program *tea.Program
	done    chan struct{}

	mu       sync.RWMutex
	location *url.URL
	closed   bool
}

func (s *termSurface) Label() string { return s.label }

func (s *termSurface) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *termSurface) Location() (*url.URL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, surface.ErrClosed
	}
	u := *s.location
	return &u, nil
}

func (s *termSurface) setLocation(u *url.URL) {
	s.mu.Lock()
	s.location = u
	s.mu.Unlock()
}

func (s *termSurface) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.host.forget(s)
}

// Close quits the prompt and restores the terminal.
func (s *termSurface) Close() error {
	s.markClosed()
	if s.program == nil {
		return nil
	}
	s.program.Quit()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		s.program.Kill()
	}
	return nil
}

func (s *termSurface) RequestAttention() error {
	if s.Closed() {
		return surface.ErrClosed
	}
	if s.program != nil {
		s.program.Send(attentionMsg{})
	}
	return nil
}
