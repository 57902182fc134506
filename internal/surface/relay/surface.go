package relay

import (
	"context"
	"net/url"
	"sync"

	"github.com/launcher-accounts/accountd/internal/surface"
)

type relaySurface struct {
	label   string
	manager *Manager
	sess    *session

	mu       sync.RWMutex
	location *url.URL
	closed   bool
}

func (s *relaySurface) Label() string { return s.label }

func (s *relaySurface) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case <-s.sess.done():
		return true
	default:
		return false
	}
}

func (s *relaySurface) Location() (*url.URL, error) {
	if s.Closed() {
		return nil, surface.ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := *s.location
	return &u, nil
}

func (s *relaySurface) setLocation(u *url.URL) {
	s.mu.Lock()
	s.location = u
	s.mu.Unlock()
}

func (s *relaySurface) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Close asks the shell to destroy the window. Closing twice is a no-op.
func (s *relaySurface) Close() error {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	s.manager.forget(s)
	if already {
		return nil
	}
	select {
	case <-s.sess.done():
		return nil
	default:
	}
	return s.manager.call(context.Background(), s.sess, MessageTypeClose, map[string]any{"label": s.label})
}

func (s *relaySurface) RequestAttention() error {
	if s.Closed() {
		return surface.ErrClosed
	}
	return s.manager.call(context.Background(), s.sess, MessageTypeAttention, map[string]any{
		"label": s.label,
		"kind":  "critical",
	})
}
