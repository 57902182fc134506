// Package surface abstracts the interactive sign-in view owned by a host
// (a GUI shell window, the system browser or the terminal).
package surface

import (
	"context"
	"errors"
	"net/url"
)

// ErrClosed is returned when reading state from a surface that no longer exists.
var ErrClosed = errors.New("surface: closed")

// Options describes a surface to open.
type Options struct {
	Label       string `json:"label"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	AlwaysOnTop bool   `json:"always_on_top"`
	Center      bool   `json:"center"`
}

// Surface is one open sign-in view.
type Surface interface {
	Label() string
	// Closed reports whether the user or host destroyed the surface.
	Closed() bool
	// Location returns the page currently shown, or ErrClosed.
	Location() (*url.URL, error)
	Close() error
	// RequestAttention asks the host to bring the surface to the user's notice.
	RequestAttention() error
}

// Host creates and finds surfaces by label.
type Host interface {
	Open(ctx context.Context, opts Options) (Surface, error)
	Lookup(label string) (Surface, bool)
}
