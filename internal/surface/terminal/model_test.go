package terminal

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/launcher-accounts/accountd/internal/surface"
)

func newTestSurface(t *testing.T) (*Host, *termSurface) {
	t.Helper()
	h := NewHost(nil, nil)
	start, _ := url.Parse("https://login.live.com/oauth20_authorize.srf?client_id=1")
	sf := &termSurface{label: "signin", host: h, location: start, done: make(chan struct{})}
	h.surfaces["signin"] = sf
	return h, sf
}

func TestModelSubmitSetsLocation(t *testing.T) {
	t.Parallel()

	_, sf := newTestSurface(t)
	m := newModel(sf, "Sign into Modrinth", "https://login.live.com/oauth20_authorize.srf")
	m.input.SetValue("https://login.live.com/oauth20_desktop.srf?code=M.C5_abc&lc=1033")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	loc, err := sf.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.Query().Get("code") != "M.C5_abc" {
		t.Fatalf("location = %s", loc)
	}
	if got := next.(model); got.isErr || got.input.Value() != "" {
		t.Fatalf("unexpected model state: status=%q err=%v", got.status, got.isErr)
	}
}

func TestModelRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, sf := newTestSurface(t)
	m := newModel(sf, "t", "https://idp.example/")
	m.input.SetValue("hello")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !next.(model).isErr {
		t.Fatal("expected an error status")
	}
	loc, _ := sf.Location()
	if loc.Host != "login.live.com" || loc.Path != "/oauth20_authorize.srf" {
		t.Fatalf("location must not change, got %s", loc)
	}
}

func TestModelEscapeClosesSurface(t *testing.T) {
	t.Parallel()

	h, sf := newTestSurface(t)
	m := newModel(sf, "t", "https://idp.example/")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !sf.Closed() {
		t.Fatal("esc should close the surface")
	}
	if _, err := sf.Location(); !errors.Is(err, surface.ErrClosed) {
		t.Fatalf("Location = %v, want ErrClosed", err)
	}
	if _, ok := h.Lookup("signin"); ok {
		t.Fatal("closed surface should be forgotten")
	}
}

func TestModelCopyAndAttention(t *testing.T) {
	t.Parallel()

	h, sf := newTestSurface(t)
	var copied string
	h.copy = func(s string) error { copied = s; return nil }

	m := newModel(sf, "t", "https://idp.example/authorize")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	msg := cmd()
	if copied != "https://idp.example/authorize" {
		t.Fatalf("copied %q", copied)
	}
	next, _ := m.Update(msg)
	next, _ = next.(model).Update(attentionMsg{})
	view := next.(model).View()
	if !strings.Contains(view, "copied") {
		t.Fatalf("view missing status: %s", view)
	}
	if !next.(model).urgent {
		t.Fatal("attention should mark the prompt urgent")
	}
}
