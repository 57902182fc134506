package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/launcher-accounts/accountd/internal/browser"
	"github.com/launcher-accounts/accountd/internal/config"
	"github.com/launcher-accounts/accountd/internal/identity"
	"github.com/launcher-accounts/accountd/internal/login"
	"github.com/launcher-accounts/accountd/internal/manager"
	"github.com/launcher-accounts/accountd/internal/metrics"
	"github.com/launcher-accounts/accountd/internal/surface"
	surfacebrowser "github.com/launcher-accounts/accountd/internal/surface/browser"
	"github.com/launcher-accounts/accountd/internal/surface/relay"
	"github.com/launcher-accounts/accountd/internal/surface/terminal"
	log "github.com/sirupsen/logrus"
)

// accountRuntime bundles the components every command mode needs.
type accountRuntime struct {
	backend    *Backend
	store      *account.Store
	controller *login.Controller
	manager    *manager.Manager
}

func (r *accountRuntime) Close() {
	if err := r.backend.Close(); err != nil {
		log.WithError(err).Warn("failed to close account backend")
	}
}

// newAccountManager opens the backend, loads the directory and wires the sign-in
// controller to host. host may be nil for commands that never sign in.
func newAccountManager(ctx context.Context, cfg *config.Config, host surface.Host) (*accountRuntime, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st := account.NewStore(backend.Persister)
	st.OnMutate(func(op string) {
		metrics.StoreMutations.WithLabelValues(op).Inc()
	})
	if err = st.Load(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	log.WithField("backend", backend.Name).Infof("loaded %d account(s)", st.Len())

	client := identity.NewOAuthClient(cfg.Identity, cfg.ProxyURL)
	controller := login.NewController(client, host, login.OptionsFromConfig(cfg))
	return &accountRuntime{
		backend:    backend,
		store:      st,
		controller: controller,
		manager:    manager.New(st, controller),
	}, nil
}

// newServiceHost returns the surface host used by the long-running service.
// The relay manager is returned separately so the API can mount its endpoint.
func newServiceHost(cfg *config.Config) (surface.Host, *relay.Manager, error) {
	switch cfg.Login.Surface {
	case config.SurfaceRelay:
		rel := relay.NewManager(relay.Options{
			OnConnected: func(id string) {
				metrics.ShellConnections.Set(1)
				log.WithField("surface", "relay").Infof("shell connected: %s", id)
			},
			OnDisconnected: func(id string, cause error) {
				metrics.ShellConnections.Set(0)
				entry := log.WithField("surface", "relay")
				if cause != nil {
					entry = entry.WithError(cause)
				}
				entry.Infof("shell disconnected: %s", id)
			},
			LogDebugf: log.Debugf,
			LogInfof:  log.Infof,
			LogWarnf:  log.Warnf,
		})
		return rel, rel, nil
	case config.SurfaceBrowser:
		host, err := surfacebrowser.NewHost(cfg.Identity.RedirectURI)
		if err != nil {
			return nil, nil, err
		}
		return host, nil, nil
	case config.SurfaceTerminal:
		return nil, nil, fmt.Errorf("the terminal surface needs an interactive session; use -login")
	default:
		return nil, nil, fmt.Errorf("unknown login surface %q", cfg.Login.Surface)
	}
}

// newInteractiveHost picks a surface for a one-shot CLI sign-in. The relay needs
// a shell, so the CLI falls back to the browser when the redirect URI is a
// loopback address and to the terminal otherwise.
func newInteractiveHost(cfg *config.Config, noBrowser bool, in io.Reader, out io.Writer) surface.Host {
	if !noBrowser && cfg.Login.Surface != config.SurfaceTerminal && browser.IsAvailable() {
		if host, err := surfacebrowser.NewHost(cfg.Identity.RedirectURI); err == nil {
			return host
		} else if cfg.Login.Surface == config.SurfaceBrowser {
			log.WithError(err).Warn("browser surface unavailable, using the terminal")
		}
	}
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return terminal.NewHost(in, out)
}

func describeUser(cred account.Credential, defaultID string) string {
	marker := " "
	if cred.ID == defaultID {
		marker = "*"
	}
	return fmt.Sprintf("%s %s  %-16s %s", marker, cred.ID, cred.Username, strings.ToLower(cred.Type.String()))
}
