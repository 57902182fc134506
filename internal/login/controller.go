// Package login drives the interactive sign-in flow: it presents the identity provider
// on a surface, polls the surface until the provider redirects back with an
// authorization code, and exchanges that code for a credential.
package login

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/launcher-accounts/accountd/internal/config"
	"github.com/launcher-accounts/accountd/internal/identity"
	"github.com/launcher-accounts/accountd/internal/logging"
	"github.com/launcher-accounts/accountd/internal/metrics"
	"github.com/launcher-accounts/accountd/internal/misc"
	"github.com/launcher-accounts/accountd/internal/surface"
	log "github.com/sirupsen/logrus"
)

// State is a step of a sign-in flow.
type State int

const (
	StateStarting State = iota
	StateWaitingForRedirect
	StateSucceeded
	StateCancelled
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWaitingForRedirect:
		return "waiting_for_redirect"
	case StateSucceeded:
		return "succeeded"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

// Options tune a flow.
type Options struct {
	PollInterval   time.Duration
	FlowTimeout    time.Duration
	SurfaceLabel   string
	SurfaceTitle   string
	RedirectPrefix string
}

// OptionsFromConfig extracts flow options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:   cfg.Login.PollInterval,
		FlowTimeout:    cfg.Login.FlowTimeout,
		SurfaceLabel:   cfg.Login.SurfaceLabel,
		SurfaceTitle:   cfg.Login.SurfaceTitle,
		RedirectPrefix: cfg.Login.RedirectPrefix,
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = config.DefaultPollInterval
	}
	if o.FlowTimeout <= 0 {
		o.FlowTimeout = config.DefaultFlowTimeout
	}
	if o.SurfaceLabel == "" {
		o.SurfaceLabel = config.DefaultSurfaceLabel
	}
	if o.SurfaceTitle == "" {
		o.SurfaceTitle = config.DefaultSurfaceTitle
	}
	if o.RedirectPrefix == "" {
		o.RedirectPrefix = config.DefaultRedirectPrefix
	}
	return o
}

// Controller runs sign-in flows against one surface host.
type Controller struct {
	identity identity.Client
	host     surface.Host

	optsMu sync.RWMutex
	opts   Options

	// surfaceMu makes close-stale-then-open atomic so a label has one surface at a time.
	surfaceMu sync.Mutex
	now       func() time.Time
}

// NewController returns a controller presenting flows from idc on host.
func NewController(idc identity.Client, host surface.Host, opts Options) *Controller {
	return &Controller{
		identity: idc,
		host:     host,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Options returns the options new flows will use.
func (c *Controller) Options() Options {
	c.optsMu.RLock()
	defer c.optsMu.RUnlock()
	return c.opts
}

// SetOptions replaces the options for flows started afterwards.
func (c *Controller) SetOptions(opts Options) {
	c.optsMu.Lock()
	c.opts = opts.withDefaults()
	c.optsMu.Unlock()
}

// Run performs one sign-in. It returns (nil, nil) when the user closes the surface,
// the provider denies access, or the flow times out. A cancelled ctx closes the
// surface and returns ctx.Err(). A redirect whose state does not match the flow
// is ErrRedirectParse.
func (c *Controller) Run(ctx context.Context) (cred *account.Credential, err error) {
	opts := c.Options()
	started := c.now()
	entry := logging.FromContext(ctx).WithField("label", opts.SurfaceLabel)

	state := StateStarting
	defer func() {
		elapsed := c.now().Sub(started)
		metrics.LoginFlows.WithLabelValues(state.String()).Inc()
		metrics.LoginFlowDuration.WithLabelValues(state.String()).Observe(elapsed.Seconds())
		fields := log.Fields{"outcome": state.String()}
		if err != nil {
			fields["error"] = err
		}
		entry.WithFields(fields).Infof("login flow finished after %s", elapsed.Truncate(time.Millisecond))
	}()

	flow, err := c.identity.BeginLogin(ctx)
	if err != nil {
		state = StateFailed
		return nil, ensureKind(account.ErrFlowInit, err)
	}
	signIn, err := url.Parse(flow.SignInURL)
	if err != nil || !signIn.IsAbs() {
		state = StateFailed
		if err == nil {
			err = fmt.Errorf("sign-in url %q is not absolute", flow.SignInURL)
		}
		return nil, account.NewAuthError(account.ErrRedirectParse, err)
	}

	sf, err := c.openSurface(ctx, opts, signIn.String())
	if err != nil {
		state = StateFailed
		return nil, err
	}
	if errAttention := sf.RequestAttention(); errAttention != nil {
		entry.Warnf("login: request attention failed: %v", errAttention)
	}

	state = StateWaitingForRedirect
	entry.Debug("login: waiting for redirect")

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(opts.FlowTimeout)
	defer deadline.Stop()

	for {
		if sf.Closed() {
			state = StateCancelled
			return nil, nil
		}
		loc, errLoc := sf.Location()
		if errLoc != nil {
			// Unreadable state means the surface is gone.
			state = StateCancelled
			return nil, nil
		}
		if cb, ok := misc.MatchRedirect(loc, opts.RedirectPrefix); ok {
			c.closeSurface(entry, sf)
			if cb.Code == "" {
				entry.Warnf("login: identity provider returned %s %s", cb.Error, cb.ErrorDescription)
				state = StateCancelled
				return nil, nil
			}
			if cb.State != flow.State {
				state = StateFailed
				return nil, account.NewAuthError(account.ErrRedirectParse, fmt.Errorf("redirect state %q does not match the flow", cb.State))
			}
			got, errFinish := c.identity.FinishLogin(ctx, cb.Code, flow)
			if errFinish != nil {
				state = StateFailed
				return nil, ensureKind(account.ErrExchange, errFinish)
			}
			state = StateSucceeded
			return &got, nil
		}

		select {
		case <-ctx.Done():
			c.closeSurface(entry, sf)
			state = StateFailed
			return nil, ctx.Err()
		case <-deadline.C:
			c.closeSurface(entry, sf)
			state = StateTimedOut
			return nil, nil
		case <-ticker.C:
		}
	}
}

func (c *Controller) openSurface(ctx context.Context, opts Options, signInURL string) (surface.Surface, error) {
	c.surfaceMu.Lock()
	defer c.surfaceMu.Unlock()

	if stale, ok := c.host.Lookup(opts.SurfaceLabel); ok {
		if err := stale.Close(); err != nil {
			return nil, account.NewAuthError(account.ErrSurface, fmt.Errorf("close stale surface: %w", err))
		}
	}
	sf, err := c.host.Open(ctx, surface.Options{
		Label:       opts.SurfaceLabel,
		URL:         signInURL,
		Title:       opts.SurfaceTitle,
		AlwaysOnTop: true,
		Center:      true,
	})
	if err != nil {
		return nil, account.NewAuthError(account.ErrSurface, err)
	}
	return sf, nil
}

func (c *Controller) closeSurface(entry *log.Entry, sf surface.Surface) {
	if err := sf.Close(); err != nil {
		entry.Warnf("login: failed to close surface: %v", err)
	}
}

func ensureKind(base *account.AuthError, err error) error {
	if _, ok := errors.AsType[*account.AuthError](err); ok {
		return err
	}
	return account.NewAuthError(base, err)
}
