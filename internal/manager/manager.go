// Package manager is the account facade used by the command API and the CLI.
// It composes the credential directory with the sign-in controller.
package manager

import (
	"context"
	"strings"
	"time"

	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/launcher-accounts/accountd/internal/logging"
)

// Flow runs one interactive sign-in.
type Flow interface {
	Run(ctx context.Context) (*account.Credential, error)
}

// Manager exposes the account commands.
type Manager struct {
	store *account.Store
	flow  Flow
	now   func() time.Time
}

// New returns a facade over store and flow.
func New(store *account.Store, flow Flow) *Manager {
	return &Manager{store: store, flow: flow, now: time.Now}
}

// Store exposes the underlying directory.
func (m *Manager) Store() *account.Store { return m.store }

// Login runs an interactive sign-in and stores the resulting credential.
// The first account ever added becomes the default. A cancelled or timed-out
// flow returns (nil, nil) and leaves the directory untouched.
func (m *Manager) Login(ctx context.Context) (*account.Credential, error) {
	cred, err := m.flow.Run(ctx)
	if err != nil || cred == nil {
		return nil, err
	}
	if err = m.store.AddOrReplace(ctx, *cred); err != nil {
		return nil, err
	}
	if err = m.store.SetDefaultIfUnset(ctx, cred.ID); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithField("user", cred.ID).Infof("signed in %s", cred.Username)
	return cred, nil
}

// OfflineLogin creates a local account for username and makes it the default.
func (m *Manager) OfflineLogin(ctx context.Context, username string) (*account.Credential, error) {
	cred, err := account.NewLocalCredential(username, m.now())
	if err != nil {
		return nil, err
	}
	for _, existing := range m.store.List() {
		if existing.Type == account.AccountLocal && strings.EqualFold(existing.Username, cred.Username) {
			return nil, account.ErrUsernameTaken
		}
	}
	if err = m.store.AddOrReplace(ctx, cred); err != nil {
		return nil, err
	}
	if err = m.store.SetDefault(ctx, cred.ID); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithField("user", cred.ID).Infof("created offline account %s", cred.Username)
	return &cred, nil
}

// RemoveUser deletes a user; unknown users are ignored.
func (m *Manager) RemoveUser(ctx context.Context, id string) error {
	canonical, err := account.CanonicalID(id)
	if err != nil {
		return err
	}
	return m.store.Remove(ctx, canonical)
}

// GetDefaultUser returns the default user id, or "" when none is set.
func (m *Manager) GetDefaultUser(context.Context) string {
	return m.store.Default()
}

// SetDefaultUser selects the default user.
func (m *Manager) SetDefaultUser(ctx context.Context, id string) error {
	canonical, err := account.CanonicalID(id)
	if err != nil {
		return err
	}
	return m.store.SetDefault(ctx, canonical)
}

// ListUsers returns a snapshot of all stored credentials.
func (m *Manager) ListUsers(context.Context) []account.Credential {
	return m.store.List()
}

// CurrentSession returns the default user's credential.
func (m *Manager) CurrentSession(context.Context) (account.Credential, bool) {
	id := m.store.Default()
	if id == "" {
		return account.Credential{}, false
	}
	return m.store.Get(id)
}

// AccountType classifies the current session. With no default user the session is local.
func (m *Manager) AccountType(ctx context.Context) account.AccountType {
	if cred, ok := m.CurrentSession(ctx); ok {
		return cred.Type
	}
	return account.AccountLocal
}

// IsLocal reports whether the current session is an offline account.
func (m *Manager) IsLocal(ctx context.Context) bool {
	return m.AccountType(ctx) == account.AccountLocal
}
