package account

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Directory is the durable shape of the account directory.
type Directory struct {
	Users   []Credential `json:"users"`
	Default string       `json:"default_user,omitempty"`
}

// Persister stores the account directory durably.
// SetDefault with an empty id clears the default pointer.
type Persister interface {
	Load(ctx context.Context) (Directory, error)
	Save(ctx context.Context, cred Credential) error
	Delete(ctx context.Context, id string) error
	SetDefault(ctx context.Context, id string) error
}

// MutationHook observes successful store mutations (op is "save", "delete" or "default").
type MutationHook func(op string)

// Store is the process-wide credential directory: a map of users plus an explicit
// default pointer. Mutations are serialized and written through to the persister.
type Store struct {
	mu          sync.RWMutex
	users       map[string]Credential
	defaultUser string

	persister Persister
	onMutate  MutationHook
}

// NewStore returns an empty store backed by p. A nil persister keeps state in memory only.
func NewStore(p Persister) *Store {
	return &Store{users: make(map[string]Credential), persister: p}
}

// OnMutate registers a hook called after each persisted mutation.
func (s *Store) OnMutate(h MutationHook) {
	s.mu.Lock()
	s.onMutate = h
	s.mu.Unlock()
}

// Load replaces in-memory state with what the persister holds.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	dir, err := s.persister.Load(ctx)
	if err != nil {
		return NewAuthError(ErrStorage, fmt.Errorf("load directory: %w", err))
	}

	users := make(map[string]Credential, len(dir.Users))
	for _, cred := range dir.Users {
		if errValidate := cred.Validate(); errValidate != nil {
			log.Warnf("account store: skipping invalid record: %v", errValidate)
			continue
		}
		cred.ID, _ = CanonicalID(cred.ID)
		users[cred.ID] = cred
	}
	def := dir.Default
	if def != "" {
		if canonical, errID := CanonicalID(def); errID == nil {
			def = canonical
		}
	}
	if _, ok := users[def]; def != "" && !ok {
		log.WithField("user", def).Warn("account store: default user missing from directory, clearing")
		def = ""
	}

	s.mu.Lock()
	s.users = users
	s.defaultUser = def
	s.mu.Unlock()
	return nil
}

// Reload is Load under another name; it is called when the backing files change.
func (s *Store) Reload(ctx context.Context) error {
	return s.Load(ctx)
}

// AddOrReplace inserts cred or overwrites the entry with the same ID.
func (s *Store) AddOrReplace(ctx context.Context, cred Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	cred.ID, _ = CanonicalID(cred.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.users[cred.ID]
	s.users[cred.ID] = cred
	if s.persister != nil {
		if err := s.persister.Save(ctx, cred); err != nil {
			if existed {
				s.users[cred.ID] = prev
			} else {
				delete(s.users, cred.ID)
			}
			return NewAuthError(ErrStorage, fmt.Errorf("save user %s: %w", cred.ID, err))
		}
	}
	s.mutatedLocked("save")
	return nil
}

// Remove deletes the user if present and clears the default pointer when it referenced them.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[id]
	if !ok {
		return nil
	}
	delete(s.users, id)
	if s.persister != nil {
		if err := s.persister.Delete(ctx, id); err != nil {
			s.users[id] = prev
			return NewAuthError(ErrStorage, fmt.Errorf("delete user %s: %w", id, err))
		}
	}
	s.mutatedLocked("delete")

	if s.defaultUser != id {
		return nil
	}
	s.defaultUser = ""
	if s.persister != nil {
		if err := s.persister.SetDefault(ctx, ""); err != nil {
			return NewAuthError(ErrStorage, fmt.Errorf("clear default user: %w", err))
		}
	}
	s.mutatedLocked("default")
	return nil
}

// List returns a snapshot of all credentials ordered by username.
func (s *Store) List() []Credential {
	s.mu.RLock()
	out := make([]Credential, 0, len(s.users))
	for _, cred := range s.users {
		out = append(out, cred)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Credential) int {
		return cmp.Or(cmp.Compare(a.Username, b.Username), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Get returns the credential stored under id.
func (s *Store) Get(id string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.users[id]
	return cred, ok
}

// Len reports how many users are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Default returns the default user id, or "" when none is set.
func (s *Store) Default() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultUser
}

// SetDefault points the default at id. It fails with ErrUserNotFound for unknown users.
func (s *Store) SetDefault(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setDefaultLocked(ctx, id)
}

// SetDefaultIfUnset makes id the default only when no default exists.
func (s *Store) SetDefaultIfUnset(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defaultUser != "" {
		return nil
	}
	return s.setDefaultLocked(ctx, id)
}

func (s *Store) setDefaultLocked(ctx context.Context, id string) error {
	if _, ok := s.users[id]; !ok {
		return NewAuthError(ErrUserNotFound, fmt.Errorf("user %s", id))
	}
	if s.defaultUser == id {
		return nil
	}
	prev := s.defaultUser
	s.defaultUser = id
	if s.persister != nil {
		if err := s.persister.SetDefault(ctx, id); err != nil {
			s.defaultUser = prev
			return NewAuthError(ErrStorage, fmt.Errorf("set default user %s: %w", id, err))
		}
	}
	s.mutatedLocked("default")
	return nil
}

func (s *Store) mutatedLocked(op string) {
	if s.onMutate != nil {
		s.onMutate(op)
	}
}
