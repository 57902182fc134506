package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/launcher-accounts/accountd/internal/account"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the secret-service name used when none is configured.
const DefaultKeyringService = "accountd"

const keyringIndexEntry = "directory"

// KeyringStore keeps credentials in the operating system keychain. The keychain
// cannot enumerate entries, so an index entry lists the stored ids and the default user.
type KeyringStore struct {
	mu      sync.Mutex
	service string
}

// NewKeyringStore returns a keychain-backed store under service.
func NewKeyringStore(service string) *KeyringStore {
	service = strings.TrimSpace(service)
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service}
}

// Load reads the index and every credential it names.
func (s *KeyringStore) Load(_ context.Context) (account.Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndexLocked()
	if err != nil {
		return account.Directory{}, err
	}
	dir := account.Directory{Default: gjson.Get(index, defaultUserKey).String()}
	for _, id := range gjson.Get(index, "users").Array() {
		secret, errGet := keyring.Get(s.service, id.String())
		if errGet != nil {
			if errors.Is(errGet, keyring.ErrNotFound) {
				log.WithField("user", id.String()).Warn("keyring store: indexed user missing from keychain")
				continue
			}
			return account.Directory{}, fmt.Errorf("keyring store: read %s: %w", id.String(), errGet)
		}
		var cred account.Credential
		if errUnmarshal := json.Unmarshal([]byte(secret), &cred); errUnmarshal != nil {
			log.WithField("user", id.String()).Warnf("keyring store: skipping unreadable record: %v", errUnmarshal)
			continue
		}
		dir.Users = append(dir.Users, cred)
	}
	return dir, nil
}

// Save stores cred and adds it to the index.
func (s *KeyringStore) Save(_ context.Context, cred account.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("keyring store: marshal credential: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = keyring.Set(s.service, cred.ID, string(raw)); err != nil {
		return fmt.Errorf("keyring store: write %s: %w", cred.ID, err)
	}
	index, err := s.readIndexLocked()
	if err != nil {
		return err
	}
	ids := indexedIDs(index)
	if slices.Contains(ids, cred.ID) {
		return nil
	}
	return s.writeUsersLocked(index, append(ids, cred.ID))
}

// Delete removes the credential and drops it from the index.
func (s *KeyringStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Delete(s.service, id); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring store: delete %s: %w", id, err)
	}
	index, err := s.readIndexLocked()
	if err != nil {
		return err
	}
	ids := slices.DeleteFunc(indexedIDs(index), func(v string) bool { return v == id })
	return s.writeUsersLocked(index, ids)
}

// SetDefault records the default user in the index; an empty id clears it.
func (s *KeyringStore) SetDefault(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndexLocked()
	if err != nil {
		return err
	}
	if id == "" {
		index, err = sjson.Delete(index, defaultUserKey)
	} else {
		index, err = sjson.Set(index, defaultUserKey, id)
	}
	if err != nil {
		return fmt.Errorf("keyring store: update index: %w", err)
	}
	return s.writeIndexLocked(index)
}

func (s *KeyringStore) readIndexLocked() (string, error) {
	index, err := keyring.Get(s.service, keyringIndexEntry)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "{}", nil
		}
		return "", fmt.Errorf("keyring store: read index: %w", err)
	}
	if !gjson.Valid(index) {
		log.Warn("keyring store: index is not valid JSON, starting empty")
		return "{}", nil
	}
	return index, nil
}

func (s *KeyringStore) writeUsersLocked(index string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	updated, err := sjson.Set(index, "users", ids)
	if err != nil {
		return fmt.Errorf("keyring store: update index: %w", err)
	}
	return s.writeIndexLocked(updated)
}

func (s *KeyringStore) writeIndexLocked(index string) error {
	if err := keyring.Set(s.service, keyringIndexEntry, index); err != nil {
		return fmt.Errorf("keyring store: write index: %w", err)
	}
	return nil
}

func indexedIDs(index string) []string {
	var ids []string
	for _, v := range gjson.Get(index, "users").Array() {
		ids = append(ids, v.String())
	}
	return ids
}
