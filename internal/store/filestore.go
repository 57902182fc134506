// Package store implements durable backends for the account directory.
//
// Every backend keeps a local spool laid out by FileStore: one
// user-<id>.json record per credential plus a directory.json index holding
// the default user pointer. Remote backends mirror that spool after each
// mutation and rebuild it on Load.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/launcher-accounts/accountd/internal/misc"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	userFilePrefix    = "user-"
	userFileSuffix    = ".json"
	directoryFileName = "directory.json"
	defaultUserKey    = "default_user"
)

// FileStore persists the account directory as JSON files under a base directory.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created lazily.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: strings.TrimSpace(dir)}
}

// Dir returns the base directory.
func (s *FileStore) Dir() string { return s.dir }

// DirectoryPath returns the index file path.
func (s *FileStore) DirectoryPath() string {
	return filepath.Join(s.dir, directoryFileName)
}

// UserPath returns the record path for id.
func (s *FileStore) UserPath(id string) (string, error) {
	name, err := userFileName(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// IsUserFile reports whether name looks like a credential record.
func IsUserFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, userFilePrefix) && strings.HasSuffix(strings.ToLower(base), userFileSuffix)
}

// Load reads all user records and the default pointer. A missing directory is an empty directory.
func (s *FileStore) Load(_ context.Context) (account.Directory, error) {
	if s.dir == "" {
		return account.Directory{}, fmt.Errorf("file store: directory not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return account.Directory{}, nil
		}
		return account.Directory{}, fmt.Errorf("file store: read dir: %w", err)
	}

	var dir account.Directory
	for _, entry := range entries {
		if entry.IsDir() || !IsUserFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, errRead := os.ReadFile(path)
		if errRead != nil {
			return account.Directory{}, fmt.Errorf("file store: read %s: %w", entry.Name(), errRead)
		}
		if len(data) == 0 {
			continue
		}
		var cred account.Credential
		if errUnmarshal := json.Unmarshal(data, &cred); errUnmarshal != nil {
			log.WithField("path", path).Warnf("file store: skipping unreadable record: %v", errUnmarshal)
			continue
		}
		dir.Users = append(dir.Users, cred)
	}

	index, err := os.ReadFile(s.DirectoryPath())
	switch {
	case err == nil:
		dir.Default = gjson.GetBytes(index, defaultUserKey).String()
	case !errors.Is(err, fs.ErrNotExist):
		return account.Directory{}, fmt.Errorf("file store: read index: %w", err)
	}
	return dir, nil
}

// Save writes cred to its record file.
func (s *FileStore) Save(_ context.Context, cred account.Credential) error {
	path, err := s.UserPath(cred.ID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, errRead := os.ReadFile(path); errRead == nil && jsonEqual(existing, raw) {
		return nil
	}
	misc.LogSavingCredentials(path)
	return writeFileAtomic(path, raw)
}

// Delete removes the record for id. Missing records are ignored.
func (s *FileStore) Delete(_ context.Context, id string) error {
	path, err := s.UserPath(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file store: delete failed: %w", err)
	}
	return nil
}

// SetDefault records the default user id; an empty id clears it.
func (s *FileStore) SetDefault(_ context.Context, id string) error {
	if s.dir == "" {
		return fmt.Errorf("file store: directory not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := os.ReadFile(s.DirectoryPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file store: read index: %w", err)
		}
		index = []byte("{}")
	}
	if !gjson.ValidBytes(index) {
		log.WithField("path", s.DirectoryPath()).Warn("file store: index is not valid JSON, rewriting")
		index = []byte("{}")
	}
	current := gjson.GetBytes(index, defaultUserKey)
	if (id == "" && !current.Exists()) || (id != "" && current.String() == id) {
		if _, errStat := os.Stat(s.DirectoryPath()); errStat == nil {
			return nil
		}
	}
	if id == "" {
		index, err = sjson.DeleteBytes(index, defaultUserKey)
	} else {
		index, err = sjson.SetBytes(index, defaultUserKey, id)
	}
	if err != nil {
		return fmt.Errorf("file store: update index: %w", err)
	}
	return writeFileAtomic(s.DirectoryPath(), index)
}

// Retain removes spool records whose id is not in keep. Files are rewritten
// incrementally rather than wiped so directory watchers see no spurious deletes.
func (s *FileStore) Retain(keep []string) error {
	wanted := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		if name, err := userFileName(id); err == nil {
			wanted[name] = struct{}{}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("file store: read dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !IsUserFile(entry.Name()) {
			continue
		}
		if _, ok := wanted[entry.Name()]; ok {
			continue
		}
		if errRemove := os.Remove(filepath.Join(s.dir, entry.Name())); errRemove != nil && !errors.Is(errRemove, fs.ErrNotExist) {
			return fmt.Errorf("file store: prune: %w", errRemove)
		}
	}
	return nil
}

// Mirror rewrites the spool so it matches dir.
func (s *FileStore) Mirror(ctx context.Context, dir account.Directory) error {
	ids := make([]string, 0, len(dir.Users))
	for _, cred := range dir.Users {
		if err := s.Save(ctx, cred); err != nil {
			return err
		}
		ids = append(ids, cred.ID)
	}
	if err := s.Retain(ids); err != nil {
		return err
	}
	return s.SetDefault(ctx, dir.Default)
}

func userFileName(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("file store: invalid user id %q: %w", id, err)
	}
	return userFilePrefix + parsed.String() + userFileSuffix, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("file store: create dir failed: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("file store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("file store: rename file: %w", err)
	}
	return nil
}

func jsonEqual(a, b []byte) bool {
	var objA, objB any
	if err := json.Unmarshal(a, &objA); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &objB); err != nil {
		return false
	}
	return reflect.DeepEqual(objA, objB)
}
