package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/launcher-accounts/accountd/internal/account"
	log "github.com/sirupsen/logrus"
)

const gitAccountsDir = "accounts"

// GitStoreConfig configures the git-backed account store.
// An empty Remote keeps history in the local repository only.
type GitStoreConfig struct {
	Remote   string
	Username string
	Password string
	RepoDir  string
}

// GitStore persists the account directory as files in a git working tree and
// commits (and pushes, when a remote is configured) after each mutation.
type GitStore struct {
	mu      sync.Mutex
	cfg     GitStoreConfig
	repoDir string
	spool   *FileStore
	ready   bool
}

// NewGitStore prepares a git store rooted at cfg.RepoDir.
func NewGitStore(cfg GitStoreConfig) (*GitStore, error) {
	cfg.Remote = strings.TrimSpace(cfg.Remote)
	repoDir, err := resolveSpool(cfg.RepoDir, "gitstore")
	if err != nil {
		return nil, fmt.Errorf("git store: %w", err)
	}
	return &GitStore{
		cfg:     cfg,
		repoDir: repoDir,
		spool:   NewFileStore(filepath.Join(repoDir, gitAccountsDir)),
	}, nil
}

// SpoolDir returns the directory holding the account records inside the working tree.
func (s *GitStore) SpoolDir() string { return s.spool.Dir() }

// EnsureRepository clones, initializes or pulls the working tree.
func (s *GitStore) EnsureRepository() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureRepositoryLocked()
}

func (s *GitStore) ensureRepositoryLocked() error {
	gitDir := filepath.Join(s.repoDir, ".git")
	authMethod := s.gitAuth()
	_, err := os.Stat(gitDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if errInit := s.cloneOrInit(authMethod); errInit != nil {
			return errInit
		}
	case err != nil:
		return fmt.Errorf("git store: stat repo: %w", err)
	case s.cfg.Remote != "":
		repo, errOpen := git.PlainOpen(s.repoDir)
		if errOpen != nil {
			return fmt.Errorf("git store: open repo: %w", errOpen)
		}
		worktree, errWorktree := repo.Worktree()
		if errWorktree != nil {
			return fmt.Errorf("git store: worktree: %w", errWorktree)
		}
		if errPull := worktree.Pull(&git.PullOptions{Auth: authMethod, RemoteName: "origin"}); errPull != nil {
			switch {
			case errors.Is(errPull, git.NoErrAlreadyUpToDate),
				errors.Is(errPull, git.ErrUnstagedChanges),
				errors.Is(errPull, git.ErrNonFastForwardUpdate):
				// Local changes win.
			case errors.Is(errPull, transport.ErrAuthenticationRequired),
				errors.Is(errPull, plumbing.ErrReferenceNotFound),
				errors.Is(errPull, transport.ErrEmptyRemoteRepository):
				log.WithError(errPull).Debug("git store: pull skipped")
			default:
				return fmt.Errorf("git store: pull: %w", errPull)
			}
		}
	}
	if err = os.MkdirAll(s.spool.Dir(), 0o700); err != nil {
		return fmt.Errorf("git store: create accounts dir: %w", err)
	}
	s.ready = true
	return nil
}

func (s *GitStore) cloneOrInit(authMethod transport.AuthMethod) error {
	if s.cfg.Remote != "" {
		_, errClone := git.PlainClone(s.repoDir, &git.CloneOptions{Auth: authMethod, URL: s.cfg.Remote})
		if errClone == nil {
			return nil
		}
		if !errors.Is(errClone, transport.ErrEmptyRemoteRepository) {
			return fmt.Errorf("git store: clone remote: %w", errClone)
		}
		_ = os.RemoveAll(filepath.Join(s.repoDir, ".git"))
	}
	repo, err := git.PlainInit(s.repoDir, false)
	if err != nil {
		return fmt.Errorf("git store: init repo: %w", err)
	}
	if s.cfg.Remote == "" {
		return nil
	}
	if _, err = repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{s.cfg.Remote},
	}); err != nil && !errors.Is(err, git.ErrRemoteExists) {
		return fmt.Errorf("git store: configure remote: %w", err)
	}
	return nil
}

// Load syncs the working tree and reads the directory from it.
func (s *GitStore) Load(ctx context.Context) (account.Directory, error) {
	s.mu.Lock()
	if err := s.ensureRepositoryLocked(); err != nil {
		s.mu.Unlock()
		return account.Directory{}, err
	}
	s.mu.Unlock()
	return s.spool.Load(ctx)
}

// Save writes cred into the working tree and commits it.
func (s *GitStore) Save(ctx context.Context, cred account.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	if err := s.spool.Save(ctx, cred); err != nil {
		return err
	}
	path, err := s.spool.UserPath(cred.ID)
	if err != nil {
		return err
	}
	return s.commitAndPushLocked(fmt.Sprintf("Save account %s", cred.ID), path)
}

// Delete removes the record for id and commits the removal.
func (s *GitStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	if err := s.spool.Delete(ctx, id); err != nil {
		return err
	}
	path, err := s.spool.UserPath(id)
	if err != nil {
		return err
	}
	return s.commitAndPushLocked(fmt.Sprintf("Remove account %s", id), path)
}

// SetDefault updates the directory index and commits it.
func (s *GitStore) SetDefault(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	if err := s.spool.SetDefault(ctx, id); err != nil {
		return err
	}
	message := "Clear default account"
	if id != "" {
		message = fmt.Sprintf("Set default account %s", id)
	}
	return s.commitAndPushLocked(message, s.spool.DirectoryPath())
}

func (s *GitStore) readyLocked() error {
	if s.ready {
		return nil
	}
	return s.ensureRepositoryLocked()
}

func (s *GitStore) gitAuth() transport.AuthMethod {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return nil
	}
	user := s.cfg.Username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.cfg.Password}
}

func (s *GitStore) relativeToRepo(path string) (string, error) {
	rel, err := filepath.Rel(s.repoDir, path)
	if err != nil {
		return "", fmt.Errorf("git store: relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("git store: path outside repository")
	}
	return filepath.ToSlash(rel), nil
}

func (s *GitStore) commitAndPushLocked(message string, paths ...string) error {
	repo, err := git.PlainOpen(s.repoDir)
	if err != nil {
		return fmt.Errorf("git store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	for _, path := range paths {
		rel, errRel := s.relativeToRepo(path)
		if errRel != nil {
			return errRel
		}
		if _, err = worktree.Add(rel); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("git store: add %s: %w", rel, err)
			}
			if _, errRemove := worktree.Remove(rel); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
				return fmt.Errorf("git store: remove %s: %w", rel, errRemove)
			}
		}
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("git store: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	signature := &object.Signature{
		Name:  "accountd",
		Email: "accountd@local",
		When:  time.Now(),
	}
	if _, err = worktree.Commit(message, &git.CommitOptions{Author: signature}); err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("git store: commit: %w", err)
	}
	if s.cfg.Remote == "" {
		return nil
	}
	if err = repo.Push(&git.PushOptions{Auth: s.gitAuth()}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("git store: push: %w", err)
	}
	return nil
}
