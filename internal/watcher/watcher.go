// Package watcher watches the config file and the account directory and
// triggers hot reloads. It supports cross-platform fsnotify event handling.
package watcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/launcher-accounts/accountd/internal/config"
	"gopkg.in/yaml.v3"
)

// Reloader re-reads the account directory from its persister.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Watcher manages file watching for the configuration file and account records.
type Watcher struct {
	configPath     string
	authDir        string
	store          Reloader
	reloadCallback func(*config.Config)
	watcher        *fsnotify.Watcher

	mu             sync.RWMutex
	config         *config.Config
	oldConfigYaml  []byte
	lastConfigHash string
	ctx            context.Context

	timerMu           sync.Mutex
	configReloadTimer *time.Timer
	authReloadTimer   *time.Timer
}

const (
	configReloadDebounce = 150 * time.Millisecond
	authReloadDebounce   = 150 * time.Millisecond
)

// NewWatcher creates a watcher. authDir may be empty when the account directory
// lives outside the filesystem (keyring) or is owned by a remote mirror.
func NewWatcher(configPath, authDir string, store Reloader, reloadCallback func(*config.Config)) (*Watcher, error) {
	watcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	return &Watcher{
		configPath:     configPath,
		authDir:        authDir,
		store:          store,
		reloadCallback: reloadCallback,
		watcher:        watcher,
		ctx:            context.Background(),
	}, nil
}

// Start begins watching and returns once the watches are registered.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	if w.configPath != "" {
		if _, err := os.Stat(w.configPath); err == nil {
			if errAdd := w.watcher.Add(w.configPath); errAdd != nil {
				return fmt.Errorf("watch config file %s: %w", w.configPath, errAdd)
			}
			w.rememberConfigHash()
		}
	}
	if w.authDir != "" {
		if err := os.MkdirAll(w.authDir, 0o700); err != nil {
			return fmt.Errorf("create auth directory %s: %w", w.authDir, err)
		}
		if errAdd := w.watcher.Add(w.authDir); errAdd != nil {
			return fmt.Errorf("watch auth directory %s: %w", w.authDir, errAdd)
		}
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.timerMu.Lock()
	for _, t := range []*time.Timer{w.configReloadTimer, w.authReloadTimer} {
		if t != nil {
			t.Stop()
		}
	}
	w.configReloadTimer, w.authReloadTimer = nil, nil
	w.timerMu.Unlock()
	return w.watcher.Close()
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
	w.oldConfigYaml, _ = yaml.Marshal(cfg)
}

func (w *Watcher) context() context.Context {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ctx
}
