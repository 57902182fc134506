package watcher

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/launcher-accounts/accountd/internal/store"
	log "github.com/sirupsen/logrus"
)

const directoryIndexName = "directory.json"

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	configOps := fsnotify.Write | fsnotify.Create | fsnotify.Rename
	authOps := fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

	name := normalizePath(event.Name)
	if w.configPath != "" && name == normalizePath(w.configPath) && event.Op&configOps != 0 {
		log.Debugf("config file change detected: %s %s", event.Op.String(), event.Name)
		w.scheduleConfigReload()
		return
	}
	if w.authDir == "" || event.Op&authOps == 0 {
		return
	}
	if normalizePath(filepath.Dir(event.Name)) != normalizePath(w.authDir) {
		return
	}
	base := filepath.Base(event.Name)
	if base != directoryIndexName && !store.IsUserFile(base) {
		return
	}
	log.WithField("path", event.Name).Debugf("account file change detected: %s", event.Op.String())
	w.scheduleAuthReload()
}

func (w *Watcher) scheduleAuthReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.authReloadTimer != nil {
		w.authReloadTimer.Stop()
	}
	w.authReloadTimer = time.AfterFunc(authReloadDebounce, func() {
		w.timerMu.Lock()
		w.authReloadTimer = nil
		w.timerMu.Unlock()
		w.reloadAccounts()
	})
}

func (w *Watcher) reloadAccounts() {
	if w.store == nil {
		return
	}
	if err := w.store.Reload(w.context()); err != nil {
		log.WithError(err).Error("failed to reload account directory")
		return
	}
	log.Info("account directory reloaded from disk")
}

func normalizePath(path string) string {
	clean := filepath.Clean(path)
	if abs, err := filepath.Abs(clean); err == nil {
		clean = abs
	}
	if runtime.GOOS == "windows" {
		clean = strings.ToLower(clean)
	}
	return clean
}
