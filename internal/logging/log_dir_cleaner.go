package logging

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logDirCleanerInterval = time.Minute

var stopCleaner context.CancelFunc

type logFile struct {
	path    string
	size    int64
	modTime time.Time
}

func startLogDirCleanerLocked(logDir string, maxTotalSizeMB int, protectedPath string) {
	stopLogDirCleanerLocked()

	dir := strings.TrimSpace(logDir)
	maxBytes := int64(maxTotalSizeMB) * 1024 * 1024
	if maxBytes <= 0 || dir == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopCleaner = cancel
	go func() {
		ticker := time.NewTicker(logDirCleanerInterval)
		defer ticker.Stop()
		for {
			deleted, errClean := enforceLogDirSizeLimit(dir, maxBytes, protectedPath)
			if errClean != nil {
				log.WithError(errClean).Warn("logging: failed to enforce log directory size limit")
			} else if deleted > 0 {
				log.Debugf("logging: removed %d old log file(s)", deleted)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func stopLogDirCleanerLocked() {
	if stopCleaner != nil {
		stopCleaner()
		stopCleaner = nil
	}
}

// enforceLogDirSizeLimit removes the oldest *.log files until the directory fits in maxBytes.
// protectedPath is never removed.
func enforceLogDirSizeLimit(logDir string, maxBytes int64, protectedPath string) (int, error) {
	if maxBytes <= 0 || strings.TrimSpace(logDir) == "" {
		return 0, nil
	}
	files, total, err := collectLogFiles(filepath.Clean(logDir))
	if err != nil || total <= maxBytes {
		return 0, err
	}

	protected := ""
	if p := strings.TrimSpace(protectedPath); p != "" {
		protected = filepath.Clean(p)
	}

	slices.SortFunc(files, func(a, b logFile) int { return a.modTime.Compare(b.modTime) })

	deleted := 0
	for _, file := range files {
		if total <= maxBytes {
			break
		}
		if file.path == protected {
			continue
		}
		if errRemove := os.Remove(file.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove old log file: %s", filepath.Base(file.path))
			continue
		}
		total -= file.size
		deleted++
	}
	return deleted, nil
}

func collectLogFiles(dir string) ([]logFile, int64, error) {
	entries, errRead := os.ReadDir(dir)
	if errRead != nil {
		if os.IsNotExist(errRead) {
			return nil, 0, nil
		}
		return nil, 0, errRead
	}
	var (
		files []logFile
		total int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logFile{path: filepath.Join(dir, entry.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	return files, total, nil
}

func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
