package misc

import (
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

var credentialSeparator = strings.Repeat("-", 67)

// LogSavingCredentials emits a consistent message when account material is written to disk.
func LogSavingCredentials(path string) {
	if path == "" {
		return
	}
	log.WithField("path", filepath.Clean(path)).Debug("saving credentials")
}

// LogCredentialSeparator adds a visual separator to group account processing logs.
func LogCredentialSeparator() {
	log.Debug(credentialSeparator)
}
