// Package browser opens URLs in the user's default web browser.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/launcher-accounts/accountd/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// OpenURL opens url in the default browser, trying open-golang first and
// OS-specific commands second.
func OpenURL(url string) error {
	log.Debugf("opening %s in browser", util.MaskURL(url))

	err := open.Run(url)
	if err == nil {
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)

	cmd, errCmd := platformCommand(url)
	if errCmd != nil {
		return errCmd
	}
	if err = cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// IsAvailable reports whether a browser launcher exists on this system.
func IsAvailable() bool {
	_, err := platformCommand("about:blank")
	return err == nil
}

func platformCommand(url string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		if _, err := exec.LookPath("open"); err != nil {
			return nil, fmt.Errorf("open command not found: %w", err)
		}
		return exec.Command("open", url), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
	case "linux", "freebsd", "openbsd":
		for _, b := range linuxBrowsers {
			if _, err := exec.LookPath(b); err == nil {
				return exec.Command(b, url), nil
			}
		}
		return nil, fmt.Errorf("no suitable browser found")
	default:
		return nil, fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}
