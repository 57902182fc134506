// Package buildinfo exposes compile-time metadata of the accountd binary.
package buildinfo

import "fmt"

// Overridden via ldflags during release builds.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Summary renders the build metadata for startup banners and logs.
func Summary() string {
	return fmt.Sprintf("accountd Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)
}
