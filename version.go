package compassone

import (
	"fmt"
	"runtime"
)

var (
	// Version is the library semantic version (inject via -ldflags).
	Version = "0.3.0"
	// GitCommit is the git SHA (inject via -ldflags).
	GitCommit = "unknown"
	// BuildDate is the build timestamp (inject via -ldflags).
	BuildDate = "unknown"
	// GoVersion records the Go toolchain version used.
	GoVersion = runtime.Version()
)

// VersionString returns a human-readable version line.
func VersionString() string {
	return fmt.Sprintf("compassone-go v%s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildDate, GoVersion)
}

// VersionInfo returns version metadata for logging or metrics labels.
func VersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
		"go_version": GoVersion,
	}
}
