// Package version holds build-time version information.
package version

import "fmt"

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String returns a human-readable version string.
func String() string {
	return fmt.Sprintf("querygate %s (commit %s, built %s)", Version, Commit, BuildDate)
}
