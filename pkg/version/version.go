// Package version holds build metadata set through -ldflags -X.
package version

import "fmt"

// Build metadata.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns the one-line version banner.
func String() string {
	return fmt.Sprintf("gitinspect %s (commit: %s, built: %s)", Version, Commit, Date)
}
