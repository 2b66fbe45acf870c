// Package buildinfo holds version information stamped at link time.
package buildinfo

// Set via -ldflags "-X github.com/modoterra/logsink/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
