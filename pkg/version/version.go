// Package version holds build information set by the linker.
package version

var (
	// Version is the release version, e.g. v0.3.1.
	Version = "v0.0.0-dev"
	// GitCommit is the short commit hash of the build.
	GitCommit = "unknown"
)
