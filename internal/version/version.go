/*
Package version holds build-time version information for usermetrics.

Variables are injected at build time via ldflags:

	go build -ldflags "-X .../version.Version=1.2.0 -X .../version.Commit=abc1234 -X .../version.Date=2026-02-16T00:00:00Z"
*/
package version

import (
	"fmt"
	"runtime"
)

// Name is the program name used in version output and logs.
const Name = "usermetrics"

// These variables are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Full returns a human-readable version string.
func Full() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s, %s/%s)",
		Name, Version, ShortCommit(), Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// ShortCommit returns the commit hash truncated to 7 characters.
func ShortCommit() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}
	return Commit
}
