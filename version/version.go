// Package version holds build information injected at link time via
// -ldflags "-X github.com/storyfetch/storyfetch/version.GitRelease=...".
package version

import "runtime"

var (
	// GitRelease is the release tag this binary was built from.
	GitRelease = "dev"

	// GitCommit is the commit hash this binary was built from.
	GitCommit = "unknown"

	// GitCommitDate is the commit date this binary was built from.
	GitCommitDate = "unknown"

	// GoInfo is the Go toolchain version used for the build.
	GoInfo = runtime.Version()
)
