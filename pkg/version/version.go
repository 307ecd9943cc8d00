// Package version describes the running controller build. The variables
// are set with -ldflags "-X github.com/goclaw/clusterctl/pkg/version.Version=...".
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Info returns the build fields keyed the way the status endpoint reports
// them.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
		"goVersion": GoVersion,
	}
}

// String returns a one-line build description.
func String() string {
	commit := GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("clusterctl %s (commit %s, built %s, %s %s/%s)",
		Version, commit, BuildTime, GoVersion, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies controller clients to the servers they call.
func UserAgent() string {
	return "clusterctl/" + Version
}
