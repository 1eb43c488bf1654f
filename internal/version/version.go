// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// SetInfo overrides the build metadata; empty values keep the current ones.
func SetInfo(v, bt, gc, gv string) {
	if v != "" {
		Version = v
	}
	if bt != "" {
		BuildTime = bt
	}
	if gc != "" {
		GitCommit = gc
	}
	if gv != "" {
		GoVersion = gv
	}
}

// String is the one-line form printed by `ytagent version`.
func String() string {
	return fmt.Sprintf("ytagent %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// DeployDetails describes the running build in deploy notifications.
func DeployDetails() string {
	return fmt.Sprintf("commit %s, built %s", GitCommit, BuildTime)
}
