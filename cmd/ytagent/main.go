package main

import (
	"os"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/version"
)

// Set with -ldflags "-X main.Version=...". An empty GoVersion keeps the
// runtime's own version.
var (
	Version   string = "0.1.0-dev"
	BuildTime string = "unknown"
	GitCommit string = "unknown"
	GoVersion string
)

func init() {
	version.SetInfo(Version, BuildTime, GitCommit, GoVersion)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
