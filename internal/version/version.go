// Package version holds build-time version information for the verifygw
// binaries. Release builds inject the values with -ldflags:
//
//	-X github.com/ferro-labs/verifygw/internal/version.Version=v0.1.0
//	-X github.com/ferro-labs/verifygw/internal/version.Commit=abc1234
//	-X github.com/ferro-labs/verifygw/internal/version.Date=2026-10-01T00:00:00Z
package version

import (
	"fmt"
	"runtime/debug"
)

// Set at link time. Local builds keep the dev values.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the JSON shape served by /health and printed by the CLI.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version,omitempty"`
}

// Get returns the build information, falling back to the module build info
// when no ldflags were supplied.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Commit == "none" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && len(s.Value) >= 7 {
					info.Commit = s.Value[:7]
				}
			}
		}
	}
	return info
}

// String returns a one-line version string such as
// "v0.1.0 (commit abc1234, built 2026-10-01T00:00:00Z)".
func String() string {
	i := Get()
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.Commit, i.Date)
}

// Short returns just the version tag.
func Short() string {
	return Version
}
