// Package buildinfo carries the release stamp of the cjcard binary.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/cordum/cjcard/core/infra/logging"
)

// Set with -ldflags "-X github.com/cordum/cjcard/core/infra/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var readBuildInfo = debug.ReadBuildInfo

// Info returns a single-line build summary.
func Info() string {
	commit, date := stamp()
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, commit, date)
}

// Log writes the build summary with the service name.
func Log(service string) {
	commit, date := stamp()
	logging.Info(service, "build", "version", Version, "commit", commit, "date", date, "go", runtime.Version())
}

// stamp falls back to the VCS settings the go tool embeds when the linker
// flags were not supplied.
func stamp() (commit, date string) {
	commit, date = Commit, Date
	if commit != "unknown" && date != "unknown" {
		return commit, date
	}
	info, ok := readBuildInfo()
	if !ok {
		return commit, date
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "unknown" && s.Value != "" {
				commit = s.Value
			}
		case "vcs.time":
			if date == "unknown" && s.Value != "" {
				date = s.Value
			}
		}
	}
	return commit, date
}
