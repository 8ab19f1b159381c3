// Package version reports the build version of pulsemeter.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/pulsemeter/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/pulsemeter/internal/version.Commit=abc123"
//
// Without ldflags they are taken from the embedded VCS info, or fall back
// to "dev" with a timestamp.
var (
	Version = ""
	Commit  = ""
)

func init() {
	if Version == "" || Commit == "" {
		fromBuildInfo(debug.ReadBuildInfo())
	}
	if Version == "" {
		Version = fmt.Sprintf("dev-%s", time.Now().Format("20060102-150405"))
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fromBuildInfo(info *debug.BuildInfo, ok bool) {
	if !ok {
		return
	}
	// Tagged module builds (go install ...@v1.2.3) carry a real version.
	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	var revision, vcsTime string
	modified := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		case "vcs.time":
			vcsTime = s.Value
		}
	}

	if Commit == "" && revision != "" {
		if len(revision) > 7 {
			revision = revision[:7]
		}
		Commit = revision
		if modified {
			Commit += "-dirty"
		}
	}
	if Version == "" && vcsTime != "" {
		if t, err := time.Parse(time.RFC3339, vcsTime); err == nil {
			Version = "dev-" + t.Format("20060102")
		}
	}
}

// Full returns the version with commit and Go runtime, for bug reports.
func Full() string {
	return fmt.Sprintf("%s (commit: %s, %s %s/%s)", Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
