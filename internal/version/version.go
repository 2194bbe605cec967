// Package version reports the build identity of target-tester.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// These variables can be set at build time via ldflags:
//
//	go build -ldflags="-X github.com/muurk/target-tester/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/target-tester/internal/version.Commit=abc123"
//
// Otherwise they are filled from the VCS stamp in the build info, or fall
// back to "dev" with a timestamp.
var (
	// Version is the semantic version of the application
	Version = ""
	// Commit is the git commit hash
	Commit = ""
)

func init() {
	if Version == "" || Commit == "" {
		populateFromBuildInfo()
	}

	if Version == "" {
		Version = fmt.Sprintf("dev-%s", time.Now().Format("20060102-150405"))
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func populateFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	stamp := vcsStamp(info.Settings)
	if Commit == "" {
		Commit = stamp.commit()
	}
	if Version == "" {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			Version = info.Main.Version
		} else {
			Version = stamp.devVersion()
		}
	}
}

type vcs struct {
	revision string
	modified bool
	time     string
}

func vcsStamp(settings []debug.BuildSetting) vcs {
	var v vcs
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			v.revision = setting.Value
		case "vcs.modified":
			v.modified = setting.Value == "true"
		case "vcs.time":
			v.time = setting.Value
		}
	}
	return v
}

// commit returns the short revision, marked dirty for modified trees.
func (v vcs) commit() string {
	if v.revision == "" {
		return ""
	}
	c := v.revision
	if len(c) > 7 {
		c = c[:7]
	}
	if v.modified {
		c += "-dirty"
	}
	return c
}

func (v vcs) devVersion() string {
	t, err := time.Parse(time.RFC3339, v.time)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("dev-%s", t.Format("20060102"))
}

// Full returns the full version string including commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// Platform returns the Go toolchain and target platform.
func Platform() string {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
