// SPDX-License-Identifier: MIT
//
// Package build exposes build metadata (name, timestamp, commit, version)
// injected with -ldflags, for example:
//
//	go build -ldflags "-X karaoke/pkg/build.buildVersion=0.2.0 \
//	    -X karaoke/pkg/build.buildCommit=$(git rev-parse --short HEAD)"
//
// Development builds run without ldflags; Initialize fills the gaps with
// placeholder values unless strict mode is requested by a release build.
package build

import "fmt"

// DefaultName is the binary name used when none is injected.
const DefaultName = "karaoke"

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String renders the flags the way `--version` prints them.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", f.Version, f.Commit, f.Time)
}

var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = newDevFlags()
)

func newDevFlags() *ldFlags {
	return &ldFlags{
		Name:        DefaultName,
		Description: "Real-time pitch tracker and recorder",
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
}

// Initialize copies the ldflags variables into the shared build info. In
// strict mode every flag must be set; otherwise missing values keep their
// development defaults.
func Initialize(strict bool) error {
	if strict {
		if buildName == "" {
			return fmt.Errorf("BuildName is required")
		}
		if buildTime == "" {
			return fmt.Errorf("BuildTime is required")
		}
		if buildCommit == "" {
			return fmt.Errorf("BuildCommit is required")
		}
		if buildVersion == "" {
			return fmt.Errorf("BuildVersion is required")
		}
	}

	flags := newDevFlags()
	if buildName != "" {
		flags.Name = buildName
	}
	if buildTime != "" {
		flags.Time = buildTime
	}
	if buildCommit != "" {
		flags.Commit = buildCommit
	}
	if buildVersion != "" {
		flags.Version = buildVersion
	}
	buildFlags = flags

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
