// SPDX-License-Identifier: MIT
package build

import (
	"strings"
	"testing"
)

func setVars(name, tm, commit, version string) {
	buildName = name
	buildTime = tm
	buildCommit = commit
	buildVersion = version
}

func TestInitializeStrict(t *testing.T) {
	tests := []struct {
		name        string
		buildName   string
		buildTime   string
		buildCommit string
		buildVer    string
		wantErrMsg  string
	}{
		{"Missing BuildName", "", "2026-10-17", "abcdef123", "v1.0.0", "BuildName is required"},
		{"Missing BuildTime", "karaoke", "", "abcdef123", "v1.0.0", "BuildTime is required"},
		{"Missing BuildCommit", "karaoke", "2026-10-17", "", "v1.0.0", "BuildCommit is required"},
		{"Missing BuildVersion", "karaoke", "2026-10-17", "abcdef123", "", "BuildVersion is required"},
		{"Success Case", "karaoke", "2026-10-17", "abcdef123", "v1.0.0", ""},
	}

	t.Cleanup(func() {
		setVars("", "", "", "")
		buildFlags = newDevFlags()
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buildFlags = newDevFlags()
			setVars(tt.buildName, tt.buildTime, tt.buildCommit, tt.buildVer)

			err := Initialize(true)

			if tt.wantErrMsg != "" {
				if err == nil || err.Error() != tt.wantErrMsg {
					t.Errorf("Initialize(true) error = %v, want %v", err, tt.wantErrMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Initialize(true) unexpected error: %v", err)
			}

			flags := GetBuildFlags()
			if flags.Name != tt.buildName || flags.Version != tt.buildVer || flags.Commit != tt.buildCommit {
				t.Errorf("GetBuildFlags() = %+v", flags)
			}
		})
	}
}

func TestInitializeDevDefaults(t *testing.T) {
	t.Cleanup(func() {
		setVars("", "", "", "")
		buildFlags = newDevFlags()
	})
	setVars("", "", "", "v0.3.1")

	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize(false) unexpected error: %v", err)
	}

	flags := GetBuildFlags()
	if flags.Name != DefaultName {
		t.Errorf("Name = %q, want %q", flags.Name, DefaultName)
	}
	if flags.Version != "v0.3.1" {
		t.Errorf("Version = %q, want v0.3.1", flags.Version)
	}
	if flags.Commit != "unknown" {
		t.Errorf("Commit = %q, want unknown", flags.Commit)
	}
	if !strings.HasPrefix(flags.String(), "v0.3.1 (commit unknown") {
		t.Errorf("String() = %q", flags.String())
	}
}
