package version

import (
	"runtime/debug"
	"strings"
)

// SchemaVersion is the archive metadata version written to export.json.
// Import requires an exact match.
const SchemaVersion = "1.0"

// These variables are intended to be populated at build time via -ldflags.
// For example:
//
//	-X github.com/tis24dev/confmigrate/internal/version.Version=v0.3.0
//	-X github.com/tis24dev/confmigrate/internal/version.Commit=abcdef123
var (
	// Version holds the semantic version of the binary.
	Version = ""

	// Commit holds the VCS commit hash used to build the binary (optional).
	Commit = ""
)

var readBuildInfo = debug.ReadBuildInfo

// String returns the effective version string used across the application.
// Preference order:
//  1. Value injected into Version via ldflags.
//  2. Main module version from debug.ReadBuildInfo (if available and not "(devel)").
//  3. Fallback development placeholder.
//
// The returned version is normalized by stripping any leading "v" prefix.
func String() string {
	v := strings.TrimSpace(Version)

	if v == "" {
		if info, ok := readBuildInfo(); ok && info != nil {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}

	if v == "" {
		v = "0.0.0-dev"
	}

	return strings.TrimPrefix(v, "v")
}
