// Package versions exposes build information and version ordering.
package versions

import (
	"fmt"
	"runtime"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Build information, set at build time via ldflags.
var (
	// Version is the current version of satsync
	Version = "dev"
	// Commit is the git commit the binary was built from
	Commit = "unknown"
	// BuildDate is when the binary was built
	BuildDate = "unknown"
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information of the running binary.
func GetVersionInfo() VersionInfo {
	buildDate := BuildDate
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		buildDate = t.Format(time.RFC3339)
	}
	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// IsNewerVersion reports whether candidate is strictly newer than current.
// Both strings are compared as semantic versions when they parse; otherwise
// the comparison falls back to plain string ordering.
func IsNewerVersion(candidate, current string) bool {
	candidateVer, candErr := semver.NewVersion(candidate)
	currentVer, curErr := semver.NewVersion(current)
	if candErr != nil || curErr != nil {
		return candidate > current
	}
	return candidateVer.GreaterThan(currentVer)
}
