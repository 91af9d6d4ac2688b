package versions

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfo(t *testing.T) {
	t.Parallel()

	info := GetVersionInfo()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, Commit, info.Commit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Contains(t, info.Platform, runtime.GOOS)
}

func TestIsNewerVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		candidate string
		current   string
		expected  bool
	}{
		{name: "newer major", candidate: "2.0.0", current: "1.0.0", expected: true},
		{name: "newer minor", candidate: "1.2.0", current: "1.1.0", expected: true},
		{name: "newer patch", candidate: "1.0.2", current: "1.0.1", expected: true},
		{name: "older", candidate: "1.0.0", current: "2.0.0", expected: false},
		{name: "equal", candidate: "1.0.0", current: "1.0.0", expected: false},
		{name: "release beats prerelease", candidate: "1.0.0", current: "1.0.0-alpha", expected: true},
		{name: "prerelease loses to release", candidate: "1.0.0-alpha", current: "1.0.0", expected: false},
		{name: "v prefix", candidate: "v2.0.0", current: "v1.0.0", expected: true},
		{name: "non-semver falls back to string order", candidate: "build-b", current: "build-a", expected: true},
		{name: "mixed semver and non-semver uses string order", candidate: "dev", current: "1.0.0", expected: true},
		{name: "both empty", candidate: "", current: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, IsNewerVersion(tt.candidate, tt.current))
		})
	}
}
