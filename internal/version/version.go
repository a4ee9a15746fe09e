// Package version holds the build identity of rebootguard. Version,
// GitCommit and BuildDate are set with -ldflags -X at build time.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/mod/semver"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns the one-line identity printed by "version --short", e.g.
// "rebootguard 1.2.0+3f9c2ab go1.23.4 android/arm64 built 2025-01-01".
func Info() string {
	var b strings.Builder
	b.WriteString("rebootguard ")
	b.WriteString(Version)
	if GitCommit != "unknown" && GitCommit != "" {
		b.WriteString("+")
		b.WriteString(shortCommit(GitCommit))
	}
	fmt.Fprintf(&b, " %s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if BuildDate != "unknown" && BuildDate != "" {
		b.WriteString(" built ")
		b.WriteString(BuildDate)
	}
	return b.String()
}

// Short returns Version unchanged.
func Short() string {
	return Version
}

// Code returns the integer module version code for a release version,
// major*10000 + minor*100 + patch. Development and malformed versions
// return 0, which every installed release outranks.
func Code() int {
	v := Version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return 0
	}
	var major, minor, patch int
	core := strings.SplitN(strings.TrimPrefix(semver.Canonical(v), "v"), "-", 2)[0]
	if _, err := fmt.Sscanf(core, "%d.%d.%d", &major, &minor, &patch); err != nil {
		return 0
	}
	return major*10000 + minor*100 + patch
}

// Map returns the build identity for JSON output.
func Map() map[string]string {
	return map[string]string{
		"version":      Version,
		"version_code": fmt.Sprint(Code()),
		"git_commit":   GitCommit,
		"build_date":   BuildDate,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
	}
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
