package version

import (
	"fmt"
	"runtime"
)

// Version information - using semantic versioning
const (
	Major      = 0
	Minor      = 4
	Patch      = 0
	PreRelease = "" // e.g., "alpha", "beta", "rc1"
)

// Set with -ldflags "-X github.com/cookfi/cookfi-agent/pkg/version.GitCommit=..."
var (
	GitCommit = ""
	BuildDate = ""
)

const Name = "CookFi Agent"

// Version returns the semantic version string
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if PreRelease != "" {
		version += "-" + PreRelease
	}
	return version
}

// BuildInfo contains comprehensive build information
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns complete build information
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Name:      Name,
		Version:   Version(),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func shortCommit(c string) string {
	if len(c) >= 7 {
		return c[:7]
	}
	return c
}

// GetFullVersionString returns a complete version string with build info
func GetFullVersionString() string {
	info := GetBuildInfo()
	result := fmt.Sprintf("%s v%s", info.Name, info.Version)

	if info.GitCommit != "" {
		result += fmt.Sprintf(" (commit: %s)", shortCommit(info.GitCommit))
	}
	if info.BuildDate != "" {
		result += fmt.Sprintf(" (built: %s)", info.BuildDate)
	}

	result += fmt.Sprintf(" (go: %s, platform: %s)", info.GoVersion, info.Platform)
	return result
}

// GetBanner returns a formatted banner for application startup
func GetBanner() string {
	info := GetBuildInfo()
	banner := fmt.Sprintf(`
┌──────────────────────────────────────────────┐
│ %-44s │
│ Go Version: %-32s │
│ Platform:   %-32s │`,
		info.Name+" v"+info.Version,
		info.GoVersion,
		info.Platform,
	)
	if info.GitCommit != "" {
		banner += fmt.Sprintf(`
│ Git Commit: %-32s │`, shortCommit(info.GitCommit))
	}
	banner += `
└──────────────────────────────────────────────┘`
	return banner
}
