package version

import (
	"fmt"
	"runtime"
	"strings"
)

// These variables are set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "none"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

// Info is the build metadata reported by the health endpoint and the
// version command.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go"`
	Platform  string `json:"platform"`
}

func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// Get returns the current build metadata.
func Get() Info {
	return Info{
		Version:   orDefault(Version, "dev"),
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		Platform:  Platform(),
	}
}

// Summary returns "version (short-commit)" or just the version.
func Summary() string {
	v := orDefault(Version, "dev")
	if Commit != "" && Commit != "none" {
		short := Commit
		if len(short) > 7 {
			short = short[:7]
		}
		return fmt.Sprintf("%s (%s)", v, short)
	}
	return v
}

// String renders the multi-line block printed by `jukeboxd version`.
func (i Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "jukeboxd version %s\n", i.Version)
	fmt.Fprintf(&sb, "  commit: %s\n", i.Commit)
	fmt.Fprintf(&sb, "  built: %s\n", i.Date)
	fmt.Fprintf(&sb, "  go: %s\n", i.GoVersion)
	fmt.Fprintf(&sb, "  platform: %s\n", i.Platform)
	return sb.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
