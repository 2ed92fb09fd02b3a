package version

import (
	"strings"
	"testing"
)

func TestSummary(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() { Version, Commit = origVersion, origCommit }()

	tests := []struct {
		version string
		commit  string
		want    string
	}{
		{"", "none", "dev"},
		{"v1.2.0", "none", "v1.2.0"},
		{"v1.2.0", "", "v1.2.0"},
		{"v1.2.0", "0123456789abcdef", "v1.2.0 (0123456)"},
		{"v1.2.0", "abc", "v1.2.0 (abc)"},
	}
	for _, tt := range tests {
		Version, Commit = tt.version, tt.commit
		if got := Summary(); got != tt.want {
			t.Errorf("Summary() with %q/%q = %q, want %q", tt.version, tt.commit, got, tt.want)
		}
	}
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "v1", Commit: "c", Date: "d", GoVersion: "go1.25", Platform: "linux/amd64"}
	out := info.String()
	for _, want := range []string{"jukeboxd version v1", "commit: c", "built: d", "go: go1.25", "platform: linux/amd64"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q in:\n%s", want, out)
		}
	}
}
