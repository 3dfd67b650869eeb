package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.2.0", "abc123def456", "2026-01-01T12:00:00Z"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	info := GetInfo()
	if info.Version != "1.2.0" || info.Commit != "abc123def456" || info.Date != "2026-01-01T12:00:00Z" {
		t.Errorf("GetInfo() = %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %v, want %v", info.GoVersion, runtime.Version())
	}
	if want := runtime.GOOS + "/" + runtime.GOARCH; info.Platform != want {
		t.Errorf("Platform = %v, want %v", info.Platform, want)
	}
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "1.2.0",
		Commit:    "abc123def456",
		Date:      "2026-01-01",
		GoVersion: "go1.24.6",
		Platform:  "linux/amd64",
	}

	got := info.String()
	for _, substr := range []string{"crowd-agent", "1.2.0", "abc123de", "go1.24.6", "linux/amd64"} {
		if !strings.Contains(got, substr) {
			t.Errorf("Info.String() = %v, missing %v", got, substr)
		}
	}
	if strings.Contains(got, "abc123def456") {
		t.Error("commit hash should be truncated to 8 characters")
	}
}

func TestInfoShort(t *testing.T) {
	if got := (Info{Version: "1.2.0-rc1"}).Short(); got != "1.2.0-rc1" {
		t.Errorf("Short() = %v", got)
	}
}
