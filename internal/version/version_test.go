package version

import (
	"strings"
	"testing"
)

func TestSetBuildInfo(t *testing.T) {
	origTime, origCommit := BuildTime, GitCommit
	defer SetBuildInfo(origTime, origCommit)

	SetBuildInfo("2026-08-25T10:00:00Z", "abc1234")

	full := GetFullVersionInfo()
	for _, part := range []string{VersionWithPrefix, "2026-08-25T10:00:00Z", "abc1234"} {
		if !strings.Contains(full, part) {
			t.Fatalf("完整版本信息应包含%q: %s", part, full)
		}
	}
}

func TestVersionAccessors(t *testing.T) {
	if GetVersion() != Version {
		t.Fatalf("GetVersion应返回%q，实际%q", Version, GetVersion())
	}
	if GetVersionWithPrefix() != "v"+Version {
		t.Fatalf("带前缀版本应为v%s，实际%q", Version, GetVersionWithPrefix())
	}
}
