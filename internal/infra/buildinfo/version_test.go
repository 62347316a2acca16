package buildinfo

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	oldV, oldC := Version, Commit
	defer func() { Version, Commit = oldV, oldC }()

	Version, Commit = "v1.2.3", "0123456789abcdef0123"
	info := Get()
	if info.Version != "v1.2.3" || info.Commit != Commit {
		t.Errorf("Get = %+v", info)
	}
	if !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}

	s := String()
	if !strings.Contains(s, "v1.2.3") || !strings.Contains(s, "(0123456789ab)") {
		t.Errorf("String = %q", s)
	}
	if UserAgent() != "captoken/v1.2.3" {
		t.Errorf("UserAgent = %q", UserAgent())
	}
}
