package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DefaultOutput != "table" {
		t.Errorf("DefaultOutput = %q, want %q", cfg.DefaultOutput, "table")
	}
	if cfg.Profiles == nil || len(cfg.Profiles) != 0 {
		t.Errorf("Profiles = %v, want empty map", cfg.Profiles)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if !strings.HasSuffix(path, filepath.Join(".captoken", "cli.yaml")) {
		t.Errorf("DefaultConfigPath() = %q", path)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not error for nonexistent file: %v", err)
	}
	if cfg.DefaultOutput != "table" {
		t.Error("Should return default config for nonexistent file")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cli.yaml")
	cfg := Default()
	cfg.DefaultOutput = "json"
	cfg.CurrentProfile = "prod"
	cfg.Profiles["prod"] = Profile{Server: "https://ct.example.org", APIKeyID: "ctak-1", APIKey: "s", Organization: "org-a"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.DefaultOutput != "json" || got.Profiles["prod"] != cfg.Profiles["prod"] {
		t.Errorf("loaded = %+v", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "profiles: [\n"},
		{"bad output", "default_output: xml\n"},
		{"dangling current profile", "current_profile: prod\n"},
		{"profile without server", "profiles:\n  prod:\n    api_key_id: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cli.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := Default()
	cfg.Profiles["a"] = Profile{Server: "http://a"}
	cfg.Profiles["b"] = Profile{Server: "http://b"}

	if p, _ := cfg.Resolve(""); p.Server != DefaultServer {
		t.Errorf("no profile: Server = %q", p.Server)
	}
	cfg.CurrentProfile = "a"
	if p, _ := cfg.Resolve(""); p.Server != "http://a" {
		t.Errorf("current profile: Server = %q", p.Server)
	}
	if p, _ := cfg.Resolve("b"); p.Server != "http://b" {
		t.Errorf("named profile: Server = %q", p.Server)
	}
	if _, err := cfg.Resolve("missing"); err == nil {
		t.Error("expected error for missing profile")
	}
}

func TestProfile_Merge(t *testing.T) {
	base := Profile{Server: "http://a", APIKeyID: "k1", APIKey: "s1", Organization: "org-a"}
	got := base.Merge(Profile{APIKeyID: "k2", CAFile: "/ca.pem"})
	want := Profile{Server: "http://a", APIKeyID: "k2", APIKey: "s1", CAFile: "/ca.pem", Organization: "org-a"}
	if got != want {
		t.Errorf("Merge() = %+v, want %+v", got, want)
	}
}
