package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Server struct {
		HTTP struct {
			Addr        string `koanf:"addr"`
			TLSCertFile string `koanf:"tls_cert_file"`
		} `koanf:"http"`
	} `koanf:"server"`
	Sweeper struct {
		Interval  time.Duration `koanf:"interval"`
		BatchSize int           `koanf:"batch_size"`
	} `koanf:"sweeper"`
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

func defaults() *testConfig {
	cfg := &testConfig{}
	cfg.Server.HTTP.Addr = "127.0.0.1:8080"
	cfg.Sweeper.Interval = time.Minute
	cfg.Sweeper.BatchSize = 500
	cfg.Log.Level = "info"
	return cfg
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "captoken.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"CAPTOKEN_LOG__LEVEL", "log.level"},
		{"CAPTOKEN_SWEEPER__BATCH_SIZE", "sweeper.batch_size"},
		{"CAPTOKEN_SERVER__HTTP__TLS_CERT_FILE", "server.http.tls_cert_file"},
	}
	for _, tt := range tests {
		if got := EnvKey(DefaultEnvPrefix, tt.name); got != tt.want {
			t.Errorf("EnvKey(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestLoader_Priority(t *testing.T) {
	path := writeFile(t, `
server:
  http:
    addr: "0.0.0.0:9000"
sweeper:
  interval: 30s
  batch_size: 100
`)
	t.Setenv("CAPTOKEN_SWEEPER__BATCH_SIZE", "250")
	t.Setenv("CAPTOKEN_SERVER__HTTP__TLS_CERT_FILE", "/etc/captoken/tls.crt")

	cfg := defaults()
	l := NewLoader(WithConfigFile(path))
	if err := l.Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !l.IsLoaded() {
		t.Error("IsLoaded = false after Load")
	}

	if cfg.Server.HTTP.Addr != "0.0.0.0:9000" {
		t.Errorf("addr = %q, want file value", cfg.Server.HTTP.Addr)
	}
	if cfg.Sweeper.Interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s", cfg.Sweeper.Interval)
	}
	if cfg.Sweeper.BatchSize != 250 {
		t.Errorf("batch_size = %d, want env value 250", cfg.Sweeper.BatchSize)
	}
	if cfg.Server.HTTP.TLSCertFile != "/etc/captoken/tls.crt" {
		t.Errorf("tls_cert_file = %q", cfg.Server.HTTP.TLSCertFile)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q, want default kept", cfg.Log.Level)
	}
}

func TestLoader_Errors(t *testing.T) {
	if err := NewLoader(WithConfigFile("/nonexistent/captoken.yaml")).Load(defaults()); err == nil {
		t.Error("missing file accepted")
	}
	bad := writeFile(t, "server: [unclosed")
	if err := NewLoader(WithConfigFile(bad)).Load(defaults()); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestLoader_LoadMapAndCustomPrefix(t *testing.T) {
	t.Setenv("TEST_LOG__LEVEL", "debug")
	l := NewLoader(WithEnvPrefix("TEST_"))
	if err := l.LoadMap(map[string]any{"sweeper": map[string]any{"batch_size": 7}}); err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	cfg := defaults()
	if err := l.Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sweeper.BatchSize != 7 || cfg.Log.Level != "debug" {
		t.Errorf("batch_size = %d, level = %q", cfg.Sweeper.BatchSize, cfg.Log.Level)
	}
	if l.GetString("log.level") != "debug" || len(l.Keys()) < 2 {
		t.Errorf("GetString = %q, keys = %v", l.GetString("log.level"), l.Keys())
	}
	if _, err := (mapProvider{}).ReadBytes(); err != ErrReadBytesNotSupported {
		t.Errorf("ReadBytes err = %v", err)
	}
}
