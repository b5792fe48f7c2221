package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "reactor.conf")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultPort || cfg.MaxConnections != DefaultMaxConnections || cfg.ThreadCount != DefaultThreadCount {
		t.Fatalf("Load(\"\") = %+v, want all defaults", cfg)
	}
}

func TestLoadOverridesAndComments(t *testing.T) {
	path := writeTempConfig(t, "# reactor config\nport=9090\nmax_connections=50\n# thread_count left at default\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.MaxConnections != 50 {
		t.Fatalf("MaxConnections = %d, want 50", cfg.MaxConnections)
	}
	if cfg.ThreadCount != DefaultThreadCount {
		t.Fatalf("ThreadCount = %d, want default %d", cfg.ThreadCount, DefaultThreadCount)
	}
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	path := writeTempConfig(t, "port=8081\nunknown_key=whatever\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8081 {
		t.Fatalf("Port = %d, want 8081", cfg.Port)
	}
}

func TestLoadRejectsInvalidNumber(t *testing.T) {
	path := writeTempConfig(t, "port=not-a-number\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a non-numeric port value")
	}
}

func TestApplyPositionalOverride(t *testing.T) {
	cfg := &Config{Port: DefaultPort, MaxConnections: DefaultMaxConnections, ThreadCount: DefaultThreadCount}
	if err := ApplyPositionalOverride(cfg, 7000, 200, 8); err != nil {
		t.Fatalf("ApplyPositionalOverride: %v", err)
	}
	if cfg.Port != 7000 || cfg.MaxConnections != 200 || cfg.ThreadCount != 8 {
		t.Fatalf("got %+v, want port=7000 max_connections=200 thread_count=8", cfg)
	}
}

func TestApplyPositionalOverrideZeroLeavesUnchanged(t *testing.T) {
	cfg := &Config{Port: 1234, MaxConnections: 10, ThreadCount: 2}
	if err := ApplyPositionalOverride(cfg, 0, 0, 0); err != nil {
		t.Fatalf("ApplyPositionalOverride: %v", err)
	}
	if cfg.Port != 1234 || cfg.MaxConnections != 10 || cfg.ThreadCount != 2 {
		t.Fatalf("zero overrides should leave config unchanged, got %+v", cfg)
	}
}
