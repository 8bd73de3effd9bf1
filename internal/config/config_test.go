package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("expected default host %q, got %q", DefaultHost, cfg.Server.Host)
	}
}

func TestLoad_OverlaysYAML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "embedsrv.yml")

	yamlContents := `server:
  host: "0.0.0.0"
  port: 8080
  model_repo:
    - "sentence-transformers/all-MiniLM-L6-v2"
  model_cache_dir: "${TEST_EMBEDSRV_DIR:=~/test_embedsrv_cache}"
log:
  filter: "embedsrv=debug"
`
	if err := os.WriteFile(configPath, []byte(yamlContents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_ = os.Unsetenv("TEST_EMBEDSRV_DIR")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Errorf("expected overlaid host/port, got %+v", cfg.Server)
	}
	if len(cfg.Server.ModelRepo) != 1 || cfg.Server.ModelRepo[0] != "sentence-transformers/all-MiniLM-L6-v2" {
		t.Errorf("expected one model repo entry, got %+v", cfg.Server.ModelRepo)
	}

	home, _ := os.UserHomeDir()
	expectedCacheDir := filepath.Join(home, "test_embedsrv_cache")
	if cfg.Server.ModelCacheDir != expectedCacheDir {
		t.Errorf("expected ModelCacheDir=%q, got %q", expectedCacheDir, cfg.Server.ModelCacheDir)
	}

	os.Setenv("TEST_EMBEDSRV_DIR", "/tmp/override_embedsrv")
	defer os.Unsetenv("TEST_EMBEDSRV_DIR")

	cfg2, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load with env override failed: %v", err)
	}
	if cfg2.Server.ModelCacheDir != "/tmp/override_embedsrv" {
		t.Errorf("expected ModelCacheDir=/tmp/override_embedsrv, got %q", cfg2.Server.ModelCacheDir)
	}
}

func TestLoad_RejectsPortOutOfRange(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "embedsrv.yml")

	yamlContents := `server:
  host: "0.0.0.0"
  port: 70000
`
	if err := os.WriteFile(configPath, []byte(yamlContents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected CUE validation to reject a port above 65535")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "embedsrv.yml")

	if err := WriteDefaultConfig(configPath); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}
