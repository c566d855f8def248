package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
dlog:
  ram_buffer_plane_size: 8192
  critical_upload_timeout: 2s
upload:
  max_retry: 5
settings:
  storage_name: mybucket
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dlog.RAMBufferPlaneSize != 8192 {
		t.Errorf("plane size = %d", cfg.Dlog.RAMBufferPlaneSize)
	}
	if cfg.Dlog.CriticalUploadTimeout != 2*time.Second {
		t.Errorf("critical timeout = %s", cfg.Dlog.CriticalUploadTimeout)
	}
	if cfg.Upload.MaxRetry != 5 {
		t.Errorf("max retry = %d", cfg.Upload.MaxRetry)
	}
	if cfg.Settings.StorageName != "mybucket" {
		t.Errorf("storage name = %q", cfg.Settings.StorageName)
	}
	// Untouched knobs keep their defaults.
	if cfg.Upload.CloudListMax != 10 {
		t.Errorf("cloud list max = %d", cfg.Upload.CloudListMax)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("dlog:\n  ram_buffer_planes: 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure for a single ring plane")
	}
}

func TestValidate_PlaneSizeMultipleOf4(t *testing.T) {
	cfg := Defaults()
	cfg.Dlog.RAMBufferPlaneSize = 1022
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected failure for plane size not a multiple of 4")
	}
}
