package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsNeedSaveDirs(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error without save_dirs")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
save_dirs:
  - /saves/une
  - /saves/blorg
data_dir: /var/lib/dashboard
poll_interval: 5s
workers: 4
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.SaveDirs) != 2 || cfg.SaveDirs[0] != "/saves/une" {
		t.Fatalf("save_dirs = %v", cfg.SaveDirs)
	}
	if cfg.DataDir != "/var/lib/dashboard" {
		t.Fatalf("data_dir = %s", cfg.DataDir)
	}
	if cfg.PollInterval.Std() != 5*time.Second {
		t.Fatalf("poll_interval = %s", cfg.PollInterval)
	}
	if cfg.Workers != 4 {
		t.Fatalf("workers = %d", cfg.Workers)
	}
	// Untouched keys keep their defaults.
	if cfg.RetryCap != 3 || cfg.HTTPAddr != ":28015" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("save_dirs: [/saves/une]\nworkers: 4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DASHBOARD_WORKERS", "8")
	t.Setenv("DASHBOARD_SAVE_DIRS", "/a:/b")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workers != 8 {
		t.Fatalf("workers = %d, want env override 8", cfg.Workers)
	}
	if len(cfg.SaveDirs) != 2 || cfg.SaveDirs[1] != "/b" {
		t.Fatalf("save_dirs = %v", cfg.SaveDirs)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaults()
	cfg.SaveDirs = []string{"/saves"}
	cfg.PollInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero poll_interval")
	}
}
