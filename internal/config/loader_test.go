package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nworkers: 2\nfailure_policy: all-or-nothing\nbackend:\n  mode: remote\n  base_url: http://gpu:8000\npdf:\n  dpi: 300\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Workers != 2 || cfg.FailurePolicy != "all-or-nothing" || cfg.Backend.Mode != ModeRemote || cfg.PDF.DPI != 300 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	// untouched keys keep defaults
	if cfg.IdleTimeoutSeconds != 600 || cfg.PDF.Pdftoppm != "pdftoppm" || cfg.Backend.MaxTokens != 4096 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","idle_timeout_seconds":-1,"job_db":"/var/lib/ocrd/jobs.db","cors":{"enabled":true,"allowed_origins":["*"]}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.IdleTimeoutSeconds != -1 || cfg.JobDB != "/var/lib/ocrd/jobs.db" || !cfg.CORS.Enabled || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodel_config=\"/models/cfg.yaml\"\n[backend]\nmode=\"stub\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.ModelConfig != "/models/cfg.yaml" || cfg.Backend.Mode != ModeStub {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	if _, err := Load(filepath.Join(d, "missing.yaml")); err == nil {
		t.Fatalf("expected error on missing file")
	}
	p := writeTempFile(t, d, "cfg.ini", "addr=:1")
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported extension error, got %v", err)
	}
	bad := writeTempFile(t, d, "bad.json", "{")
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse error")
	}
}
