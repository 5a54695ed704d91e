// Package config defines the service configuration and how it is assembled:
// defaults, then an optional file, then environment, then CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ocrd/internal/common/fsutil"
)

// Config holds runtime parameters for the service.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// ModelConfig is passed to the model server as {model_config}.
	ModelConfig string `json:"model_config" yaml:"model_config" toml:"model_config"`
	// IdleTimeoutSeconds releases the model after this much inactivity.
	// Negative disables idle release.
	IdleTimeoutSeconds  int    `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds" toml:"idle_timeout_seconds"`
	DrainTimeoutSeconds int    `json:"drain_timeout_seconds" yaml:"drain_timeout_seconds" toml:"drain_timeout_seconds"`
	TempDir             string `json:"temp_dir" yaml:"temp_dir" toml:"temp_dir"`
	OutputDir           string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	ArchiveDir          string `json:"archive_dir" yaml:"archive_dir" toml:"archive_dir"`
	Workers             int    `json:"workers" yaml:"workers" toml:"workers"`
	FailurePolicy       string `json:"failure_policy" yaml:"failure_policy" toml:"failure_policy"`
	MaxUploadMB         int    `json:"max_upload_mb" yaml:"max_upload_mb" toml:"max_upload_mb"`
	// JobDB enables the sqlite job ledger; empty keeps it in memory.
	JobDB string `json:"job_db" yaml:"job_db" toml:"job_db"`
	// ArchiveRetentionHours deletes served archives older than this; 0 keeps them.
	ArchiveRetentionHours int    `json:"archive_retention_hours" yaml:"archive_retention_hours" toml:"archive_retention_hours"`
	LogLevel              string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// NvidiaSMI is the GPU probe binary; "off" disables device reporting.
	NvidiaSMI string `json:"nvidia_smi" yaml:"nvidia_smi" toml:"nvidia_smi"`

	Backend BackendConfig `json:"backend" yaml:"backend" toml:"backend"`
	PDF     PDFConfig     `json:"pdf" yaml:"pdf" toml:"pdf"`
	CORS    CORSConfig    `json:"cors" yaml:"cors" toml:"cors"`
}

// BackendConfig selects and configures the recognition backend.
type BackendConfig struct {
	// Mode is one of subprocess, remote, tesseract or stub.
	Mode    string   `json:"mode" yaml:"mode" toml:"mode"`
	Command string   `json:"command" yaml:"command" toml:"command"`
	Args    []string `json:"args" yaml:"args" toml:"args"`
	Env     []string `json:"env" yaml:"env" toml:"env"`
	Host    string   `json:"host" yaml:"host" toml:"host"`
	// PortStart/PortEnd restrict the spawned server's port; 0 picks any free port.
	PortStart           int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd             int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	BaseURL             string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	ModelName           string   `json:"model_name" yaml:"model_name" toml:"model_name"`
	ReadyTimeoutSeconds int      `json:"ready_timeout_seconds" yaml:"ready_timeout_seconds" toml:"ready_timeout_seconds"`
	RequestTimeoutSecs  int      `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	MaxTokens           int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	BatchConcurrency    int      `json:"batch_concurrency" yaml:"batch_concurrency" toml:"batch_concurrency"`
	Languages           []string `json:"languages" yaml:"languages" toml:"languages"`
}

// PDFConfig controls page rendering.
type PDFConfig struct {
	Pdftoppm     string `json:"pdftoppm" yaml:"pdftoppm" toml:"pdftoppm"`
	DPI          int    `json:"dpi" yaml:"dpi" toml:"dpi"`
	MaxPages     int    `json:"max_pages" yaml:"max_pages" toml:"max_pages"`
	MaxImageSide int    `json:"max_image_side" yaml:"max_image_side" toml:"max_image_side"`
}

// CORSConfig enables the CORS middleware when Enabled.
type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Backend modes.
const (
	ModeSubprocess = "subprocess"
	ModeRemote     = "remote"
	ModeTesseract  = "tesseract"
	ModeStub       = "stub"
)

// Defaults returns the built-in configuration. TempDir follows TMPDIR.
func Defaults() Config {
	tmp := filepath.Join(os.TempDir(), "ocrd")
	return Config{
		Addr:                ":7870",
		ModelConfig:         "echo840/MonkeyOCR",
		IdleTimeoutSeconds:  600,
		DrainTimeoutSeconds: 30,
		TempDir:             tmp,
		OutputDir:           filepath.Join(tmp, "output"),
		ArchiveDir:          filepath.Join(tmp, "archives"),
		Workers:             4,
		FailurePolicy:       "best-effort",
		MaxUploadMB:         100,
		LogLevel:            "info",
		NvidiaSMI:           "nvidia-smi",
		Backend: BackendConfig{
			Mode:                ModeSubprocess,
			Command:             "vllm",
			Args:                []string{"serve", "{model_config}", "--host", "{host}", "--port", "{port}", "--trust-remote-code"},
			Host:                "127.0.0.1",
			ReadyTimeoutSeconds: 600,
			RequestTimeoutSecs:  300,
			MaxTokens:           4096,
			BatchConcurrency:    4,
		},
		PDF: PDFConfig{
			Pdftoppm:     "pdftoppm",
			DPI:          200,
			MaxImageSide: 2048,
		},
	}
}

// EnvConfigPath returns the config file named by OCRD_CONFIG, if any.
func EnvConfigPath(getenv func(string) string) string {
	return strings.TrimSpace(getenv("OCRD_CONFIG"))
}

// ApplyEnv overlays environment variables onto cfg.
//
//	OCRD_ADDR         listen address
//	PORT              listen port (ignored when OCRD_ADDR is set)
//	MONKEYOCR_CONFIG  model configuration passed to the model server
//	GPU_IDLE_TIMEOUT  idle release threshold in seconds
//	OCRD_LOG_LEVEL    log level
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("OCRD_ADDR")); v != "" {
		cfg.Addr = v
	} else if v := strings.TrimSpace(getenv("PORT")); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: %q is not a number", v)
		}
		cfg.Addr = ":" + v
	}
	if v := strings.TrimSpace(getenv("MONKEYOCR_CONFIG")); v != "" {
		cfg.ModelConfig = v
	}
	if v := strings.TrimSpace(getenv("GPU_IDLE_TIMEOUT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GPU_IDLE_TIMEOUT: %q is not a number of seconds", v)
		}
		cfg.IdleTimeoutSeconds = n
	}
	if v := strings.TrimSpace(getenv("OCRD_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

// ExpandPaths resolves a leading ~ in every path setting.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.TempDir, &c.OutputDir, &c.ArchiveDir, &c.JobDB, &c.ModelConfig} {
		v, err := fsutil.ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	switch c.FailurePolicy {
	case "", "best-effort", "all-or-nothing":
	default:
		errs = append(errs, fmt.Errorf("failure_policy must be best-effort or all-or-nothing, got %q", c.FailurePolicy))
	}
	if c.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("max_upload_mb must be >= 0, got %d", c.MaxUploadMB))
	}
	if c.ArchiveRetentionHours < 0 {
		errs = append(errs, fmt.Errorf("archive_retention_hours must be >= 0, got %d", c.ArchiveRetentionHours))
	}
	if c.TempDir == "" || c.OutputDir == "" || c.ArchiveDir == "" {
		errs = append(errs, errors.New("temp_dir, output_dir and archive_dir must be set"))
	}
	if c.PDF.DPI != 0 && (c.PDF.DPI < 36 || c.PDF.DPI > 1200) {
		errs = append(errs, fmt.Errorf("pdf.dpi out of range: %d", c.PDF.DPI))
	}
	switch c.Backend.Mode {
	case ModeSubprocess:
		if strings.TrimSpace(c.Backend.Command) == "" {
			errs = append(errs, errors.New("backend.command is required in subprocess mode"))
		}
		if c.Backend.PortStart > 0 && c.Backend.PortEnd < c.Backend.PortStart {
			errs = append(errs, fmt.Errorf("backend port range invalid: %d-%d", c.Backend.PortStart, c.Backend.PortEnd))
		}
	case ModeRemote:
		if strings.TrimSpace(c.Backend.BaseURL) == "" {
			errs = append(errs, errors.New("backend.base_url is required in remote mode"))
		}
	case ModeTesseract, ModeStub:
	default:
		errs = append(errs, fmt.Errorf("backend.mode must be subprocess, remote, tesseract or stub, got %q", c.Backend.Mode))
	}
	return errors.Join(errs...)
}
