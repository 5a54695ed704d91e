package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ocrd/internal/config"
)

type rootFlags struct {
	configPath  string
	addr        string
	logLevel    string
	logFormat   string
	preload     bool
	workers     int
	backend     string
	baseURL     string
	corsOrigins string
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&rootFlags{}) }

// newRootCmdWith builds the command tree bound to f.
func newRootCmdWith(f *rootFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "ocrd",
		Short:         "Document recognition service with on-demand model lifecycle",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Config file (.yaml, .json, .toml); defaults to OCRD_CONFIG")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults OCRD_LOG_LEVEL or info)")
	pf.StringVar(&f.logFormat, "log-format", "json", "Log format: json|console")
	pf.IntVar(&f.workers, "workers", 0, "Page workers (0 keeps the configured value)")
	pf.StringVar(&f.backend, "backend", "", "Backend mode: subprocess|remote|tesseract|stub")
	pf.StringVar(&f.baseURL, "base-url", "", "Model server URL for the remote backend")
	pf.BoolVar(&f.preload, "preload", false, "Load the model at startup; failure aborts")

	root.AddCommand(newServeCmd(f), newMCPCmd(f))
	return root
}

// loadConfig assembles configuration: defaults, file, environment, flags.
func loadConfig(cmd *cobra.Command, f *rootFlags) (config.Config, error) {
	path := f.configPath
	if path == "" {
		path = config.EnvConfigPath(os.Getenv)
	}
	cfg := config.Defaults()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := config.ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = f.addr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if flags.Changed("workers") {
		cfg.Workers = f.workers
	}
	if flags.Changed("backend") {
		cfg.Backend.Mode = f.backend
	}
	if flags.Changed("base-url") {
		cfg.Backend.BaseURL = f.baseURL
	}
	if flags.Changed("cors-origins") {
		cfg.CORS.Enabled = true
		cfg.CORS.AllowedOrigins = splitCSV(f.corsOrigins)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Output always goes to w so the tool
// surface can keep stdout for the protocol.
func newLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "ocrd").Logger()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
