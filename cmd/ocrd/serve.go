package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ocrd/internal/app"
	"ocrd/internal/httpapi"
	"ocrd/internal/model"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		Example: "  ocrd serve --config /etc/ocrd.yaml\n  PORT=7870 ocrd serve --backend remote --base-url http://gpu-host:8000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :7870 (defaults OCRD_ADDR or PORT)")
	cmd.Flags().StringVar(&f.corsOrigins, "cors-origins", "", "Comma-separated CORS origins; enables CORS")
	return cmd
}

func runServe(cmd *cobra.Command, f *rootFlags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	log := newLogger(os.Stderr, cfg.LogLevel, f.logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := svc.Close(cctx); err != nil {
			log.Error().Err(err).Msg("shutdown incomplete")
		}
	}()
	if f.preload {
		log.Info().Msg("preloading model")
		if err := svc.Preload(ctx); err != nil {
			if model.IsDependencyUnavailable(err) {
				log.Error().Str("backend", cfg.Backend.Mode).Msg("model backend dependency missing; check backend.command or build tags")
			}
			return err
		}
	}
	svc.Start(ctx)

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetDefaultLogLevel(cfg.LogLevel)
	httpapi.SetMaxBodyBytes(int64(cfg.MaxUploadMB)<<20 + 1<<20)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("backend", cfg.Backend.Mode).Msg("ocrd listening")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
