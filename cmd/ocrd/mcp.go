package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"ocrd/internal/app"
	"ocrd/internal/mcp"
)

func newMCPCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the recognition tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			// stdout carries the protocol
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
				if err := svc.Preload(ctx); err != nil {
					return err
				}
			}
			svc.Start(ctx)
			err = mcp.New(svc, version, log).Run(ctx, &gomcp.StdioTransport{})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
