package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"actionguard/internal/server"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serves the JSON API for per-session classification, policy updates and audit queries. Press Ctrl+C to stop.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			metricsEndpoint := ""
			if a.cfg.Metrics.Enabled {
				metricsEndpoint = a.cfg.Metrics.Endpoint
			}
			srv := server.New(server.Config{
				Host:            a.cfg.Server.Host,
				Port:            a.cfg.Server.Port,
				AuthToken:       a.cfg.Server.AuthToken,
				MetricsEndpoint: metricsEndpoint,
				RateLimit:       a.cfg.Server.RateLimit,
				RateBurst:       a.cfg.Server.RateBurst,
				Version:         version,
				Logger:          logger,
				Sessions:        a.sessions,
				Audit:           a.store,
				Settings:        a.cfg,
				SettingsPath:    a.cfgPath,
			})
			if err := srv.Start(ctx); err != nil {
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}
