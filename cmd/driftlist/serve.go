package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftlist/internal/config"
	"github.com/driftsync/driftlist/internal/relay"
	"github.com/driftsync/driftlist/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.ListenAddr = addr
		}
		if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
			cfg.DBPath = dbPath
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var middleware []mux.MiddlewareFunc
		if cfg.TracingEnabled {
			shutdown, err := telemetry.InitJaeger("driftlist-relay", cfg.JaegerEndpoint)
			if err != nil {
				return fmt.Errorf("failed to init tracing: %w", err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					slog.Warn("failed to shut down tracing", "err", err)
				}
			}()
			middleware = append(middleware, telemetry.Middleware)
		}

		server, err := relay.NewServer(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}
		slog.Info("relay listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		return server.Run(ctx, cfg.ListenAddr, middleware...)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides DRIFTLIST_LISTEN_ADDR)")
	serveCmd.Flags().String("db", "", "sqlite path for room storage (overrides DRIFTLIST_DB_PATH)")
	rootCmd.AddCommand(serveCmd)
}
