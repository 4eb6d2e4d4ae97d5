package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivan-digital/aquarius/internal/config"
	"github.com/ivan-digital/aquarius/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr != "" {
				rt.cfg.Server.Addr = addr
			}

			if err := rt.facade.Initialize(ctx); err != nil {
				return err
			}
			defer rt.facade.Shutdown()

			// Limits follow the config file while the server runs.
			if configPath != "" {
				watcher, err := config.NewWatcher(configPath, rt.logger, func(cfg *config.Config) {
					rt.facade.SetLimits(limitsFromConfig(cfg))
				})
				if err != nil {
					return err
				}
				defer watcher.Close()
			}

			srv := server.New(rt.facade,
				server.WithLogger(rt.logger),
				server.WithMetrics(rt.metrics),
			)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe(rt.cfg.Server.Addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			rt.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errCh
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}
