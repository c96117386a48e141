package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"parking-status-backend/internal/api"
)

func newServeCmd(configPath *string) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live slot stream and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closer, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			defer closeQuietly(closer)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			go a.poller.Run(ctx)
			if cfg.Reaper.Enabled {
				a.reaper.Start(ctx)
				defer a.reaper.Stop()
			}

			if cfg.App.Environment != "development" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := api.NewRouter(ctx, a.handler(), api.RouterOptions{
				Server:  cfg.Server,
				Metrics: cfg.Metrics,
				Live:    a.hub.Handler(),
			})
			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("HTTP server: %w", err)
				}
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received, stopping services")
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("HTTP server shutdown: %w", err)
			}
			log.Info().Msg("server gracefully stopped")
			return nil
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "how long to wait for in-flight requests on shutdown")
	return cmd
}
