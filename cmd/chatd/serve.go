package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatd/internal/events"
	"chatd/internal/httpapi"
	"chatd/internal/registry"
)

func newServeCmd(opts *options) *cobra.Command {
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: "  chatd serve --models-dir ~/models --default-model Qwen3-0.6B-Q8_0\n" +
			"  chatd serve -c chatd.yaml --log-format json",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)
			mgr, err := newManager(cfg, logger, events.Multi{httpapi.MetricsPublisher{}, logPublisher{log: logger}})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			httpapi.SetLogger(logger)
			httpapi.SetDefaultLogLevel(httpLogLevel(cfg.LogLevel))
			httpapi.SetBaseContext(ctx)
			httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
			httpapi.SetToolTimeout(toolTimeout(cfg))
			httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(mgr),
				ReadHeaderTimeout: 10 * time.Second,
			}
			if cfg.WatchModels {
				go func() {
					if err := registry.Watch(ctx, cfg.ModelsDir, registry.DefaultDebounce, logger, mgr.SetRegistry); err != nil {
						logger.Warn().Err(err).Msg("models watcher stopped")
					}
				}()
			}
			go func() {
				if err := mgr.Warmup(ctx); err != nil {
					logger.Error().Err(err).Str("model", cfg.DefaultModel).Msg("warmup failed")
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("chatd listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				_ = mgr.Close()
				return err
			case <-ctx.Done():
			}
			logger.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn().Err(err).Msg("graceful shutdown error")
			}
			return mgr.Close()
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Time allowed for in-flight requests on shutdown")
	return cmd
}

// httpLogLevel maps the process log level to per-request HTTP logging.
func httpLogLevel(level string) string {
	switch level {
	case "debug", "trace":
		return "debug"
	case "warn", "error", "fatal", "panic":
		return "error"
	default:
		return "info"
	}
}
