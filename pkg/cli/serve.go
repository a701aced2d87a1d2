package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/modhub/pkg/api"
	"github.com/platinummonkey/modhub/pkg/observability"
	"github.com/platinummonkey/modhub/pkg/pipeline"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		schedule    string
		metricsAddr string
		noWatch     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the catalog fresh in the background and serve the control API",
		Long: `Refresh on a cron schedule, watch local sources for changes and serve
the JSON control API under /api/v1 plus Prometheus metrics on /metrics
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			p, err := a.open(ctx)
			if err != nil {
				return err
			}
			if metricsAddr == "" {
				metricsAddr = a.cfg.Observability.MetricsAddr
			}
			logger := a.logger

			tracingCfg := a.cfg.Observability.Tracing
			tracingCfg.ServiceVersion = a.version
			tp, err := observability.InitTracing(ctx, tracingCfg, logger)
			if err != nil {
				return err
			}

			if _, err := p.Refresh(ctx, false); err != nil {
				return err
			}

			scheduler, err := pipeline.NewScheduler(ctx, p, schedule, logger)
			if err != nil {
				return err
			}
			scheduler.Start()

			var watcher *pipeline.Watcher
			if !noWatch {
				watcher, err = pipeline.NewWatcher(p, logger)
				if err != nil {
					return err
				}
				srcs, err := p.Sources()
				if err != nil {
					return err
				}
				for _, src := range srcs {
					if !src.Enabled {
						continue
					}
					if err := watcher.Watch(src); err != nil {
						logger.WithField("source", src.Key()).WithError(err).Warn("Failed to watch source")
					}
				}
				go func() {
					defer observability.RecoverPanic(logger, "source watcher")
					if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.WithError(err).Error("Source watcher stopped")
					}
				}()
			}

			mux := http.NewServeMux()
			observability.RegisterMetricsEndpoint(mux, a.registry)
			mux.Handle("/", api.NewServer(p, logger))
			server := &http.Server{
				Addr:              metricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			shutdown := observability.NewShutdownManager(logger, server, 30*time.Second)
			shutdown.RegisterShutdownFunc("scheduler", func(context.Context) error {
				<-scheduler.Stop().Done()
				return nil
			})
			if watcher != nil {
				shutdown.RegisterShutdownFunc("watcher", func(context.Context) error {
					return watcher.Close()
				})
			}
			shutdown.RegisterShutdownFunc("tracing", func(ctx context.Context) error {
				return observability.ShutdownTracing(ctx, tp)
			})

			go func() {
				defer observability.RecoverPanic(logger, "http server")
				logger.WithField("addr", metricsAddr).Info("Serving control API and metrics")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("HTTP server failed")
					cancel()
				}
			}()

			return shutdown.WaitForShutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "@every 1h", "Cron schedule of background refreshes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Control API and metrics listen address; overrides MODHUB_METRICS_ADDR")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch local sources")
	return cmd
}
