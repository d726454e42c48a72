package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/config"
	"github.com/sells-group/portfolio-metrics/internal/events"
	"github.com/sells-group/portfolio-metrics/internal/metrics"
	"github.com/sells-group/portfolio-metrics/internal/monitoring"
	"github.com/sells-group/portfolio-metrics/internal/notify"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the RevenueCat webhook, report API and metrics",
	Annotations: map[string]string{modeAnnotation: "serve"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		tm := telemetry.NewMetrics(metricsNamespace, reg)

		manager := notify.FromConfig(cfg.Notify, tm)
		for _, w := range startupWarnings(cfg, manager.HasNotifiers()) {
			zap.L().Warn(w)
		}

		proc := events.NewProcessor(st, st, manager, tm)
		collector := monitoring.NewCollector(st, sourceNames())

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(manager), cfg.Monitoring)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: newRouter(routerDeps{
				Aggregator:  metrics.NewAggregator(st, st),
				Webhook:     events.NewHandler(proc, cfg.Server.WebhookToken, tm),
				Metrics:     tm,
				Health:      collector,
				StaleAfter:  cfg.Monitoring.StaleAfterHours,
				CORSOrigins: cfg.Server.CORSOrigins,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// startupWarnings lists serve configurations that work but are unsafe or
// degraded.
func startupWarnings(c *config.Config, hasNotifiers bool) []string {
	var out []string
	if c.Server.WebhookToken == "" {
		out = append(out, "server.webhook_token is empty; the webhook accepts unauthenticated requests")
	}
	if !hasNotifiers {
		out = append(out, "no notifiers configured; webhook events are stored without notification")
	}
	return out
}
