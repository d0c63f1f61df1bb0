package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ojulabs/oju/internal/alerts"
	"github.com/ojulabs/oju/internal/config"
	"github.com/ojulabs/oju/internal/metrics"
	"github.com/ojulabs/oju/internal/monitor"
	"github.com/ojulabs/oju/internal/notify"
	"github.com/ojulabs/oju/internal/schedule"
	"github.com/ojulabs/oju/internal/store"
	"github.com/ojulabs/oju/internal/telemetry"
	"github.com/ojulabs/oju/internal/web"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 120 * time.Second
	defaultConfigPath = "/etc/oju/config.yaml"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the monitoring service with web UI and /metrics",
	Long: `Start oju as a long-running monitoring service.

Runs the scheduled monitoring, reputation and cleanup jobs and serves
results over HTTP.

Endpoints:
  /                  Active alerts web UI
  /metrics           Prometheus scrape endpoint
  /healthz           Liveness probe (returns 503 if the last run is stale)
  /api/v1/alerts     Active alerts as JSON (?kind= and ?severity= filters)
  /api/v1/platforms  Monitored platforms as JSON`,
	Example: `  # Run with default config
  oju monitor

  # Run with custom config file
  oju monitor --config /etc/oju/config.yaml

  # Override listen address and database path
  oju monitor --listen :9090 --db /var/lib/oju/oju.db

  # Run with JSON logging for log aggregation
  oju monitor --log-format json --log-level debug`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().String("config", defaultConfigPath, "Path to config file")
	monitorCmd.Flags().String("listen", "", "Listen address (overrides config)")
	monitorCmd.Flags().String("db", "", "Path to SQLite database (overrides config)")
	monitorCmd.Flags().String("media-dir", "", "Directory for page captures (overrides config)")
}

// loadConfig reads the --config flag and loads the file. The default path
// is allowed to be absent; an explicit path that does not exist is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg := config.Defaults()
	if cfgPath != "" {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return nil, fmt.Errorf("loading config: %w", err)
			}
		} else if cfgPath != defaultConfigPath {
			// Non-default path that doesn't exist is an error
			return nil, fmt.Errorf("config file not found: %s", cfgPath)
		}
	}
	return cfg, nil
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Flag overrides
	listenFlag, _ := cmd.Flags().GetString("listen") //nolint:errcheck // flag registered above
	if listenFlag != "" {
		cfg.ListenAddr = listenFlag
	}
	dbFlag, _ := cmd.Flags().GetString("db") //nolint:errcheck // flag registered above
	if dbFlag != "" {
		cfg.DatabasePath = dbFlag
	}
	mediaFlag, _ := cmd.Flags().GetString("media-dir") //nolint:errcheck // flag registered above
	if mediaFlag != "" {
		cfg.MediaDir = mediaFlag
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close() //nolint:errcheck // best-effort cleanup on shutdown

	settings := config.NewSettingsService(st, cfg.SettingsTTL)

	// Notification fan-out. Each leg is nil when not configured; Close
	// drains the mail queue before the store defer closes the database.
	mailer := notify.NewMailer(cfg.SMTP, st)
	rtir := notify.NewRTIR(cfg.RTIR)
	dispatcher := notify.NewDispatcher(mailer, rtir, settings)
	defer dispatcher.Close()

	machine := alerts.NewMachine(st, dispatcher)

	// Initialize tracing
	otelEndpoint, _ := cmd.Flags().GetString("otel-endpoint") //nolint:errcheck // flag registered above
	tracer, tracerShutdown, tracerErr := telemetry.InitTracer(context.Background(), otelEndpoint, "oju", version)
	if tracerErr != nil {
		slog.Warn("initializing tracer", "err", tracerErr)
	} else {
		defer tracerShutdown(context.Background()) //nolint:errcheck // best-effort flush
	}

	engine := monitor.NewEngine(st, settings, machine, dispatcher, cfg, monitor.WithTracer(tracer))

	// Prometheus metrics
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// Shared state: start of the last completed run, read by /healthz and the UI
	var mu sync.RWMutex
	var lastRun time.Time

	getLastRun := func() time.Time {
		mu.RLock()
		defer mu.RUnlock()
		return lastRun
	}

	s, err := settings.Get()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	if err := schedule.SyncTasks(st, s); err != nil {
		return fmt.Errorf("syncing task rows: %w", err)
	}
	scanEvery := time.Duration(s.Configuration.ScanFrequencyS) * time.Second

	jobs := map[string]schedule.Job{
		schedule.TaskMonitor: func(ctx context.Context) error {
			report, runErr := engine.Run(ctx)
			if runErr != nil {
				return runErr
			}
			mu.Lock()
			lastRun = report.StartedAt
			mu.Unlock()

			active, loadErr := st.ActiveAlerts()
			if loadErr != nil {
				slog.Error("monitor: loading alerts for metrics", "err", loadErr)
				return nil
			}
			collector.Update(report, active)
			return nil
		},
		schedule.TaskVTScan: func(ctx context.Context) error {
			if _, vtErr := engine.RunVT(ctx); vtErr != nil {
				return vtErr
			}
			// Reputation verdicts change alert counts between monitor runs.
			active, loadErr := st.ActiveAlerts()
			if loadErr != nil {
				slog.Error("monitor: loading alerts for metrics", "err", loadErr)
				return nil
			}
			collector.Update(nil, active)
			return nil
		},
		schedule.TaskCleanup: schedule.Cleanup(st),
	}
	scheduler := schedule.NewScheduler(st, jobs)

	// HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/", web.UIHandler(st.ActiveAlerts, getLastRun))
	mux.HandleFunc("/healthz", web.HealthzHandler(getLastRun, 2*scanEvery))
	mux.HandleFunc("/api/v1/alerts", web.AlertsHandler(st.ActiveAlerts))
	mux.HandleFunc("/api/v1/platforms", web.PlatformsHandler(st.ActivePlatforms))
	mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	// Run the first sweep synchronously so the UI and /healthz have data
	// before the first timer tick.
	scheduler.Fire(schedule.TaskMonitor)

	srvErr := make(chan error, 1)
	go func() {
		slog.Info("monitor: listening", "version", version, "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		scheduler.Stop()
		return err
	}
	slog.Info("monitor: shutting down")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("monitor: shutdown complete")
	return nil
}
