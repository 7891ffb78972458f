package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apiv1 "github.com/openreliefdata/datahub/internal/api/v1"
	"github.com/openreliefdata/datahub/internal/telemetry"
	"github.com/openreliefdata/datahub/internal/versions"
	"github.com/openreliefdata/datahub/pkg/cache"
	"github.com/openreliefdata/datahub/pkg/config"
	"github.com/openreliefdata/datahub/pkg/consolidate"
	"github.com/openreliefdata/datahub/pkg/fetch"
	"github.com/openreliefdata/datahub/pkg/httpclient"
	"github.com/openreliefdata/datahub/pkg/logger"
	"github.com/openreliefdata/datahub/pkg/normalize"
	"github.com/openreliefdata/datahub/pkg/quality"
	"github.com/openreliefdata/datahub/pkg/ratelimit"
	"github.com/openreliefdata/datahub/pkg/sources"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the data orchestration API server",
	Long: `Start the API server that fetches, caches, normalizes, and classifies data
from the configured providers.

The server requires a configuration file (--config) that declares the source
registry: one descriptor per provider with its endpoint, cache TTL, retry
budget, rate limit, reliability tier, and normalization transform.

See examples/config-orchestrator.yaml for a sample configuration.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	// Write timeout must cover a full fetch sequence of a slow source.
	serverWriteTimeout = 90 * time.Second
	serverIdleTimeout  = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides server.address from config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		logger.Fatalf("Failed to bind address flag: %v", err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		logger.Fatalf("Failed to bind config flag: %v", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		logger.Fatalf("Failed to mark config flag as required: %v", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger.Initialize(viper.GetBool("debug"))

	address := viper.GetString("address")
	configPath := viper.GetString("config")

	// Runtime components that config reloads must reach. They are nil until
	// initial wiring completes; the reload hook tolerates that because the
	// manager fires it on the initial load too.
	var (
		registry *sources.Registry
		limiter  *ratelimit.FixedWindow
	)

	manager, err := config.NewManager(configPath, config.WithOnReload(func(cfg *config.Config) {
		if registry == nil || limiter == nil {
			return
		}
		applyConfig(cfg, registry, limiter)
	}))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer func() {
		_ = manager.Close()
	}()

	cfg := manager.GetConfig()
	logger.Infof("Loaded configuration from %s (%d sources)", configPath, len(cfg.Sources))

	if address == "" {
		address = cfg.Server.Address
	}
	if address == "" {
		address = ":8080"
	}

	descriptors, err := cfg.Descriptors()
	if err != nil {
		return fmt.Errorf("invalid source configuration: %w", err)
	}
	registry, err = sources.NewRegistry(descriptors)
	if err != nil {
		return fmt.Errorf("failed to build source registry: %w", err)
	}

	store := cache.NewStore(cfg.Cache.Capacity)
	limiter = ratelimit.NewFixedWindow(cfg.Quotas())
	transport := httpclient.NewDefaultClient(
		cfg.HTTP.Timeout.Std(),
		httpclient.WithMaxResponseSize(cfg.HTTP.MaxResponseBytes),
	)

	provider, err := telemetry.NewProvider(cfg.Telemetry.Metrics.Enabled, versions.GetVersionInfo().Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(); err != nil {
			logger.Errorf("Failed to shut down telemetry: %v", err)
		}
	}()

	fetchMetrics, err := telemetry.NewFetchMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("failed to create fetch metrics: %w", err)
	}
	httpMetrics, err := telemetry.NewHTTPMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	samples := fetch.NewLatencyRecorder(fetch.DefaultSampleCapacity)
	executor := fetch.NewExecutor(registry, limiter, store, transport,
		fetch.WithBackoffDelays(cfg.Fetch.BaseDelay.Std(), cfg.Fetch.MaxDelay.Std()),
		fetch.WithMaxElapsed(cfg.Fetch.MaxElapsed.Std()),
		fetch.WithMetrics(fetchMetrics),
		fetch.WithLatencyRecorder(samples),
	)
	coordinator := fetch.NewCoordinator(executor, fetch.WithMaxConcurrent(cfg.Fetch.MaxConcurrent))

	specs, err := cfg.TransformSpecs()
	if err != nil {
		return fmt.Errorf("invalid transform configuration: %w", err)
	}
	normalizer, err := normalize.New(specs)
	if err != nil {
		return fmt.Errorf("failed to build normalizer: %w", err)
	}

	facade := consolidate.New(registry, coordinator, normalizer, quality.NewClassifier(), store)

	routes := apiv1.NewRoutes(registry, facade, limiter, store, samples)
	router := apiv1.NewServer(routes,
		apiv1.WithMiddlewares(httpMetrics.Middleware),
		apiv1.WithMetricsHandler(provider.Handler),
	)

	// Watch the config file so operators can toggle sources and adjust
	// quotas without a restart.
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go func() {
		if err := manager.WatchConfig(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Config watcher stopped: %v", err)
		}
	}()

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("Server listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("Shutting down server...")

	cancelWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Infof("Server shutdown complete")
	return nil
}

// applyConfig pushes a reloaded configuration into the running components.
// Only the enabled toggles and rate-limit quotas can change at runtime;
// adding a source requires a restart because its transform is wired at
// startup.
func applyConfig(cfg *config.Config, registry *sources.Registry, limiter *ratelimit.FixedWindow) {
	for _, sc := range cfg.Sources {
		if err := registry.SetEnabled(sc.ID, sc.Enabled); err != nil {
			logger.Warnf("Reload: skipping unknown source %s (restart required to add sources)", sc.ID)
			continue
		}
		limiter.SetQuota(sc.ID, sources.RateLimit{
			Requests: sc.RateLimit.Requests,
			Window:   sc.RateLimit.Window.Std(),
		})
	}
}
