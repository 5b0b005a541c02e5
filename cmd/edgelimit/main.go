package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edgelimit/internal/api"
	"edgelimit/internal/config"
	"edgelimit/internal/logger"
	"edgelimit/internal/models"
	"edgelimit/internal/observability"
	"edgelimit/internal/ratelimit"
	"edgelimit/internal/storage"
	"edgelimit/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	writeExample = flag.String("write-example", "", "Write an example configuration to this path and exit")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}
	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the bucket store
	store, err := initializeStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err, "type", cfg.Store.Type)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sweeper, ok := storage.AsSweeper(store); ok {
		go storage.RunSweeper(ctx, sweeper, cfg.Store.Database.SweepInterval)
	}

	guard, err := initializeGuard(cfg, store)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	handlers := api.NewHandlers(store, guard, ver)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	if cfg.Proxy.Upstream != "" {
		proxy, err := api.NewProxy(cfg.Proxy.Upstream)
		if err != nil {
			slog.Error("Failed to initialize proxy", "error", err, "upstream", cfg.Proxy.Upstream)
			os.Exit(1)
		}
		routeOpts = append(routeOpts, api.WithProxy(proxy))
		if cfg.RateLimit.Enabled {
			routeOpts = append(routeOpts, api.WithRateLimiter(guard.Middleware))
		}
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"store", cfg.Store.Type,
			"limit", cfg.RateLimit.Limit,
			"window", cfg.RateLimit.Window,
			"on_store_error", cfg.RateLimit.OnStoreError,
			"upstream", cfg.Proxy.Upstream,
		)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeStore creates the configured store and, when metrics are enabled,
// wraps it with instrumentation.
func initializeStore(cfg *models.Config) (storage.Store, error) {
	store, err := storage.NewFactory().Create(cfg.Store)
	if err != nil {
		return nil, err
	}
	if !cfg.Metrics.Enabled {
		return store, nil
	}
	instrumented, err := observability.NewInstrumentedStore(store, cfg.Store.Type)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to instrument store: %w", err)
	}
	return instrumented, nil
}

// initializeGuard builds the rate limit policy shared by the proxy middleware
// and the decision API defaults.
func initializeGuard(cfg *models.Config, store storage.Store) (*ratelimit.Guard, error) {
	rl := cfg.RateLimit

	mode, err := ratelimit.ParseFailureMode(rl.OnStoreError)
	if err != nil {
		return nil, err
	}

	var keyFunc ratelimit.KeyFunc
	switch rl.Identity.Strategy {
	case models.IdentityStrategyHeader:
		keyFunc = ratelimit.HeaderKey(rl.Identity.Header)
	default:
		keyFunc = ratelimit.ClientIP
	}

	opts := []ratelimit.GuardOption{ratelimit.WithStoreTimeout(rl.StoreTimeout)}
	if cfg.Metrics.Enabled {
		recorder, err := observability.NewRateLimitMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limit metrics: %w", err)
		}
		opts = append(opts, ratelimit.WithRecorder(recorder))
	}

	return ratelimit.NewGuard(ratelimit.GuardConfig{
		Limit:           rl.Limit,
		Window:          rl.Window,
		RefillRatePerMs: rl.RefillRatePerMs,
		KeyFunc:         keyFunc,
		StoreFactory:    func(*http.Request) storage.Store { return store },
		OnStoreError:    mode,
	}, opts...)
}
