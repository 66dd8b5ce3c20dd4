// Outreachd is the compliance-gated outbound campaign engine.
//
// This binary loads configuration, wires every engine service, runs the
// sequencer and policy watcher in the background, and serves the operator
// API over HTTP.
//
// Configuration is read from ~/.config/outreachd/config.yaml (or --config)
// and OUTREACHD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	outreachd
//
//	# Use an explicit config file
//	outreachd --config /etc/outreachd/config.yaml
//
//	# Override via environment
//	OUTREACHD_SERVER_HTTP_PORT=9292 OUTREACHD_STORE_BACKEND=memory outreachd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/config"
	"github.com/fyrsmithlabs/outreachd/internal/http"
	"github.com/fyrsmithlabs/outreachd/internal/logging"
	"github.com/fyrsmithlabs/outreachd/internal/services"
	"github.com/fyrsmithlabs/outreachd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/outreachd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  outreachd [--config path]   Start the outreachd daemon\n")
			fmt.Fprintf(os.Stderr, "  outreachd version           Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("outreachd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts outreachd and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Builds the service registry (store, counter, NATS, engine)
//  4. Starts background work (sequencer runner, policy watcher)
//  5. Serves the HTTP API until ctx is cancelled, then shuts down
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, &cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Observability.Shutdown.Timeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zl := logger.Underlying()

	zl.Info("Starting outreachd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("telemetry", cfg.Observability.Enabled),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))
	if health := tel.Health(); !health.Healthy {
		zl.Warn("telemetry degraded", zap.Strings("reasons", health.Reasons))
	}

	reg, err := services.Build(ctx, cfg, services.BuildOptions{
		Logger: zl,
		Meter:  tel.Meter("github.com/fyrsmithlabs/outreachd"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			zl.Warn("closing services", zap.Error(err))
		}
	}()

	srv, err := http.NewServer(services.HTTPDeps(cfg, reg), zl, &http.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	zl.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s/health", srv.Addr())),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 2)
	go func() {
		if err := reg.Run(ctx); err != nil {
			errCh <- fmt.Errorf("background services: %w", err)
		}
	}()
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		zl.Info("Shutdown signal received")
	case runErr = <-errCh:
		zl.Error("Fatal error, shutting down", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	return runErr
}

// initLogger builds the zap logger. With OTEL output on, records go to the
// global log provider.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	var provider otellog.LoggerProvider
	if cfg.Logging.Output.OTEL {
		provider = global.GetLoggerProvider()
	}
	return logging.NewLogger(&cfg.Logging, provider)
}
