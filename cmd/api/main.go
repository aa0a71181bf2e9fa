package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/civiclens/clover/config"
	"github.com/civiclens/clover/pkg/logging"
	"github.com/civiclens/clover/pkg/startup"
	"github.com/civiclens/clover/pkg/tracing"
	"github.com/civiclens/clover/pkg/tracing/exporters"
)

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, flush := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	defer flush()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		flush()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger ectologger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer shutdownTracing()

	app := newApp(cfg, logger)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&databaseDependency{app: app})
	boot.AddDependency(&redisDependency{app: app})
	boot.AddDependency(&kafkaDependency{app: app})
	boot.AddDependency(&storageDependency{app: app})
	boot.AddDependency(&serverDependency{app: app})

	if err := boot.Start(ctx); err != nil {
		return err
	}

	select {
	case err := <-app.serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return boot.Stop(shutdownCtx)
}

func setupTracing(ctx context.Context, cfg *config.Config) (func(), error) {
	if !cfg.TracingEnabled {
		return func() {}, nil
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}, nil
}
