package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docutag/curator/api"
	"github.com/docutag/curator/config"
	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/tracing"
)

const shutdownTimeout = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configPath := flag.String("config", getEnv("CURATOR_CONFIG", "curator.yaml"), "Path to the YAML config file")
	port := flag.String("port", "", "Server port (overrides config)")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *disableCORS {
		cfg.Server.CORSEnabled = false
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("curator service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// run serves until ctx is cancelled, then drains requests
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, err := tracing.InitTracer(ctx, "docutag-curator")
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("tracer shutdown", "error", err)
			}
		}()
	}

	serverConfig := api.Config{
		Addr:             ":" + cfg.Server.Port,
		DBConfig:         cfg.DBConfig(),
		StoragePath:      cfg.Storage.Path,
		ClassifierConfig: cfg.ClassifierConfig(),
		CuratorConfig:    cfg.CuratorConfig(),
		HealthConfig:     cfg.HealthConfig(),
		CORSEnabled:      cfg.Server.CORSEnabled,
		Logger:           logger,
	}
	snapshots := "filesystem"
	if cfg.UseS3() {
		s3 := cfg.S3Config()
		serverConfig.S3 = &s3
		snapshots = "s3"
	}

	server, err := api.NewServer(ctx, serverConfig)
	if err != nil {
		return err
	}
	if err := metrics.RegisterDBStats(server.DB().DB(), "curator"); err != nil {
		logger.Warn("database metrics disabled", "error", err)
	}

	logger.Info("curator service starting",
		"port", cfg.Server.Port,
		"database_driver", cfg.Database.Driver,
		"snapshots", snapshots,
		"ai_backend", cfg.AI.Backend,
		"ai_model", cfg.AI.Model,
		"max_categories", cfg.Curator.MaxCategories,
		"batch_size", cfg.Curator.BatchSize,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
