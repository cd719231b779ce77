package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"

	"illustrationapi/internal/config"
	handlers "illustrationapi/internal/http/handler"
	tracing "illustrationapi/internal/otel"
	"illustrationapi/internal/service"
)

// @title Illustration Extraction API
// @version 1.0
// @description Extracts structured data from life insurance illustration page images.
// @BasePath /
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is auto-loaded; real environment variables take precedence
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, logger)
	if err != nil {
		logger.Error("tracing.init.failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	client, closeClient, visionErr := newVisionClient(ctx, cfg, logger)
	if visionErr != nil {
		// other routes keep serving; /api/extract answers CONFIG_ERROR
		logger.Error("vision.config.invalid", "provider", cfg.Vision.Provider, "error", visionErr)
	}
	defer closeClient()

	store := newTemplateStore(ctx, cfg, logger)
	defer store.close()

	archive := newArchive(ctx, cfg, logger)

	metrics, err := service.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("metrics.register.failed", "error", err)
		os.Exit(1)
	}

	var extractor service.ExtractionService
	if client != nil {
		extractor = service.NewExtractionService(client, store.repo, service.Options{
			Parallel: cfg.ParallelStages,
			Logger:   logger,
			Metrics:  metrics,
		})
	}

	app, err := newApp(cfg, handlers.Deps{
		Extract: handlers.ExtractDeps{
			Service:   extractor,
			ConfigErr: visionErr,
			Archive:   archive,
			Logger:    logger,
		},
		Health: store.health,
	}, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("metrics.register.failed", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(sctx); err != nil {
			logger.Error("server.shutdown.failed", "error", err)
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("server.start",
		"addr", addr,
		"vision_provider", cfg.Vision.Provider,
		"template_store", cfg.TemplateBackend(),
		"archive", archive != nil,
		"parallel_stages", cfg.ParallelStages,
	)
	if err := app.Listen(addr); err != nil {
		logger.Error("server.start.failed", "error", err)
		os.Exit(1)
	}
}
