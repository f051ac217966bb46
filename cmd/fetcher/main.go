package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/config"
	"mockstagram-data-pipeline/internal/logger"
	"mockstagram-data-pipeline/internal/metrics"
	"mockstagram-data-pipeline/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level, cfg.Log.Format, "fetcher")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting fetcher service",
		zap.String("task_stream", cfg.Streams.FetchTasks),
		zap.String("result_stream", cfg.Streams.FetchResults),
		zap.String("dlq_stream", cfg.Streams.FetcherDLQ),
		zap.String("api_base_url", cfg.Fetcher.APIBaseURL),
		zap.Int("max_retries", cfg.Fetcher.MaxRetries),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewDefault()
		metrics.StartServer(ctx, cfg.Metrics.Port, zapLogger)
	}

	fetcherService, err := service.NewFetcherService(cfg, m, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create fetcher service", zap.Error(err))
	}

	go func() {
		if err := fetcherService.Start(ctx); err != nil {
			zapLogger.Fatal("Failed to start fetcher service", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	cancel()
	if err := fetcherService.Stop(ctx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
