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

	zapLogger, err := logger.New(cfg.Log.Level, cfg.Log.Format, "result-handler")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting result handler service",
		zap.String("result_stream", cfg.Streams.FetchResults),
		zap.String("dlq_stream", cfg.Streams.ResultHandlerDLQ),
		zap.Int("batch_size", cfg.ResultHandler.BatchSize),
		zap.Duration("batch_timeout", cfg.ResultHandler.BatchTimeout),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewDefault()
		metrics.StartServer(ctx, cfg.Metrics.Port, zapLogger)
	}

	resultHandlerService, err := service.NewResultHandlerService(cfg, m, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create result handler service", zap.Error(err))
	}

	go func() {
		if err := resultHandlerService.Start(ctx); err != nil {
			zapLogger.Fatal("Failed to start result handler service", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	cancel()
	if err := resultHandlerService.Stop(ctx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
