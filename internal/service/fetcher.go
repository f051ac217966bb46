package service

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/broker"
	"mockstagram-data-pipeline/internal/config"
	"mockstagram-data-pipeline/internal/fetcher"
	"mockstagram-data-pipeline/internal/metrics"
)

// FetcherService 抓取服务
type FetcherService struct {
	config      *config.Config
	logger      *zap.Logger
	redisClient *redis.Client
	worker      *fetcher.Worker
}

// NewFetcherService 创建抓取服务
func NewFetcherService(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*FetcherService, error) {
	redisClient := broker.NewClient(&cfg.Redis)
	if err := broker.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 消费者名称未配置时生成唯一名称，支持水平扩展多副本
	if cfg.Fetcher.ConsumerName == "" {
		cfg.Fetcher.ConsumerName = "fetcher-" + uuid.NewString()
	}

	apiClient := fetcher.NewAPIClient(&cfg.Fetcher, m, logger)
	publisher := fetcher.NewStreamResultPublisher(redisClient, cfg.Streams.FetchResults, cfg.Streams.FetcherDLQ)
	worker := fetcher.NewWorker(cfg, redisClient, apiClient, publisher, m, logger)

	return &FetcherService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		worker:      worker,
	}, nil
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *FetcherService) Start(ctx context.Context) error {
	s.logger.Info("Starting fetcher service components")
	return s.worker.Run(ctx)
}

// Stop 停止服务并释放连接
func (s *FetcherService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping fetcher service")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	s.logger.Info("Fetcher service stopped")
	return nil
}
