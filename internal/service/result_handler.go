package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/aggregator"
	"mockstagram-data-pipeline/internal/broker"
	"mockstagram-data-pipeline/internal/config"
	"mockstagram-data-pipeline/internal/database"
	"mockstagram-data-pipeline/internal/metrics"
	"mockstagram-data-pipeline/internal/repository"
)

// ResultHandlerService 结果处理服务：消费结果流并批量落库
type ResultHandlerService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	summaryRepo *repository.SummaryRepository
	aggregator  *aggregator.Aggregator
}

// NewResultHandlerService 创建结果处理服务
func NewResultHandlerService(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*ResultHandlerService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := broker.NewClient(&cfg.Redis)
	if err := broker.Ping(context.Background(), redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if cfg.ResultHandler.ConsumerName == "" {
		cfg.ResultHandler.ConsumerName = "result-handler-" + uuid.NewString()
	}

	summaryRepo := repository.NewSummaryRepository(db, logger)
	dlqPublisher := aggregator.NewStreamDeadLetterPublisher(redisClient, cfg.Streams.ResultHandlerDLQ)
	agg := aggregator.New(cfg, redisClient, summaryRepo, dlqPublisher, m, logger)

	return &ResultHandlerService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		summaryRepo: summaryRepo,
		aggregator:  agg,
	}, nil
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *ResultHandlerService) Start(ctx context.Context) error {
	s.logger.Info("Starting result handler service components")
	return s.aggregator.Run(ctx)
}

// Stop 停止服务并释放连接
func (s *ResultHandlerService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping result handler service")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Result handler service stopped")
	return nil
}
