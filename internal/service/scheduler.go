package service

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/broker"
	"mockstagram-data-pipeline/internal/config"
	"mockstagram-data-pipeline/internal/metrics"
	"mockstagram-data-pipeline/internal/registry"
	"mockstagram-data-pipeline/internal/scheduler"
)

// SchedulerService 调度服务：membership 消费者 + 分钟窗口调度器
type SchedulerService struct {
	config      *config.Config
	logger      *zap.Logger
	redisClient *redis.Client
	registry    *registry.Registry
	consumer    *registry.MembershipConsumer
	dispatcher  *scheduler.Dispatcher
}

// NewSchedulerService 创建调度服务
func NewSchedulerService(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*SchedulerService, error) {
	redisClient := broker.NewClient(&cfg.Redis)
	if err := broker.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	reg := registry.New()

	consumer := registry.NewMembershipConsumer(
		redisClient,
		reg,
		cfg.Streams.ActiveInfluencers,
		100,
		m,
		logger,
	)

	publisher := scheduler.NewStreamTaskPublisher(redisClient, cfg.Streams.FetchTasks)
	dispatcher := scheduler.NewDispatcher(reg, publisher, cfg.Scheduler.BatchSize, m, logger)

	return &SchedulerService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		registry:    reg,
		consumer:    consumer,
		dispatcher:  dispatcher,
	}, nil
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *SchedulerService) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler service components")

	// membership 消费者和调度器各占一个循环，通过注册表交接
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.consumer.Run(ctx)
	}()

	if err := s.dispatcher.Run(ctx); err != nil {
		return fmt.Errorf("dispatcher stopped: %w", err)
	}

	return <-errCh
}

// Stop 停止服务并释放连接
func (s *SchedulerService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler service")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	s.logger.Info("Scheduler service stopped")
	return nil
}
