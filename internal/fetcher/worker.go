package fetcher

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/broker"
	"mockstagram-data-pipeline/internal/config"
	"mockstagram-data-pipeline/internal/metrics"
	"mockstagram-data-pipeline/internal/models"
)

// ResultPublisher 结果与死信发布接口（单元测试中用 fake 替换 Redis）
type ResultPublisher interface {
	PublishResult(ctx context.Context, result *models.FetchResult) error
	PublishFailed(ctx context.Context, failed *models.FailedTask) error
}

// StreamResultPublisher 基于 Redis Streams 的结果发布器
type StreamResultPublisher struct {
	redisClient  *redis.Client
	resultStream string
	dlqStream    string
}

// NewStreamResultPublisher 创建结果发布器
func NewStreamResultPublisher(redisClient *redis.Client, resultStream, dlqStream string) *StreamResultPublisher {
	return &StreamResultPublisher{
		redisClient:  redisClient,
		resultStream: resultStream,
		dlqStream:    dlqStream,
	}
}

// PublishResult 发布抓取结果
func (p *StreamResultPublisher) PublishResult(ctx context.Context, result *models.FetchResult) error {
	_, err := broker.PublishJSONToStream(ctx, p.redisClient, p.resultStream, strconv.FormatInt(result.PK, 10), result)
	return err
}

// PublishFailed 发布死信记录
func (p *StreamResultPublisher) PublishFailed(ctx context.Context, failed *models.FailedTask) error {
	_, err := broker.PublishJSONToStream(ctx, p.redisClient, p.dlqStream, strconv.FormatInt(failed.PK, 10), failed)
	return err
}

// Worker 抓取工作器
// 单循环逐条消费任务流：过期任务直接丢弃（计数），抓取成功发布结果，
// 重试耗尽发布死信。一条消息处理完（含重试）才读下一条
type Worker struct {
	config      *config.Config
	redisClient *redis.Client
	api         InfluencerAPI
	publisher   ResultPublisher
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewWorker 创建抓取工作器
func NewWorker(
	cfg *config.Config,
	redisClient *redis.Client,
	api InfluencerAPI,
	publisher ResultPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		config:      cfg,
		redisClient: redisClient,
		api:         api,
		publisher:   publisher,
		metrics:     m,
		logger:      logger,
	}
}

// Run 启动消费循环（阻塞直到 ctx 取消）
func (w *Worker) Run(ctx context.Context) error {
	stream := w.config.Streams.FetchTasks
	group := w.config.Fetcher.ConsumerGroup
	consumer := w.config.Fetcher.ConsumerName

	if err := broker.CreateConsumerGroup(ctx, w.redisClient, stream, group); err != nil {
		return err
	}

	w.logger.Info("Fetch worker started",
		zap.String("stream", stream),
		zap.String("consumer_group", group),
		zap.String("consumer_name", consumer),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			messages, err := broker.ReadGroup(ctx, w.redisClient, stream, group, consumer, w.config.Fetcher.ReadBatchSize, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("Failed to read task stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
				continue
			}

			backoffDuration = time.Second

			for _, msg := range messages {
				w.Handle(ctx, msg)

				// 丢弃、死信、成功都算处理完成，统一确认
				if err := broker.Ack(ctx, w.redisClient, stream, group, msg.ID); err != nil {
					w.logger.Warn("Failed to ack task message",
						zap.String("message_id", msg.ID),
						zap.Error(err),
					)
				}
			}
		}
	}
}

// Handle 处理单条任务消息
func (w *Worker) Handle(ctx context.Context, msg broker.StreamMessage) {
	if w.metrics != nil {
		w.metrics.TasksConsumed.Inc()
	}

	task, err := models.ParseFetchTask(msg)
	if err != nil {
		// 坏消息单独死信，不影响其他任务
		w.logger.Error("Failed to parse fetch task",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		if w.metrics != nil {
			w.metrics.MalformedMessages.Inc()
		}
		w.deadLetter(ctx, &models.FailedTask{
			PK:    keyFromMessage(msg),
			Error: err.Error(),
		})
		return
	}

	// 目标窗口已过或未到的任务不再有意义，丢弃并计数，不进死信
	if !models.InWindow(task.TargetMinute, time.Now()) {
		w.logger.Debug("Task target minute outside current window, skipping",
			zap.Int64("pk", task.PK),
			zap.Time("target_minute", task.TargetMinute),
		)
		if w.metrics != nil {
			w.metrics.TasksSkipped.Inc()
		}
		return
	}

	data, err := w.api.FetchInfluencer(ctx, task.PK)
	if err != nil {
		w.logger.Error("Failed to fetch influencer data",
			zap.Int64("pk", task.PK),
			zap.Error(err),
		)
		if w.metrics != nil {
			w.metrics.TasksFailed.Inc()
		}
		w.deadLetter(ctx, &models.FailedTask{
			PK:           task.PK,
			TargetMinute: task.TargetMinute,
			Error:        err.Error(),
		})
		return
	}

	result := &models.FetchResult{
		PK:            task.PK,
		Username:      data.Username,
		FollowerCount: data.FollowerCount,
		FetchedAt:     time.Now().UTC(),
		TargetMinute:  data.TargetMinute,
	}
	if result.Username == "" {
		result.Username = task.Username
	}
	if result.TargetMinute.IsZero() {
		result.TargetMinute = task.TargetMinute
	}

	if err := w.publisher.PublishResult(ctx, result); err != nil {
		w.logger.Error("Failed to publish fetch result",
			zap.Int64("pk", task.PK),
			zap.Error(err),
		)
		if w.metrics != nil {
			w.metrics.TasksFailed.Inc()
		}
		w.deadLetter(ctx, &models.FailedTask{
			PK:           task.PK,
			TargetMinute: task.TargetMinute,
			Error:        err.Error(),
		})
		return
	}

	if w.metrics != nil {
		w.metrics.ResultsProduced.Inc()
	}
}

// deadLetter 发布死信记录（失败只记录，管道不中断）
func (w *Worker) deadLetter(ctx context.Context, failed *models.FailedTask) {
	if err := w.publisher.PublishFailed(ctx, failed); err != nil {
		w.logger.Error("Failed to publish to dead letter stream",
			zap.Int64("pk", failed.PK),
			zap.Error(err),
		)
	}
}

// keyFromMessage 从消息的 key 字段恢复 pk（解析失败返回 -1）
func keyFromMessage(msg broker.StreamMessage) int64 {
	if keyStr, ok := msg.Values["key"].(string); ok {
		if pk, err := strconv.ParseInt(keyStr, 10, 64); err == nil {
			return pk
		}
	}
	return -1
}
