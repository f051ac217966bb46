package aggregator

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/broker"
	"mockstagram-data-pipeline/internal/config"
	"mockstagram-data-pipeline/internal/metrics"
	"mockstagram-data-pipeline/internal/models"
)

// BatchStore 批次落库接口（SummaryRepository 实现；单元测试中用 fake 替换）
type BatchStore interface {
	ApplyBatch(ctx context.Context, results []models.FetchResult) (int, error)
}

// DeadLetterPublisher 死信发布接口
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, env *models.DeadLetterEnvelope) error
}

// StreamDeadLetterPublisher 基于 Redis Streams 的死信发布器
type StreamDeadLetterPublisher struct {
	redisClient *redis.Client
	stream      string
}

// NewStreamDeadLetterPublisher 创建死信发布器
func NewStreamDeadLetterPublisher(redisClient *redis.Client, stream string) *StreamDeadLetterPublisher {
	return &StreamDeadLetterPublisher{
		redisClient: redisClient,
		stream:      stream,
	}
}

// PublishDeadLetter 发布死信消息
func (p *StreamDeadLetterPublisher) PublishDeadLetter(ctx context.Context, env *models.DeadLetterEnvelope) error {
	_, err := broker.PublishJSONToStream(ctx, p.redisClient, p.stream, strconv.FormatInt(env.PK, 10), env)
	return err
}

// bufferedResult 缓冲区条目（消息 ID 用于落库成功后确认）
type bufferedResult struct {
	result    models.FetchResult
	messageID string
}

// Aggregator 结果聚合器
// 单循环独占缓冲区：达到 BatchSize 或首条入缓冲后超过 BatchTimeout 即落库。
// 落库超时不用独立定时器线程，而是折算进下一次流读取的阻塞时长，
// 保证缓冲区只被这一个循环触碰。坏消息单独死信，不污染批次；
// 整批落库失败回滚后整批死信（保留全部数据），然后照常确认
type Aggregator struct {
	config      *config.Config
	redisClient *redis.Client
	store       BatchStore
	dlq         DeadLetterPublisher
	metrics     *metrics.Metrics
	logger      *zap.Logger

	buffer   []bufferedResult
	deadline time.Time
}

// New 创建聚合器
func New(
	cfg *config.Config,
	redisClient *redis.Client,
	store BatchStore,
	dlq DeadLetterPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Aggregator {
	return &Aggregator{
		config:      cfg,
		redisClient: redisClient,
		store:       store,
		dlq:         dlq,
		metrics:     m,
		logger:      logger,
	}
}

// Run 启动消费循环（阻塞直到 ctx 取消）
// 取消时先把缓冲区里的在途批次落库再退出
func (a *Aggregator) Run(ctx context.Context) error {
	stream := a.config.Streams.FetchResults
	group := a.config.ResultHandler.ConsumerGroup
	consumer := a.config.ResultHandler.ConsumerName

	if err := broker.CreateConsumerGroup(ctx, a.redisClient, stream, group); err != nil {
		return err
	}

	a.logger.Info("Result aggregator started",
		zap.String("stream", stream),
		zap.String("consumer_group", group),
		zap.Int("batch_size", a.config.ResultHandler.BatchSize),
		zap.Duration("batch_timeout", a.config.ResultHandler.BatchTimeout),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			// 在途批次用独立的 context 完成，不受已取消的 ctx 影响
			a.drain()
			return nil
		default:
		}

		// 缓冲区非空时，阻塞时长不能越过落库期限
		block := 5 * time.Second
		if len(a.buffer) > 0 {
			remaining := time.Until(a.deadline)
			if remaining <= 0 {
				a.flush(ctx)
				continue
			}
			if remaining < block {
				block = remaining
			}
		}

		messages, err := broker.ReadGroup(ctx, a.redisClient, stream, group, consumer, a.config.ResultHandler.ReadBatchSize, block)
		if err != nil {
			if ctx.Err() != nil {
				a.drain()
				return nil
			}
			a.logger.Error("Failed to read result stream",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)

			select {
			case <-ctx.Done():
				a.drain()
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
			a.Ingest(ctx, msg)
		}

		if len(a.buffer) >= a.config.ResultHandler.BatchSize {
			a.flush(ctx)
		} else if len(a.buffer) > 0 && !time.Now().Before(a.deadline) {
			a.flush(ctx)
		}
	}
}

// Ingest 接收单条结果消息进缓冲区
// 解析失败的消息立即单独死信并确认，不进入缓冲区
func (a *Aggregator) Ingest(ctx context.Context, msg broker.StreamMessage) {
	if a.metrics != nil {
		a.metrics.ResultsConsumed.Inc()
	}

	result, err := models.ParseFetchResult(msg)
	if err != nil {
		a.logger.Error("Failed to parse fetch result",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		if a.metrics != nil {
			a.metrics.MalformedMessages.Inc()
		}

		raw, _ := msg.Values["data"].(string)
		a.deadLetter(ctx, &models.DeadLetterEnvelope{
			PK:    keyFromMessage(msg),
			Error: err.Error(),
			Data:  raw,
		})
		a.ack(ctx, msg.ID)
		return
	}

	if len(a.buffer) == 0 {
		a.deadline = time.Now().Add(a.config.ResultHandler.BatchTimeout)
	}
	a.buffer = append(a.buffer, bufferedResult{result: *result, messageID: msg.ID})
}

// flush 把缓冲区整批落库
// 成功后确认全部消息；失败则整批死信（保留每一条数据）后确认
func (a *Aggregator) flush(ctx context.Context) {
	if len(a.buffer) == 0 {
		return
	}

	batch := a.buffer
	a.buffer = nil

	results := make([]models.FetchResult, len(batch))
	for i, item := range batch {
		results[i] = item.result
	}

	start := time.Now()
	rows, err := a.store.ApplyBatch(ctx, results)
	duration := time.Since(start)

	if err != nil {
		a.logger.Error("Failed to commit batch, dead-lettering",
			zap.Int("batch_size", len(results)),
			zap.Error(err),
		)
		if a.metrics != nil {
			a.metrics.BatchesFailed.Inc()
		}

		failed := &models.FailedBatch{
			BatchSize: len(results),
			Items:     results,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		}
		data, marshalErr := json.Marshal(failed)
		if marshalErr != nil {
			a.logger.Error("Failed to marshal failed batch", zap.Error(marshalErr))
		}
		a.deadLetter(ctx, &models.DeadLetterEnvelope{
			PK:    -1,
			Error: err.Error(),
			Data:  string(data),
		})
	} else {
		if a.metrics != nil {
			a.metrics.BatchesCommitted.Inc()
			a.metrics.RowsCommitted.Add(float64(rows))
			a.metrics.FlushDuration.Observe(duration.Seconds())
		}
		a.logger.Info("Committed batch",
			zap.Int("batch_size", len(results)),
			zap.Int("rows_applied", rows),
			zap.Duration("duration", duration),
		)
	}

	// 落库成功和死信都算处理完成
	for _, item := range batch {
		a.ack(ctx, item.messageID)
	}
}

// drain 关闭前把在途批次落库
func (a *Aggregator) drain() {
	if len(a.buffer) == 0 {
		return
	}

	a.logger.Info("Flushing in-flight batch before shutdown",
		zap.Int("batch_size", len(a.buffer)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.flush(ctx)
}

// deadLetter 发布死信消息（失败只记录）
func (a *Aggregator) deadLetter(ctx context.Context, env *models.DeadLetterEnvelope) {
	if err := a.dlq.PublishDeadLetter(ctx, env); err != nil {
		a.logger.Error("Failed to publish to dead letter stream",
			zap.Int64("pk", env.PK),
			zap.Error(err),
		)
	}
}

// ack 确认消息（失败只记录）
func (a *Aggregator) ack(ctx context.Context, messageID string) {
	stream := a.config.Streams.FetchResults
	group := a.config.ResultHandler.ConsumerGroup
	if err := broker.Ack(ctx, a.redisClient, stream, group, messageID); err != nil {
		a.logger.Warn("Failed to ack result message",
			zap.String("message_id", messageID),
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
