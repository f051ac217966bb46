package registry

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/broker"
	"mockstagram-data-pipeline/internal/metrics"
	"mockstagram-data-pipeline/internal/models"
)

// MembershipConsumer 消费 membership 流并维护注册表
// 每次进程启动都从流的起点（0-0）重放全部事件重建注册表，
// 之后持续跟踪新事件（XREAD 不用消费者组：每个实例都需要完整视图）
type MembershipConsumer struct {
	redisClient *redis.Client
	registry    *Registry
	stream      string
	batchSize   int64
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewMembershipConsumer 创建 membership 消费者
func NewMembershipConsumer(
	redisClient *redis.Client,
	reg *Registry,
	stream string,
	batchSize int64,
	m *metrics.Metrics,
	logger *zap.Logger,
) *MembershipConsumer {
	return &MembershipConsumer{
		redisClient: redisClient,
		registry:    reg,
		stream:      stream,
		batchSize:   batchSize,
		metrics:     m,
		logger:      logger,
	}
}

// Run 启动消费循环（阻塞直到 ctx 取消）
func (c *MembershipConsumer) Run(ctx context.Context) error {
	c.logger.Info("Membership consumer started, replaying from origin",
		zap.String("stream", c.stream),
	)

	lastID := "0-0"
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			messages, nextID, err := broker.ReadFrom(ctx, c.redisClient, c.stream, lastID, c.batchSize, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to read membership stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避
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

			// 成功时重置退避时间
			backoffDuration = time.Second
			lastID = nextID

			for _, msg := range messages {
				c.applyMessage(msg)
			}

			if c.metrics != nil {
				c.metrics.ActiveInfluencers.Set(float64(c.registry.Size()))
			}
		}
	}
}

// applyMessage 应用单条 membership 消息（解析失败记录但不中断重放）
func (c *MembershipConsumer) applyMessage(msg broker.StreamMessage) {
	event, err := models.ParseMembershipEvent(msg)
	if err != nil {
		c.logger.Error("Failed to parse membership event",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		if c.metrics != nil {
			c.metrics.MalformedMessages.Inc()
		}
		return
	}

	c.registry.Apply(*event)

	c.logger.Debug("Applied membership event",
		zap.Int64("pk", event.PK),
		zap.Bool("active", event.Active),
	)
}
