package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"mockstagram-data-pipeline/internal/models"
)

// StreamTaskPublisher 把任务批次发布到 Redis Streams
// 一个批次在单个 pipeline 里提交，批次之间互不影响
type StreamTaskPublisher struct {
	redisClient *redis.Client
	stream      string
}

// NewStreamTaskPublisher 创建任务发布器
func NewStreamTaskPublisher(redisClient *redis.Client, stream string) *StreamTaskPublisher {
	return &StreamTaskPublisher{
		redisClient: redisClient,
		stream:      stream,
	}
}

// PublishTaskBatch 发布一个任务批次
func (p *StreamTaskPublisher) PublishTaskBatch(ctx context.Context, tasks []models.FetchTask) error {
	pipe := p.redisClient.Pipeline()

	for _, task := range tasks {
		jsonBytes, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task pk=%d: %w", task.PK, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]interface{}{
				"key":       strconv.FormatInt(task.PK, 10),
				"data":      string(jsonBytes),
				"timestamp": time.Now().Unix(),
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish task batch to %s: %w", p.stream, err)
	}
	return nil
}
