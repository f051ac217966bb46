package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamMessage Redis Streams 消息
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// PublishJSONToStream 发布 JSON 消息到 Redis Streams
// key 对应 Kafka 的 message key（同一账号的消息保持可追溯）
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, key string, data interface{}) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"key":       key,
			"data":      string(jsonBytes),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}

	return id, nil
}

// CreateConsumerGroup 创建消费者组（组已存在视为正常）
func CreateConsumerGroup(ctx context.Context, client *redis.Client, stream string, groupName string) error {
	err := client.XGroupCreateMkStream(ctx, stream, groupName, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", groupName, stream, err)
	}
	return nil
}

// ReadGroup 以消费者组方式读取消息（XREADGROUP，最长阻塞 block）
func ReadGroup(ctx context.Context, client *redis.Client, stream string, group string, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return []StreamMessage{}, nil
		}
		return nil, err
	}

	return flatten(streams), nil
}

// ReadFrom 从指定 ID 开始读取消息（XREAD，用于从头重放 membership 流）
// 返回消息和下一次读取的起始 ID
func ReadFrom(ctx context.Context, client *redis.Client, stream string, lastID string, count int64, block time.Duration) ([]StreamMessage, string, error) {
	streams, err := client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return []StreamMessage{}, lastID, nil
		}
		return nil, lastID, err
	}

	messages := flatten(streams)
	if len(messages) > 0 {
		lastID = messages[len(messages)-1].ID
	}
	return messages, lastID, nil
}

// Ack 确认消息
func Ack(ctx context.Context, client *redis.Client, stream string, group string, messageID string) error {
	return client.XAck(ctx, stream, group, messageID).Err()
}

func flatten(streams []redis.XStream) []StreamMessage {
	var messages []StreamMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			messages = append(messages, StreamMessage{
				Stream: stream.Stream,
				ID:     msg.ID,
				Values: msg.Values,
			})
		}
	}
	return messages
}
