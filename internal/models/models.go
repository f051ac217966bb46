package models

import (
	"encoding/json"
	"fmt"
	"time"

	"mockstagram-data-pipeline/internal/broker"
)

// Influencer 活跃账号注册表条目（membership 事件同结构）
type Influencer struct {
	PK       int64  `json:"pk"`
	Username string `json:"username,omitempty"`
	Active   bool   `json:"active"`
}

// FetchTask 单个账号在单个分钟窗口的抓取任务
type FetchTask struct {
	PK           int64     `json:"pk"`
	Username     string    `json:"username,omitempty"`
	TargetMinute time.Time `json:"target_minute_timestamp"`
}

// FetchResult 抓取成功的结果
type FetchResult struct {
	PK            int64     `json:"pk"`
	Username      string    `json:"username"`
	FollowerCount int64     `json:"followerCount"`
	FetchedAt     time.Time `json:"fetchTimestamp"`
	TargetMinute  time.Time `json:"targetMinuteTimestamp"`
}

// FailedTask 重试耗尽后进入抓取死信流的记录
type FailedTask struct {
	PK           int64     `json:"pk"`
	TargetMinute time.Time `json:"targetMinuteTimestamp"`
	Error        string    `json:"error"`
}

// FailedBatch 落库失败后整批进入死信流的记录（保留全部数据用于重放）
type FailedBatch struct {
	BatchSize int           `json:"batchSize"`
	Items     []FetchResult `json:"items"`
	Error     string        `json:"error"`
	Timestamp time.Time     `json:"timestamp"`
}

// DeadLetterEnvelope 落库死信流的外层消息格式
type DeadLetterEnvelope struct {
	PK    int64  `json:"pk"`
	Error string `json:"error"`
	Data  string `json:"data"`
}

// 从 Stream 消息提取 data 字段
func dataField(msg broker.StreamMessage) ([]byte, error) {
	dataStr, ok := msg.Values["data"].(string)
	if !ok || dataStr == "" {
		return nil, fmt.Errorf("message %s has no data field", msg.ID)
	}
	return []byte(dataStr), nil
}

// ParseMembershipEvent 解析 membership 事件消息
func ParseMembershipEvent(msg broker.StreamMessage) (*Influencer, error) {
	data, err := dataField(msg)
	if err != nil {
		return nil, err
	}

	var event Influencer
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse membership event: %w", err)
	}
	if event.PK <= 0 {
		return nil, fmt.Errorf("invalid membership event: missing pk")
	}
	return &event, nil
}

// ParseFetchTask 解析抓取任务消息
func ParseFetchTask(msg broker.StreamMessage) (*FetchTask, error) {
	data, err := dataField(msg)
	if err != nil {
		return nil, err
	}

	var task FetchTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to parse fetch task: %w", err)
	}
	if task.PK <= 0 {
		return nil, fmt.Errorf("invalid fetch task: missing pk")
	}
	if task.TargetMinute.IsZero() {
		return nil, fmt.Errorf("invalid fetch task: missing target_minute_timestamp")
	}
	return &task, nil
}

// ParseFetchResult 解析抓取结果消息
func ParseFetchResult(msg broker.StreamMessage) (*FetchResult, error) {
	data, err := dataField(msg)
	if err != nil {
		return nil, err
	}

	var result FetchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse fetch result: %w", err)
	}
	if result.PK <= 0 {
		return nil, fmt.Errorf("invalid fetch result: missing pk")
	}
	if result.FetchedAt.IsZero() {
		return nil, fmt.Errorf("invalid fetch result: missing fetchTimestamp")
	}
	return &result, nil
}
