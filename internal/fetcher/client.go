package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/config"
	"mockstagram-data-pipeline/internal/metrics"
)

// InfluencerData mockstagram API 返回的账号数据
type InfluencerData struct {
	PK            int64     `json:"pk"`
	Username      string    `json:"username"`
	FollowerCount int64     `json:"followerCount"`
	TargetMinute  time.Time `json:"targetMinuteTimestamp"`
}

// InfluencerAPI 外部数据源接口（单元测试中用 fake 替换）
type InfluencerAPI interface {
	FetchInfluencer(ctx context.Context, pk int64) (*InfluencerData, error)
}

// APIClient mockstagram API 客户端
// 失败后有界重试：最多 maxRetries 次额外尝试，延迟线性递增（retryDelay * 第几次重试）
type APIClient struct {
	httpClient *resty.Client
	maxRetries int
	retryDelay time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewAPIClient 创建 API 客户端
func NewAPIClient(cfg *config.FetcherConfig, m *metrics.Metrics, logger *zap.Logger) *APIClient {
	client := resty.New().
		SetBaseURL(cfg.APIBaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "application/json")

	return &APIClient{
		httpClient: client,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		metrics:    m,
		logger:     logger,
	}
}

// FetchInfluencer 抓取单个账号的当前数据
// 传输错误和非 2xx 响应走同一套重试预算；重试之间检查 ctx，
// 永久失败的账号恰好产生 maxRetries+1 次请求后返回错误
func (c *APIClient) FetchInfluencer(ctx context.Context, pk int64) (*InfluencerData, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		if c.metrics != nil {
			c.metrics.APICallAttempts.Inc()
		}

		start := time.Now()
		var data InfluencerData
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetResult(&data).
			Get(fmt.Sprintf("/influencers/%d", pk))

		if err == nil && resp.IsSuccess() {
			duration := time.Since(start)
			if c.metrics != nil {
				c.metrics.APICallDuration.Observe(duration.Seconds())
			}
			c.logger.Debug("Fetched influencer data",
				zap.Int64("pk", pk),
				zap.Duration("duration", duration),
			)
			return &data, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode())
		}

		c.logger.Warn("API call failed",
			zap.Int64("pk", pk),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)

		if attempt > c.maxRetries {
			break
		}

		// 线性退避：delay * 第 attempt 次
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}

	return nil, fmt.Errorf("failed to fetch influencer %d after %d attempts: %w", pk, c.maxRetries+1, lastErr)
}
