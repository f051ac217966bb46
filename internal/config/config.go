package config

import (
	"fmt"
	"os"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StreamsConfig Redis Streams 流名称配置
type StreamsConfig struct {
	ActiveInfluencers string // 活跃账号成员流（replay-from-origin）
	FetchTasks        string // 抓取任务流
	FetchResults      string // 抓取结果流
	FetcherDLQ        string // 抓取失败死信流
	ResultHandlerDLQ  string // 入库失败死信流
}

// SchedulerConfig 调度服务配置
type SchedulerConfig struct {
	BatchSize int // 每批任务数量
}

// FetcherConfig 抓取服务配置
type FetcherConfig struct {
	APIBaseURL     string        // mockstagram API 基础地址
	MaxRetries     int           // 最大重试次数（不含首次请求）
	RetryDelay     time.Duration // 重试基础延迟（线性递增：delay * attempt）
	RequestTimeout time.Duration
	ConsumerGroup  string
	ConsumerName   string
	ReadBatchSize  int64 // 每次 XREADGROUP 读取的消息数
}

// ResultHandlerConfig 结果处理服务配置
type ResultHandlerConfig struct {
	BatchSize     int           // 缓冲区达到该大小立即落库
	BatchTimeout  time.Duration // 首条消息入缓冲后最长等待时间
	ConsumerGroup string
	ConsumerName  string
	ReadBatchSize int64
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string
	Format string
}

// Config 数据管道配置（scheduler / fetcher / result-handler 共用）
type Config struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Streams       StreamsConfig
	Scheduler     SchedulerConfig
	Fetcher       FetcherConfig
	ResultHandler ResultHandlerConfig
	Metrics       MetricsConfig
	Log           LogConfig
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "mockstagram")
	cfg.Database.Password = getEnv("DB_PASSWORD", "mockstagram")
	cfg.Database.Database = getEnv("DB_NAME", "mockstagram")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Streams.ActiveInfluencers = getEnv("STREAM_ACTIVE_INFLUENCERS", "influencer:active:stream")
	cfg.Streams.FetchTasks = getEnv("STREAM_FETCH_TASKS", "influencer:tasks:stream")
	cfg.Streams.FetchResults = getEnv("STREAM_FETCH_RESULTS", "influencer:results:stream")
	cfg.Streams.FetcherDLQ = getEnv("STREAM_FETCHER_DLQ", "influencer:tasks:dlq")
	cfg.Streams.ResultHandlerDLQ = getEnv("STREAM_RESULT_HANDLER_DLQ", "influencer:results:dlq")

	cfg.Scheduler.BatchSize = getEnvInt("SCHEDULER_BATCH_SIZE", 100)

	cfg.Fetcher.APIBaseURL = getEnv("MOCKSTAGRAM_API_BASE_URL", "http://localhost:3500/api/v1")
	cfg.Fetcher.MaxRetries = getEnvInt("FETCHER_MAX_RETRIES", 3)
	cfg.Fetcher.RetryDelay = time.Duration(getEnvInt("FETCHER_RETRY_DELAY_MS", 1000)) * time.Millisecond
	cfg.Fetcher.RequestTimeout = time.Duration(getEnvInt("FETCHER_REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond
	cfg.Fetcher.ConsumerGroup = getEnv("FETCHER_CONSUMER_GROUP", "fetcher-group")
	cfg.Fetcher.ConsumerName = getEnv("FETCHER_CONSUMER_NAME", "")
	cfg.Fetcher.ReadBatchSize = int64(getEnvInt("FETCHER_READ_BATCH_SIZE", 10))

	cfg.ResultHandler.BatchSize = getEnvInt("RESULT_HANDLER_BATCH_SIZE", 100)
	cfg.ResultHandler.BatchTimeout = time.Duration(getEnvInt("RESULT_HANDLER_BATCH_TIMEOUT_MS", 1000)) * time.Millisecond
	cfg.ResultHandler.ConsumerGroup = getEnv("RESULT_HANDLER_CONSUMER_GROUP", "result-handler-group")
	cfg.ResultHandler.ConsumerName = getEnv("RESULT_HANDLER_CONSUMER_NAME", "")
	cfg.ResultHandler.ReadBatchSize = int64(getEnvInt("RESULT_HANDLER_READ_BATCH_SIZE", 100))

	cfg.Metrics.Enabled = getEnv("METRICS_ENABLED", "false") == "true"
	cfg.Metrics.Port = getEnvInt("METRICS_PORT", 9090)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}
