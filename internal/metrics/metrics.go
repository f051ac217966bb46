package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics 数据管道 Prometheus 指标集合
// 所有指标只做观测，不参与控制流
type Metrics struct {
	ActiveInfluencers prometheus.Gauge
	TasksProduced     prometheus.Counter
	TaskBatchesFailed prometheus.Counter
	TickDuration      prometheus.Histogram

	TasksConsumed   prometheus.Counter
	TasksSkipped    prometheus.Counter
	TasksFailed     prometheus.Counter
	APICallAttempts prometheus.Counter
	APICallDuration prometheus.Histogram
	ResultsProduced prometheus.Counter

	ResultsConsumed   prometheus.Counter
	MalformedMessages prometheus.Counter
	BatchesCommitted  prometheus.Counter
	BatchesFailed     prometheus.Counter
	RowsCommitted     prometheus.Counter
	FlushDuration     prometheus.Histogram
}

// New 创建并注册指标
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveInfluencers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_active_influencers",
			Help: "Current number of active influencers in the registry.",
		}),
		TasksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_tasks_produced_total",
			Help: "Fetch tasks published by the scheduler.",
		}),
		TaskBatchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_task_batches_failed_total",
			Help: "Task batches the scheduler failed to publish.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_tick_duration_seconds",
			Help:    "Duration of a scheduler dispatch tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		TasksConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_tasks_consumed_total",
			Help: "Fetch tasks consumed by the fetcher.",
		}),
		TasksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_tasks_skipped_total",
			Help: "Stale fetch tasks dropped without calling the API.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_tasks_failed_total",
			Help: "Fetch tasks dead-lettered after exhausting retries.",
		}),
		APICallAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_api_call_attempts_total",
			Help: "Individual mockstagram API call attempts, including retries.",
		}),
		APICallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_api_call_duration_seconds",
			Help:    "Latency of successful mockstagram API calls.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		ResultsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_results_produced_total",
			Help: "Fetch results published to the results stream.",
		}),
		ResultsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_results_consumed_total",
			Help: "Fetch results consumed by the result handler.",
		}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_malformed_messages_total",
			Help: "Messages dead-lettered individually because they failed to parse.",
		}),
		BatchesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_batches_committed_total",
			Help: "Result batches committed to the database.",
		}),
		BatchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_batches_failed_total",
			Help: "Result batches rolled back and dead-lettered.",
		}),
		RowsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_rows_committed_total",
			Help: "Timeline rows written by committed batches.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_flush_duration_seconds",
			Help:    "Duration of a batch flush transaction.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	registry.MustRegister(
		m.ActiveInfluencers,
		m.TasksProduced,
		m.TaskBatchesFailed,
		m.TickDuration,
		m.TasksConsumed,
		m.TasksSkipped,
		m.TasksFailed,
		m.APICallAttempts,
		m.APICallDuration,
		m.ResultsProduced,
		m.ResultsConsumed,
		m.MalformedMessages,
		m.BatchesCommitted,
		m.BatchesFailed,
		m.RowsCommitted,
		m.FlushDuration,
	)

	return m
}

// NewDefault 使用默认 Registry 创建指标
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// StartServer 启动 /metrics HTTP 服务（METRICS_ENABLED=true 时调用）
func StartServer(ctx context.Context, port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info("Starting metrics server", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
