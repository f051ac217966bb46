package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/metrics"
	"mockstagram-data-pipeline/internal/models"
	"mockstagram-data-pipeline/internal/registry"
)

// TaskPublisher 任务批次发布接口（单元测试中用 fake 替换 Redis）
type TaskPublisher interface {
	PublishTaskBatch(ctx context.Context, tasks []models.FetchTask) error
}

// Dispatcher 分钟窗口调度器
// 对齐 UTC 墙钟的分钟边界触发，每次 tick 为每个活跃账号产生一个抓取任务。
// tick 在同一个循环里串行执行，慢 tick 不会与下一次触发并发。
type Dispatcher struct {
	registry  *registry.Registry
	publisher TaskPublisher
	batchSize int
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewDispatcher 创建调度器
func NewDispatcher(
	reg *registry.Registry,
	publisher TaskPublisher,
	batchSize int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry:  reg,
		publisher: publisher,
		batchSize: batchSize,
		interval:  time.Minute,
		metrics:   m,
		logger:    logger,
	}
}

// NextBoundaryDelay 计算到下一个分钟边界（UTC :00 秒）的等待时间
func NextBoundaryDelay(now time.Time) time.Duration {
	return models.WindowStart(now).Add(time.Minute).Sub(now)
}

// Run 启动调度循环（阻塞直到 ctx 取消）
// 先等待到下一个分钟边界，之后每 60 秒触发一次
func (d *Dispatcher) Run(ctx context.Context) error {
	delay := NextBoundaryDelay(time.Now())
	d.logger.Info("Waiting for next minute boundary",
		zap.Duration("delay", delay),
	)

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(delay):
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("Dispatcher started",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	// 边界对齐后立即执行第一次 tick
	d.Tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			d.Tick(ctx, now)
		}
	}
}

// Tick 执行一次调度：快照注册表，按窗口生成任务并分批发布
// 空注册表是正常的 no-op；单个批次发布失败不影响其余批次
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) {
	start := time.Now()
	targetMinute := models.WindowStart(now)

	snapshot := d.registry.Snapshot()
	d.logger.Info("Starting dispatch tick",
		zap.Int("influencer_count", len(snapshot)),
		zap.Time("target_minute", targetMinute),
	)

	if len(snapshot) == 0 {
		d.logger.Info("No tasks to produce in this tick")
		return
	}

	tasks := make([]models.FetchTask, 0, len(snapshot))
	for _, influencer := range snapshot {
		tasks = append(tasks, models.FetchTask{
			PK:           influencer.PK,
			Username:     influencer.Username,
			TargetMinute: targetMinute,
		})
	}

	produced := 0
	failedBatches := 0
	for i, batch := range chunkTasks(tasks, d.batchSize) {
		if err := d.publisher.PublishTaskBatch(ctx, batch); err != nil {
			d.logger.Error("Failed to publish task batch",
				zap.Int("batch_number", i+1),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			failedBatches++
			if d.metrics != nil {
				d.metrics.TaskBatchesFailed.Inc()
			}
			continue
		}

		produced += len(batch)
		if d.metrics != nil {
			d.metrics.TasksProduced.Add(float64(len(batch)))
		}
	}

	duration := time.Since(start)
	if d.metrics != nil {
		d.metrics.TickDuration.Observe(duration.Seconds())
	}

	d.logger.Info("Dispatch tick completed",
		zap.Int("tasks_produced", produced),
		zap.Int("failed_batches", failedBatches),
		zap.Duration("duration", duration),
	)
}

// chunkTasks 将任务列表切分为固定大小的批次
func chunkTasks(tasks []models.FetchTask, size int) [][]models.FetchTask {
	if size <= 0 {
		size = len(tasks)
	}
	var batches [][]models.FetchTask
	for i := 0; i < len(tasks); i += size {
		end := i + size
		if end > len(tasks) {
			end = len(tasks)
		}
		batches = append(batches, tasks[i:end])
	}
	return batches
}
