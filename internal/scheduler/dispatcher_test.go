package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/models"
	"mockstagram-data-pipeline/internal/registry"
)

// fakePublisher 记录发布的批次，可按批次序号注入失败
type fakePublisher struct {
	mu          sync.Mutex
	batches     [][]models.FetchTask
	failBatches map[int]bool // 第 N 次调用（从 0 开始）返回错误
	calls       int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failBatches: make(map[int]bool)}
}

func (f *fakePublisher) PublishTaskBatch(ctx context.Context, tasks []models.FetchTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := f.calls
	f.calls++
	if f.failBatches[call] {
		return errors.New("publish failed")
	}

	batch := make([]models.FetchTask, len(tasks))
	copy(batch, tasks)
	f.batches = append(f.batches, batch)
	return nil
}

func newTestDispatcher(reg *registry.Registry, publisher TaskPublisher, batchSize int) *Dispatcher {
	return NewDispatcher(reg, publisher, batchSize, nil, zap.NewNop())
}

func TestTick_ProducesOneTaskPerInfluencer(t *testing.T) {
	reg := registry.New()
	reg.Apply(models.Influencer{PK: 1, Username: "a", Active: true})
	reg.Apply(models.Influencer{PK: 2, Username: "b", Active: true})

	publisher := newFakePublisher()
	d := newTestDispatcher(reg, publisher, 100)

	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	d.Tick(context.Background(), now)

	require.Len(t, publisher.batches, 1)
	batch := publisher.batches[0]
	require.Len(t, batch, 2)

	expected := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	seen := make(map[int64]models.FetchTask)
	for _, task := range batch {
		seen[task.PK] = task
		assert.Equal(t, expected, task.TargetMinute)
	}
	assert.Equal(t, "a", seen[1].Username)
	assert.Equal(t, "b", seen[2].Username)
}

func TestTick_FloorsToMinute(t *testing.T) {
	reg := registry.New()
	reg.Apply(models.Influencer{PK: 1, Active: true})

	publisher := newFakePublisher()
	d := newTestDispatcher(reg, publisher, 100)

	// tick 在 :37.5 秒触发仍然落在 :00 的窗口
	now := time.Date(2024, 1, 1, 12, 34, 37, 500000000, time.UTC)
	d.Tick(context.Background(), now)

	require.Len(t, publisher.batches, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 34, 0, 0, time.UTC), publisher.batches[0][0].TargetMinute)
}

func TestTick_EmptyRegistryIsNoOp(t *testing.T) {
	publisher := newFakePublisher()
	d := newTestDispatcher(registry.New(), publisher, 100)

	d.Tick(context.Background(), time.Now())

	assert.Empty(t, publisher.batches)
	assert.Equal(t, 0, publisher.calls)
}

func TestTick_ChunksIntoBatches(t *testing.T) {
	reg := registry.New()
	for pk := int64(1); pk <= 250; pk++ {
		reg.Apply(models.Influencer{PK: pk, Active: true})
	}

	publisher := newFakePublisher()
	d := newTestDispatcher(reg, publisher, 100)

	d.Tick(context.Background(), time.Now())

	require.Len(t, publisher.batches, 3)
	total := 0
	for _, batch := range publisher.batches {
		assert.LessOrEqual(t, len(batch), 100)
		total += len(batch)
	}
	assert.Equal(t, 250, total)
}

func TestTick_FailedBatchDoesNotBlockOthers(t *testing.T) {
	reg := registry.New()
	for pk := int64(1); pk <= 250; pk++ {
		reg.Apply(models.Influencer{PK: pk, Active: true})
	}

	publisher := newFakePublisher()
	publisher.failBatches[1] = true // 第二个批次发布失败
	d := newTestDispatcher(reg, publisher, 100)

	d.Tick(context.Background(), time.Now())

	// 其余两个批次照常发布
	require.Len(t, publisher.batches, 2)
	assert.Equal(t, 3, publisher.calls)
}

func TestChunkTasks(t *testing.T) {
	tasks := make([]models.FetchTask, 5)
	for i := range tasks {
		tasks[i] = models.FetchTask{PK: int64(i + 1)}
	}

	batches := chunkTasks(tasks, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)

	assert.Len(t, chunkTasks(nil, 2), 0)
	assert.Len(t, chunkTasks(tasks, 10), 1)
}

func TestNextBoundaryDelay(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 45, 0, time.UTC)
	assert.Equal(t, 15*time.Second, NextBoundaryDelay(now))

	// 正好在边界上等整整一分钟
	boundary := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, time.Minute, NextBoundaryDelay(boundary))
}
