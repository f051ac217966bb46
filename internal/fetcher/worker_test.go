package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/broker"
	"mockstagram-data-pipeline/internal/config"
	"mockstagram-data-pipeline/internal/models"
)

// fakeAPI 固定返回数据或错误
type fakeAPI struct {
	data  *InfluencerData
	err   error
	calls int
}

func (f *fakeAPI) FetchInfluencer(ctx context.Context, pk int64) (*InfluencerData, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

// fakeResultPublisher 记录发布的结果和死信
type fakeResultPublisher struct {
	results    []*models.FetchResult
	faileds    []*models.FailedTask
	publishErr error
}

func (f *fakeResultPublisher) PublishResult(ctx context.Context, result *models.FetchResult) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.results = append(f.results, result)
	return nil
}

func (f *fakeResultPublisher) PublishFailed(ctx context.Context, failed *models.FailedTask) error {
	f.faileds = append(f.faileds, failed)
	return nil
}

func taskMessage(t *testing.T, task models.FetchTask) broker.StreamMessage {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return broker.StreamMessage{
		ID:     "1-0",
		Stream: "influencer:tasks:stream",
		Values: map[string]interface{}{
			"key":  "1000001",
			"data": string(data),
		},
	}
}

func newTestWorker(api InfluencerAPI, publisher ResultPublisher) *Worker {
	return NewWorker(&config.Config{}, nil, api, publisher, nil, zap.NewNop())
}

func TestHandle_CurrentWindowTaskIsFetched(t *testing.T) {
	target := models.WindowStart(time.Now())
	api := &fakeAPI{data: &InfluencerData{
		PK:            1000001,
		Username:      "alice",
		FollowerCount: 4000,
	}}
	publisher := &fakeResultPublisher{}
	w := newTestWorker(api, publisher)

	w.Handle(context.Background(), taskMessage(t, models.FetchTask{
		PK:           1000001,
		Username:     "alice",
		TargetMinute: target,
	}))

	require.Len(t, publisher.results, 1)
	result := publisher.results[0]
	assert.Equal(t, int64(1000001), result.PK)
	assert.Equal(t, "alice", result.Username)
	assert.Equal(t, int64(4000), result.FollowerCount)
	// API 没回窗口时间戳时沿用任务里的
	assert.True(t, result.TargetMinute.Equal(target))
	assert.False(t, result.FetchedAt.IsZero())
	assert.Empty(t, publisher.faileds)
}

func TestHandle_StaleTaskIsDroppedWithoutFetch(t *testing.T) {
	api := &fakeAPI{data: &InfluencerData{PK: 1000001, FollowerCount: 4000}}
	publisher := &fakeResultPublisher{}
	w := newTestWorker(api, publisher)

	// 上一分钟的窗口已经过去
	w.Handle(context.Background(), taskMessage(t, models.FetchTask{
		PK:           1000001,
		TargetMinute: models.WindowStart(time.Now()).Add(-time.Minute),
	}))

	assert.Equal(t, 0, api.calls, "stale task must not reach the API")
	assert.Empty(t, publisher.results)
	assert.Empty(t, publisher.faileds, "stale task is not dead-lettered")
}

func TestHandle_FutureTaskIsDropped(t *testing.T) {
	api := &fakeAPI{data: &InfluencerData{PK: 1000001}}
	publisher := &fakeResultPublisher{}
	w := newTestWorker(api, publisher)

	w.Handle(context.Background(), taskMessage(t, models.FetchTask{
		PK:           1000001,
		TargetMinute: models.WindowStart(time.Now()).Add(time.Minute),
	}))

	assert.Equal(t, 0, api.calls)
	assert.Empty(t, publisher.results)
	assert.Empty(t, publisher.faileds)
}

func TestHandle_FetchFailureIsDeadLettered(t *testing.T) {
	target := models.WindowStart(time.Now())
	api := &fakeAPI{err: errors.New("connection refused")}
	publisher := &fakeResultPublisher{}
	w := newTestWorker(api, publisher)

	w.Handle(context.Background(), taskMessage(t, models.FetchTask{
		PK:           1000001,
		TargetMinute: target,
	}))

	assert.Empty(t, publisher.results)
	require.Len(t, publisher.faileds, 1)
	failed := publisher.faileds[0]
	assert.Equal(t, int64(1000001), failed.PK)
	assert.True(t, failed.TargetMinute.Equal(target))
	assert.Contains(t, failed.Error, "connection refused")
}

func TestHandle_MalformedMessageIsDeadLettered(t *testing.T) {
	api := &fakeAPI{}
	publisher := &fakeResultPublisher{}
	w := newTestWorker(api, publisher)

	w.Handle(context.Background(), broker.StreamMessage{
		ID:     "1-0",
		Stream: "influencer:tasks:stream",
		Values: map[string]interface{}{
			"key":  "1000001",
			"data": "not json",
		},
	})

	assert.Equal(t, 0, api.calls)
	require.Len(t, publisher.faileds, 1)
	assert.Equal(t, int64(1000001), publisher.faileds[0].PK)
}

func TestHandle_ResultPublishFailureIsDeadLettered(t *testing.T) {
	target := models.WindowStart(time.Now())
	api := &fakeAPI{data: &InfluencerData{PK: 1000001, Username: "alice", FollowerCount: 4000}}
	publisher := &fakeResultPublisher{publishErr: errors.New("stream unavailable")}
	w := newTestWorker(api, publisher)

	w.Handle(context.Background(), taskMessage(t, models.FetchTask{
		PK:           1000001,
		TargetMinute: target,
	}))

	require.Len(t, publisher.faileds, 1)
	assert.Contains(t, publisher.faileds[0].Error, "stream unavailable")
}
