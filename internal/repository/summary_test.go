package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SummaryRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewSummaryRepository(db, logger)

	return db, mock, repo
}

func sampleResult(pk int64, followerCount int64, minute time.Time) models.FetchResult {
	return models.FetchResult{
		PK:            pk,
		Username:      "alice",
		FollowerCount: followerCount,
		FetchedAt:     minute.Add(5 * time.Second),
		TargetMinute:  minute,
	}
}

func TestApplyBatch_CommitsAllRows(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	w1 := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	w2 := w1.Add(time.Minute)
	batch := []models.FetchResult{
		sampleResult(1, 4000, w1),
		sampleResult(1, 5000, w2),
		sampleResult(2, 100, w1),
	}

	mock.ExpectBegin()
	for _, result := range batch {
		mock.ExpectExec(`INSERT INTO follower_timeline`).
			WithArgs(result.PK, result.TargetMinute, result.FetchedAt, result.FollowerCount).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO influencer_summary`).
			WithArgs(result.PK, result.Username, result.FollowerCount, result.FetchedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	rows, err := repo.ApplyBatch(context.Background(), batch)

	require.NoError(t, err)
	assert.Equal(t, 3, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatch_DuplicateDeliverySkipsSummary(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	w1 := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	result := sampleResult(1, 4000, w1)

	// 时间线 ON CONFLICT DO NOTHING 没插入行 => 重复投递，汇总不再累加
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO follower_timeline`).
		WithArgs(result.PK, result.TargetMinute, result.FetchedAt, result.FollowerCount).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rows, err := repo.ApplyBatch(context.Background(), []models.FetchResult{result})

	require.NoError(t, err)
	assert.Equal(t, 0, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatch_RollsBackOnTimelineError(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	w1 := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	batch := []models.FetchResult{
		sampleResult(1, 4000, w1),
		sampleResult(2, 100, w1),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO follower_timeline`).
		WithArgs(batch[0].PK, batch[0].TargetMinute, batch[0].FetchedAt, batch[0].FollowerCount).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO influencer_summary`).
		WithArgs(batch[0].PK, batch[0].Username, batch[0].FollowerCount, batch[0].FetchedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO follower_timeline`).
		WithArgs(batch[1].PK, batch[1].TargetMinute, batch[1].FetchedAt, batch[1].FollowerCount).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	rows, err := repo.ApplyBatch(context.Background(), batch)

	require.Error(t, err)
	assert.Equal(t, 0, rows)
	assert.Contains(t, err.Error(), "follower_timeline")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatch_RollsBackOnSummaryError(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	w1 := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	result := sampleResult(1, 4000, w1)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO follower_timeline`).
		WithArgs(result.PK, result.TargetMinute, result.FetchedAt, result.FollowerCount).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO influencer_summary`).
		WithArgs(result.PK, result.Username, result.FollowerCount, result.FetchedAt).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	rows, err := repo.ApplyBatch(context.Background(), []models.FetchResult{result})

	require.Error(t, err)
	assert.Equal(t, 0, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatch_EmptyBatchIsNoOp(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows, err := repo.ApplyBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 0, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatch_CommitErrorIsReturned(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	w1 := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	result := sampleResult(1, 4000, w1)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO follower_timeline`).
		WithArgs(result.PK, result.TargetMinute, result.FetchedAt, result.FollowerCount).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO influencer_summary`).
		WithArgs(result.PK, result.Username, result.FollowerCount, result.FetchedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("server closed the connection"))

	rows, err := repo.ApplyBatch(context.Background(), []models.FetchResult{result})

	require.Error(t, err)
	assert.Equal(t, 0, rows)
	assert.Contains(t, err.Error(), "failed to commit batch")
	assert.NoError(t, mock.ExpectationsWereMet())
}
