package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"mockstagram-data-pipeline/internal/models"
)

// SummaryRepository 账号汇总与粉丝时间线仓库
type SummaryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSummaryRepository 创建仓库
func NewSummaryRepository(db *sql.DB, logger *zap.Logger) *SummaryRepository {
	return &SummaryRepository{
		db:     db,
		logger: logger,
	}
}

const insertTimelineSQL = `
	INSERT INTO follower_timeline (
		pk,
		target_minute,
		timestamp,
		follower_count
	) VALUES (
		$1, $2, $3, $4
	)
	ON CONFLICT (pk, target_minute) DO NOTHING
`

const upsertSummarySQL = `
	INSERT INTO influencer_summary (
		pk,
		username,
		current_follower_count,
		total_follower_sum,
		readings_count,
		last_updated
	) VALUES (
		$1, $2, $3, $3, 1, $4
	)
	ON CONFLICT (pk) DO UPDATE SET
		username = EXCLUDED.username,
		current_follower_count = EXCLUDED.current_follower_count,
		total_follower_sum = influencer_summary.total_follower_sum + EXCLUDED.current_follower_count,
		readings_count = influencer_summary.readings_count + 1,
		last_updated = EXCLUDED.last_updated
`

// ApplyBatch 将一个结果批次写入数据库（单个事务）
// 每条结果先尝试 append 时间线，(pk, target_minute) 已存在说明是重复投递，
// 此时跳过汇总更新，保证 readings_count 恒等于该账号的时间线行数。
// 同一账号在批次内的多条结果各自独立累加。
// 任何一步失败整个事务回滚，不产生部分写入。
// 返回实际写入的时间线行数
func (r *SummaryRepository) ApplyBatch(ctx context.Context, results []models.FetchResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	rowsApplied := 0
	for _, result := range results {
		res, err := tx.ExecContext(ctx, insertTimelineSQL,
			result.PK,
			result.TargetMinute,
			result.FetchedAt,
			result.FollowerCount,
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to insert follower_timeline for pk=%d: %w", result.PK, err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to read rows affected for pk=%d: %w", result.PK, err)
		}
		if inserted == 0 {
			// 重复投递：时间线和汇总都不再变化
			r.logger.Debug("Skipping duplicate result",
				zap.Int64("pk", result.PK),
				zap.Time("target_minute", result.TargetMinute),
			)
			continue
		}

		if _, err := tx.ExecContext(ctx, upsertSummarySQL,
			result.PK,
			result.Username,
			result.FollowerCount,
			result.FetchedAt,
		); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to upsert influencer_summary for pk=%d: %w", result.PK, err)
		}

		rowsApplied++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	return rowsApplied, nil
}
