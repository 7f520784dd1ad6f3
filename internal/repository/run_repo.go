package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/yuqie6/WeekDigest/internal/schema"
	"gorm.io/gorm"
)

// RunRepository 生成运行记录仓储
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository 创建仓储
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create 新建运行记录
func (r *RunRepository) Create(ctx context.Context, run *schema.GenerationRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("创建运行记录失败: %w", err)
	}
	return nil
}

// Finish 写入最终状态与计数
func (r *RunRepository) Finish(ctx context.Context, run *schema.GenerationRun) error {
	if run.CompletedAt == nil {
		now := time.Now()
		run.CompletedAt = &now
	}
	err := r.db.WithContext(ctx).
		Model(&schema.GenerationRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"status":       run.Status,
			"generated":    run.Generated,
			"skipped":      run.Skipped,
			"failed":       run.Failed,
			"error":        run.Error,
			"completed_at": run.CompletedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("更新运行记录失败: %w", err)
	}
	return nil
}

// ListRecent 最近的运行记录
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]schema.GenerationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []schema.GenerationRun
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return runs, nil
}

// MarkInterrupted 启动时把上次未结束的运行标记为 cancelled
func (r *RunRepository) MarkInterrupted(ctx context.Context) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&schema.GenerationRun{}).
		Where("status = ?", schema.RunStatusRunning).
		Updates(map[string]any{
			"status":       schema.RunStatusCancelled,
			"error":        "进程退出时运行未结束",
			"completed_at": &now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("标记中断运行失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}
