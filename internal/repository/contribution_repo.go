package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/yuqie6/WeekDigest/internal/pkg/isoweek"
	"github.com/yuqie6/WeekDigest/internal/schema"
	"gorm.io/gorm"
)

// ContributionRepository 贡献记录只读仓储（采集管道写入的 contributions 表）
type ContributionRepository struct {
	db *gorm.DB
}

// NewContributionRepository 创建仓储
func NewContributionRepository(db *gorm.DB) *ContributionRepository {
	return &ContributionRepository{db: db}
}

// ContributionsFor 某用户在某 ISO 周内的全部贡献（含未选中的），按时间升序
func (r *ContributionRepository) ContributionsFor(ctx context.Context, username, weekID string) ([]schema.Contribution, error) {
	start, end, err := isoweek.Range(weekID)
	if err != nil {
		return nil, err
	}

	var items []schema.Contribution
	err = r.db.WithContext(ctx).
		Where("author = ? AND created_at >= ? AND created_at < ?", username, start, end).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("查询贡献记录失败: %w", err)
	}
	return items, nil
}

// EarliestContributionDate 某用户在某仓库的最早贡献时间，ok=false 表示从未贡献
func (r *ContributionRepository) EarliestContributionDate(ctx context.Context, username string, repositoryID int64) (time.Time, bool, error) {
	var first schema.Contribution
	res := r.db.WithContext(ctx).
		Where("author = ? AND repository_id = ?", username, repositoryID).
		Order("created_at ASC").
		Limit(1).
		Find(&first)
	if res.Error != nil {
		return time.Time{}, false, fmt.Errorf("查询最早贡献失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return time.Time{}, false, nil
	}
	return first.CreatedAt, true, nil
}

// ContributorsOf 仓库内出现过的全部作者（去重、按名称排序）
func (r *ContributionRepository) ContributorsOf(ctx context.Context, repositoryID int64) ([]string, error) {
	var users []string
	err := r.db.WithContext(ctx).
		Model(&schema.Contribution{}).
		Where("repository_id = ? AND author <> ''", repositoryID).
		Distinct("author").
		Order("author ASC").
		Pluck("author", &users).Error
	if err != nil {
		return nil, fmt.Errorf("查询贡献者失败: %w", err)
	}
	return users, nil
}
