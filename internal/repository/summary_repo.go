package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yuqie6/WeekDigest/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 分页限制
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// SummaryRepository 周报仓储
type SummaryRepository struct {
	db *gorm.DB
}

// NewSummaryRepository 创建仓储
func NewSummaryRepository(db *gorm.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// summaryKeyColumns 唯一键 (repository_id, username, week_id)
var summaryKeyColumns = []clause.Column{{Name: "repository_id"}, {Name: "username"}, {Name: "week_id"}}

// summaryContentColumns 重新生成时覆盖的列
var summaryContentColumns = []string{
	"overview", "commits_summary", "pull_requests_summary", "issues_summary",
	"releases_summary", "analysis", "key_achievements", "areas_for_improvement",
	"commit_count", "pull_request_count", "issue_count", "release_count",
	"total_count", "updated_at",
}

// FindExisting 按唯一键查询，不存在返回 nil, nil
func (r *SummaryRepository) FindExisting(ctx context.Context, repositoryID int64, username, weekID string) (*schema.WeeklySummary, error) {
	var summary schema.WeeklySummary
	err := r.db.WithContext(ctx).
		Where("repository_id = ? AND username = ? AND week_id = ?", repositoryID, username, weekID).
		First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询周报失败: %w", err)
	}
	return &summary, nil
}

// GetByID 按主键查询
func (r *SummaryRepository) GetByID(ctx context.Context, id int64) (*schema.WeeklySummary, error) {
	var summary schema.WeeklySummary
	err := r.db.WithContext(ctx).First(&summary, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询周报失败: %w", err)
	}
	return &summary, nil
}

// InsertIfAbsent 原子的"不存在才插入"，返回是否真正写入
// 并发写同一键时只有一个成功，其余返回 false。
func (r *SummaryRepository) InsertIfAbsent(ctx context.Context, summary *schema.WeeklySummary) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   summaryKeyColumns,
		DoNothing: true,
	}).Create(summary)
	if res.Error != nil {
		return false, fmt.Errorf("写入周报失败: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Upsert 插入或覆盖内容列（仅手动重新生成使用）
func (r *SummaryRepository) Upsert(ctx context.Context, summary *schema.WeeklySummary) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   summaryKeyColumns,
		DoUpdates: clause.AssignmentColumns(summaryContentColumns),
	}).Create(summary).Error
	if err != nil {
		return fmt.Errorf("更新周报失败: %w", err)
	}
	return nil
}

// SummaryFilter 列表过滤条件（空值表示不过滤）
type SummaryFilter struct {
	WeekID       string
	Username     string
	RepoFragment string // 仓库链接模糊匹配
	Page         int    // 从 1 开始
	Size         int
	Sort         string // 字段[,asc|desc]，如 "created_at,desc"
}

// SummaryPage 分页结果
type SummaryPage struct {
	Items      []schema.WeeklySummary `json:"items"`
	Total      int64                  `json:"total"`
	Page       int                    `json:"page"`
	Size       int                    `json:"size"`
	TotalPages int                    `json:"total_pages"`
}

// sortableColumns 允许排序的列
var sortableColumns = map[string]string{
	"created_at": "weekly_summaries.created_at",
	"week_id":    "weekly_summaries.week_id",
	"week":       "weekly_summaries.week_id",
	"username":   "weekly_summaries.username",
}

// ListPaginated 过滤 + 分页 + 排序
func (r *SummaryRepository) ListPaginated(ctx context.Context, f SummaryFilter) (*SummaryPage, error) {
	page, size := normalizePage(f.Page, f.Size)
	orderBy, err := parseSort(f.Sort)
	if err != nil {
		return nil, err
	}

	q := r.db.WithContext(ctx).Model(&schema.WeeklySummary{})
	if w := strings.TrimSpace(f.WeekID); w != "" {
		q = q.Where("weekly_summaries.week_id = ?", w)
	}
	if u := strings.TrimSpace(f.Username); u != "" {
		q = q.Where("weekly_summaries.username = ?", u)
	}
	if frag := strings.TrimSpace(f.RepoFragment); frag != "" {
		q = q.Joins("JOIN repositories ON repositories.id = weekly_summaries.repository_id").
			Where(`LOWER(repositories.link) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(frag))+"%")
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("统计周报失败: %w", err)
	}

	items := make([]schema.WeeklySummary, 0, size)
	if total > 0 {
		err = q.Select("weekly_summaries.*").
			Order(orderBy).
			Order("weekly_summaries.id DESC").
			Offset((page - 1) * size).
			Limit(size).
			Find(&items).Error
		if err != nil {
			return nil, fmt.Errorf("查询周报列表失败: %w", err)
		}
	}

	totalPages := int((total + int64(size) - 1) / int64(size))
	return &SummaryPage{
		Items:      items,
		Total:      total,
		Page:       page,
		Size:       size,
		TotalPages: totalPages,
	}, nil
}

// CountAll 周报总数
func (r *SummaryRepository) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&schema.WeeklySummary{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("统计周报失败: %w", err)
	}
	return n, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

func parseSort(sort string) (string, error) {
	sort = strings.TrimSpace(strings.ToLower(sort))
	if sort == "" {
		return "weekly_summaries.week_id DESC", nil
	}
	field, dir, _ := strings.Cut(sort, ",")
	col, ok := sortableColumns[strings.TrimSpace(field)]
	if !ok {
		return "", fmt.Errorf("不支持的排序字段: %q", field)
	}
	switch strings.TrimSpace(dir) {
	case "", "desc":
		return col + " DESC", nil
	case "asc":
		return col + " ASC", nil
	default:
		return "", fmt.Errorf("不支持的排序方向: %q", dir)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
