package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yuqie6/WeekDigest/internal/schema"
	"gorm.io/gorm"
)

// RegistryRepository 仓库与访问凭证的只读视图
type RegistryRepository struct {
	db *gorm.DB
}

// NewRegistryRepository 创建仓储
func NewRegistryRepository(db *gorm.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// ListRepositories 全部已登记仓库，按 id 升序
func (r *RegistryRepository) ListRepositories(ctx context.Context) ([]schema.Repository, error) {
	var repos []schema.Repository
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&repos).Error; err != nil {
		return nil, fmt.Errorf("查询仓库列表失败: %w", err)
	}
	return repos, nil
}

// GetRepository 按 id 查询，不存在返回 nil, nil
func (r *RegistryRepository) GetRepository(ctx context.Context, id int64) (*schema.Repository, error) {
	var repo schema.Repository
	err := r.db.WithContext(ctx).First(&repo, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询仓库失败: %w", err)
	}
	return &repo, nil
}

// ResolveCredential 取最新一条非空凭证，ok=false 表示无可用凭证
func (r *RegistryRepository) ResolveCredential(ctx context.Context, repositoryID int64) (string, bool, error) {
	var tok schema.RepositoryToken
	res := r.db.WithContext(ctx).
		Where("repository_id = ? AND token <> ''", repositoryID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&tok)
	if res.Error != nil {
		return "", false, fmt.Errorf("查询仓库凭证失败: %w", res.Error)
	}
	if res.RowsAffected == 0 || strings.TrimSpace(tok.Token) == "" {
		return "", false, nil
	}
	return tok.Token, true, nil
}
