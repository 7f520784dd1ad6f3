package testutil

import (
	"testing"
	"time"

	"github.com/yuqie6/WeekDigest/internal/schema"
	"gorm.io/gorm"
)

// SeedRepository 写入一个仓库，token 非空时同时写入凭证
func SeedRepository(t *testing.T, db *gorm.DB, link, token string) schema.Repository {
	t.Helper()

	repo := schema.Repository{Link: link}
	if err := db.Create(&repo).Error; err != nil {
		t.Fatalf("seed repository: %v", err)
	}
	if token != "" {
		tok := schema.RepositoryToken{RepositoryID: repo.ID, Token: token}
		if err := db.Create(&tok).Error; err != nil {
			t.Fatalf("seed token: %v", err)
		}
	}
	return repo
}

// SeedContribution 写入一条已选中的贡献
func SeedContribution(t *testing.T, db *gorm.DB, repoID int64, author, typ, externalID string, at time.Time) schema.Contribution {
	t.Helper()

	c := schema.Contribution{
		RepositoryID: repoID,
		Author:       author,
		Type:         typ,
		ExternalID:   externalID,
		Title:        typ + " " + externalID,
		Selected:     true,
		CreatedAt:    at,
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed contribution: %v", err)
	}
	return c
}

// Date 构造 UTC 时间
func Date(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}
