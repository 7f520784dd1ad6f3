package schema

import "time"

// Repository 已登记的代码仓库（由登记子系统维护，本服务只读）
type Repository struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Link      string    `gorm:"size:512;uniqueIndex" json:"link"` // 规范链接，如 https://github.com/acme/widgets
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Repository) TableName() string {
	return "repositories"
}

// RepositoryToken 仓库访问凭证（同一仓库可能轮换多次，取最新一条）
type RepositoryToken struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RepositoryID int64     `gorm:"index;not null" json:"repository_id"`
	Token        string    `gorm:"size:512" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (RepositoryToken) TableName() string {
	return "repository_tokens"
}
