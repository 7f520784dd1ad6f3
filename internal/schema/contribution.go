package schema

import (
	"time"

	"gorm.io/gorm"
)

// 贡献类型
const (
	ContributionCommit      = "commit"
	ContributionPullRequest = "pull_request"
	ContributionIssue       = "issue"
	ContributionRelease     = "release"
)

// Contribution 贡献记录（由采集管道写入，本服务只读）
// 数据量级：十万级/年
type Contribution struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RepositoryID int64     `gorm:"index;not null" json:"repository_id"`
	Author       string    `gorm:"size:255;index:idx_contrib_author_time" json:"author"`
	Type         string    `gorm:"size:20" json:"type"`         // commit | pull_request | issue | release
	ExternalID   string    `gorm:"size:100" json:"external_id"` // commit sha / PR 号 / issue 号 / release id
	Title        string    `gorm:"size:512" json:"title"`
	Selected     bool      `gorm:"default:false" json:"selected"` // 是否纳入周报
	CreatedAt    time.Time `gorm:"index:idx_contrib_author_time" json:"created_at"`
}

func (Contribution) TableName() string {
	return "contributions"
}

// BeforeSave 统一存 UTC：SQLite 以文本保存时间，混入其他时区偏移会让按周区间的字符串比较出错
func (c *Contribution) BeforeSave(tx *gorm.DB) error {
	if !c.CreatedAt.IsZero() {
		c.CreatedAt = c.CreatedAt.UTC()
	}
	return nil
}
