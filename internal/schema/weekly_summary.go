package schema

import "time"

// WeeklySummary 某用户在某仓库某 ISO 周的 AI 周报
// (repository_id, username, week_id) 唯一
type WeeklySummary struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RepositoryID        int64     `gorm:"not null;uniqueIndex:uniq_weekly_summary_key" json:"repository_id"`
	Username            string    `gorm:"size:255;not null;uniqueIndex:uniq_weekly_summary_key;index" json:"username"`
	WeekID              string    `gorm:"size:10;not null;uniqueIndex:uniq_weekly_summary_key;index" json:"week_id"` // YYYY-Www
	Overview            string    `gorm:"type:text" json:"overview"`
	CommitsSummary      string    `gorm:"type:text" json:"commits_summary"`
	PullRequestsSummary string    `gorm:"type:text" json:"pull_requests_summary"`
	IssuesSummary       string    `gorm:"type:text" json:"issues_summary"`
	ReleasesSummary     string    `gorm:"type:text" json:"releases_summary"`
	Analysis            string    `gorm:"type:text" json:"analysis"`
	KeyAchievements     JSONArray `gorm:"type:text" json:"key_achievements"`
	AreasForImprovement JSONArray `gorm:"type:text" json:"areas_for_improvement"`
	CommitCount         int       `gorm:"default:0" json:"commit_count"`
	PullRequestCount    int       `gorm:"default:0" json:"pull_request_count"`
	IssueCount          int       `gorm:"default:0" json:"issue_count"`
	ReleaseCount        int       `gorm:"default:0" json:"release_count"`
	TotalCount          int       `gorm:"default:0" json:"total_count"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WeeklySummary) TableName() string {
	return "weekly_summaries"
}
