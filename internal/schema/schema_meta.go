package schema

import "time"

// SchemaMeta 单行表（ID=1），记录当前库的 schema 版本，
// 程序版本低于库版本时拒绝启动。
type SchemaMeta struct {
	ID            int       `gorm:"primaryKey"`
	SchemaVersion int       `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (SchemaMeta) TableName() string {
	return "schema_meta"
}

// Models 需要迁移的全部业务表
func Models() []any {
	return []any{
		&Repository{},
		&RepositoryToken{},
		&Contribution{},
		&WeeklySummary{},
		&GenerationRun{},
	}
}

// NowUTC gorm 自动时间戳使用 UTC
func NowUTC() time.Time {
	return time.Now().UTC()
}
