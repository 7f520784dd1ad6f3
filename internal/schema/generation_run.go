package schema

import "time"

// 运行类型
const (
	RunKindWeekly   = "weekly"
	RunKindBackfill = "backfill"
)

// 运行状态
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusCancelled = "cancelled"
	RunStatusFailed    = "failed"
)

// GenerationRun 一次周报生成运行（定时或回填）的记录
type GenerationRun struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"` // uuid
	Kind        string     `gorm:"size:20;index" json:"kind"`
	Status      string     `gorm:"size:20" json:"status"`
	Generated   int        `gorm:"default:0" json:"generated"`
	Skipped     int        `gorm:"default:0" json:"skipped"`
	Failed      int        `gorm:"default:0" json:"failed"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt   time.Time  `gorm:"index" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (GenerationRun) TableName() string {
	return "generation_runs"
}
