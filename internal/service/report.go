package service

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/yuqie6/WeekDigest/internal/schema"
)

// LatencyStats AI 调用耗时统计（毫秒）
type LatencyStats struct {
	Count  int     `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// RunReport 一次运行的汇总
type RunReport struct {
	RunID      string          `json:"run_id"`
	Kind       string          `json:"kind"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Cancelled  bool            `json:"cancelled"`
	Outcomes   map[Outcome]int `json:"outcomes"`
	Generated  int             `json:"generated"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Latency    LatencyStats    `json:"latency"`

	mu        sync.Mutex
	latencies stats.Float64Data
}

func newRunReport(kind string, now time.Time) *RunReport {
	return &RunReport{
		RunID:     uuid.NewString(),
		Kind:      kind,
		StartedAt: now,
		Outcomes:  make(map[Outcome]int),
	}
}

// Add 记录一个单元结果，可并发调用
func (r *RunReport) Add(res UnitResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Outcomes[res.Outcome]++
	switch res.Outcome {
	case OutcomeGenerated:
		r.Generated++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	if res.Latency > 0 {
		r.latencies = append(r.latencies, float64(res.Latency)/float64(time.Millisecond))
	}
}

// Total 已处理的单元数
func (r *RunReport) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Generated + r.Skipped + r.Failed
}

func (r *RunReport) finish(now time.Time, cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.FinishedAt = now
	r.Cancelled = cancelled
	r.Latency = summarizeLatency(r.latencies)
}

func summarizeLatency(data stats.Float64Data) LatencyStats {
	if len(data) == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Count:  len(data),
		MeanMs: finite(stats.Mean(data)),
		P50Ms:  finite(stats.Median(data)),
		P95Ms:  finite(stats.Percentile(data, 95)),
		MaxMs:  finite(stats.Max(data)),
	}
}

// finite NaN 无法 JSON 编码，出错时记为 0
func finite(v float64, err error) float64 {
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// toRun 转为持久化记录
func (r *RunReport) toRun(status string, runErr error) *schema.GenerationRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := &schema.GenerationRun{
		ID:        r.RunID,
		Kind:      r.Kind,
		Status:    status,
		Generated: r.Generated,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		StartedAt: r.StartedAt,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		run.CompletedAt = &finished
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run
}
