package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yuqie6/WeekDigest/internal/ai"
	"github.com/yuqie6/WeekDigest/internal/schema"
)

// Outcome 单个生成单元的结果
type Outcome string

const (
	OutcomeGenerated         Outcome = "generated"
	OutcomeSkippedExisting   Outcome = "skipped_existing"
	OutcomeSkippedNoActivity Outcome = "skipped_no_activity"
	OutcomeSkippedNoPermit   Outcome = "skipped_no_permit"
	OutcomeFailed            Outcome = "failed"
)

// Unit 一个 (仓库, 用户, 周) 生成单元
type Unit struct {
	RepositoryID int64
	Repository   string // owner/repo
	Credential   string
	Username     string
	WeekID       string
}

// UnitResult 单元执行结果
type UnitResult struct {
	Unit      Unit
	Outcome   Outcome
	Err       error
	SummaryID int64
	Latency   time.Duration // AI 调用耗时，未调用为 0
}

// PipelineOptions 超时参数
type PipelineOptions struct {
	CallTimeout  time.Duration // AI 调用超时
	FetchTimeout time.Duration // 拉取贡献超时
}

// Pipeline 单元生成流程：查重 → 拉取贡献 → 过滤 → 调用 AI → 写入
type Pipeline struct {
	contributions ContributionGateway
	summarizer    Summarizer
	store         SummaryStore
	indexer       SummaryIndexer
	opts          PipelineOptions
	now           func() time.Time
}

// NewPipeline 创建流程
func NewPipeline(contributions ContributionGateway, summarizer Summarizer, store SummaryStore, opts PipelineOptions) *Pipeline {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 2 * time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	return &Pipeline{
		contributions: contributions,
		summarizer:    summarizer,
		store:         store,
		opts:          opts,
		now:           time.Now,
	}
}

// SetIndexer 设置写入后的索引钩子（可选）
func (p *Pipeline) SetIndexer(indexer SummaryIndexer) {
	p.indexer = indexer
}

// Run 执行一个单元；gate 为 nil 时不限流。任何失败都不会写入部分数据。
func (p *Pipeline) Run(ctx context.Context, unit Unit, gate Gate) UnitResult {
	res := UnitResult{Unit: unit}
	log := slog.With("repo", unit.Repository, "user", unit.Username, "week", unit.WeekID)

	existing, err := p.store.FindExisting(ctx, unit.RepositoryID, unit.Username, unit.WeekID)
	if err != nil {
		log.Error("查询已有周报失败", "error", err)
		return res.fail(err)
	}
	if existing != nil {
		log.Debug("周报已存在，跳过")
		res.Outcome = OutcomeSkippedExisting
		res.SummaryID = existing.ID
		return res
	}

	refs, err := p.selectedContributions(ctx, unit)
	if err != nil {
		log.Error("拉取贡献失败", "error", err)
		return res.fail(err)
	}
	if len(refs) == 0 {
		log.Info("本周没有选中的贡献，跳过")
		res.Outcome = OutcomeSkippedNoActivity
		return res
	}

	release := func() {}
	if gate != nil {
		release, err = gate.Acquire(ctx)
		if err != nil {
			if errors.Is(err, ErrAcquireTimeout) {
				log.Warn("等待并发许可超时，放弃该单元", "error", err)
				res.Outcome = OutcomeSkippedNoPermit
				res.Err = err
				return res
			}
			log.Error("获取并发许可失败", "error", err)
			return res.fail(err)
		}
	}
	result, latency, err := p.call(ctx, unit, refs)
	release()
	res.Latency = latency
	if err != nil {
		log.Error("AI 生成周报失败", "error", err, "latency", latency)
		return res.fail(err)
	}

	summary := p.toSummary(unit, refs, result)
	inserted, err := p.store.InsertIfAbsent(ctx, summary)
	if err != nil {
		log.Error("写入周报失败", "error", err)
		return res.fail(err)
	}
	if !inserted {
		// 并发路径先写入了，回读胜出行的 id
		log.Info("周报已被其他任务写入，丢弃本次结果")
		res.Outcome = OutcomeSkippedExisting
		if winner, err := p.store.FindExisting(ctx, unit.RepositoryID, unit.Username, unit.WeekID); err != nil {
			log.Warn("回读已有周报失败", "error", err)
		} else if winner != nil {
			res.SummaryID = winner.ID
		}
		return res
	}

	res.Outcome = OutcomeGenerated
	res.SummaryID = summary.ID
	log.Info("周报生成完成", "contributions", len(refs), "latency", latency)
	p.index(ctx, summary, unit.Repository)
	return res
}

// Regenerate 手动重新生成：不查重，覆盖已有周报
func (p *Pipeline) Regenerate(ctx context.Context, unit Unit) (*schema.WeeklySummary, error) {
	refs, err := p.selectedContributions(ctx, unit)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, ErrNoActivity
	}

	result, latency, err := p.call(ctx, unit, refs)
	if err != nil {
		return nil, err
	}

	summary := p.toSummary(unit, refs, result)
	if err := p.store.Upsert(ctx, summary); err != nil {
		return nil, err
	}
	saved, err := p.store.FindExisting(ctx, unit.RepositoryID, unit.Username, unit.WeekID)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, ErrSummaryNotFound
	}

	slog.Info("周报已重新生成", "repo", unit.Repository, "user", unit.Username, "week", unit.WeekID, "latency", latency)
	p.index(ctx, saved, unit.Repository)
	return saved, nil
}

// selectedContributions 只保留本仓库中被选中的贡献
func (p *Pipeline) selectedContributions(ctx context.Context, unit Unit) ([]ai.ContributionRef, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()

	items, err := p.contributions.ContributionsFor(fetchCtx, unit.Username, unit.WeekID)
	if err != nil {
		return nil, fmt.Errorf("拉取贡献失败: %w", err)
	}

	refs := make([]ai.ContributionRef, 0, len(items))
	for _, c := range items {
		if !c.Selected || c.RepositoryID != unit.RepositoryID {
			continue
		}
		refs = append(refs, ai.ContributionRef{Type: c.Type, ID: c.ExternalID, Selected: true})
	}
	return refs, nil
}

func (p *Pipeline) call(ctx context.Context, unit Unit, refs []ai.ContributionRef) (*ai.WeeklySummaryResult, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	req := &ai.WeeklySummaryRequest{
		Username:      unit.Username,
		WeekID:        unit.WeekID,
		Repository:    unit.Repository,
		Credential:    unit.Credential,
		Contributions: refs,
	}

	start := time.Now()
	result, err := p.summarizer.GenerateWeeklySummary(callCtx, req)
	latency := time.Since(start)
	if err != nil {
		return nil, latency, fmt.Errorf("AI 生成失败: %w", err)
	}
	if result == nil {
		return nil, latency, fmt.Errorf("AI 返回空结果")
	}
	return result, latency, nil
}

func (p *Pipeline) toSummary(unit Unit, refs []ai.ContributionRef, r *ai.WeeklySummaryResult) *schema.WeeklySummary {
	counts := r.Counts
	if counts.Total == 0 {
		counts = ai.CountContributions(refs)
	}
	now := p.now().UTC()
	return &schema.WeeklySummary{
		RepositoryID:        unit.RepositoryID,
		Username:            unit.Username,
		WeekID:              unit.WeekID,
		Overview:            r.Overview,
		CommitsSummary:      r.CommitsSummary,
		PullRequestsSummary: r.PullRequestsSummary,
		IssuesSummary:       r.IssuesSummary,
		ReleasesSummary:     r.ReleasesSummary,
		Analysis:            r.Analysis,
		KeyAchievements:     schema.JSONArray(r.KeyAchievements),
		AreasForImprovement: schema.JSONArray(r.AreasForImprovement),
		CommitCount:         counts.Commits,
		PullRequestCount:    counts.PullRequests,
		IssueCount:          counts.Issues,
		ReleaseCount:        counts.Releases,
		TotalCount:          counts.Total,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (p *Pipeline) index(ctx context.Context, summary *schema.WeeklySummary, repo string) {
	if p.indexer == nil {
		return
	}
	if err := p.indexer.IndexSummary(ctx, summary, repo); err != nil {
		slog.Warn("周报索引失败", "repo", repo, "user", summary.Username, "week", summary.WeekID, "error", err)
	}
}

func (r UnitResult) fail(err error) UnitResult {
	r.Outcome = OutcomeFailed
	r.Err = err
	return r
}
