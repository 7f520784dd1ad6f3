package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/yuqie6/WeekDigest/internal/eventbus"
	"github.com/yuqie6/WeekDigest/internal/pkg/isoweek"
	"github.com/yuqie6/WeekDigest/internal/pkg/repolink"
	"github.com/yuqie6/WeekDigest/internal/schema"
	"golang.org/x/sync/errgroup"
)

// DriverConfig 回填节奏
type DriverConfig struct {
	RequestDelay time.Duration // 同一用户相邻两个单元的发起间隔
	UserDelay    time.Duration // 相邻两个用户之间的间隔
}

// Driver 枚举 (仓库, 用户, 周) 并驱动 Pipeline
type Driver struct {
	registry      RepositoryRegistry
	contributions ContributionGateway
	pipeline      *Pipeline
	governor      *Governor
	cfg           DriverConfig

	runs   RunStore       // 可选
	events EventPublisher // 可选

	backfilling atomic.Bool
	now         func() time.Time
}

// NewDriver 创建驱动器
func NewDriver(registry RepositoryRegistry, contributions ContributionGateway, pipeline *Pipeline, governor *Governor, cfg DriverConfig) *Driver {
	if governor == nil {
		governor = NewGovernor(0, 0)
	}
	return &Driver{
		registry:      registry,
		contributions: contributions,
		pipeline:      pipeline,
		governor:      governor,
		cfg:           cfg,
		now:           time.Now,
	}
}

// SetRunStore 设置运行记录持久化（可选）
func (d *Driver) SetRunStore(runs RunStore) {
	d.runs = runs
}

// SetEventPublisher 设置进度广播（可选）
func (d *Driver) SetEventPublisher(events EventPublisher) {
	d.events = events
}

// BackfillRunning 是否有回填在运行
func (d *Driver) BackfillRunning() bool {
	return d.backfilling.Load()
}

// target 一个有凭证的仓库
type target struct {
	repo       schema.Repository
	ownerRepo  string
	credential string
}

// LastWeekID 上一个 ISO 周；统一按 UTC 日历计算，与贡献的周区间一致
func LastWeekID(now time.Time) string {
	return isoweek.ID(now.UTC().AddDate(0, 0, -7))
}

// RunWeekly 为上一个 ISO 周生成全部周报，串行且不限流
func (d *Driver) RunWeekly(ctx context.Context) (*RunReport, error) {
	report := newRunReport(schema.RunKindWeekly, d.now())
	week := LastWeekID(d.now())
	d.start(ctx, report, "week", week)

	targets, err := d.targets(ctx)
	if err != nil {
		return d.end(ctx, report, err)
	}

	for _, t := range targets {
		users, err := d.contributions.ContributorsOf(ctx, t.repo.ID)
		if err != nil {
			slog.Error("查询贡献者失败", "repo", t.ownerRepo, "error", err)
			continue
		}
		for _, user := range users {
			if ctx.Err() != nil {
				return d.end(ctx, report, nil)
			}
			unit := Unit{RepositoryID: t.repo.ID, Repository: t.ownerRepo, Credential: t.credential, Username: user, WeekID: week}
			d.record(report, d.pipeline.Run(ctx, unit, nil))
		}
	}
	return d.end(ctx, report, nil)
}

// RunBackfill 从每个用户的最早贡献周补齐到本周，同时只允许一个回填
func (d *Driver) RunBackfill(ctx context.Context) (*RunReport, error) {
	if !d.backfilling.CompareAndSwap(false, true) {
		return nil, ErrBackfillRunning
	}
	defer d.backfilling.Store(false)

	report := newRunReport(schema.RunKindBackfill, d.now())
	return d.backfill(ctx, report)
}

// StartBackfill 异步启动回填，立即返回运行 id
func (d *Driver) StartBackfill(ctx context.Context) (string, error) {
	if !d.backfilling.CompareAndSwap(false, true) {
		return "", ErrBackfillRunning
	}

	report := newRunReport(schema.RunKindBackfill, d.now())
	go func() {
		defer d.backfilling.Store(false)
		if _, err := d.backfill(ctx, report); err != nil {
			slog.Error("后台回填失败", "run_id", report.RunID, "error", err)
		}
	}()
	return report.RunID, nil
}

func (d *Driver) backfill(ctx context.Context, report *RunReport) (*RunReport, error) {
	d.start(ctx, report)

	targets, err := d.targets(ctx)
	if err != nil {
		return d.end(ctx, report, err)
	}

	// 已发起的单元与调用方取消解耦，保证单元要么完整写入要么不写
	unitCtx := context.WithoutCancel(ctx)
	var eg errgroup.Group
	cancelled := false

outer:
	for _, t := range targets {
		users, err := d.contributions.ContributorsOf(ctx, t.repo.ID)
		if err != nil {
			slog.Error("查询贡献者失败", "repo", t.ownerRepo, "error", err)
			continue
		}

		for _, user := range users {
			if ctx.Err() != nil {
				cancelled = true
				break outer
			}

			earliest, ok, err := d.contributions.EarliestContributionDate(ctx, user, t.repo.ID)
			if err != nil {
				slog.Error("查询最早贡献失败", "repo", t.ownerRepo, "user", user, "error", err)
				continue
			}
			if !ok {
				continue
			}

			weeks := isoweek.Between(earliest.UTC(), d.now().UTC())
			slog.Info("开始回填用户", "repo", t.ownerRepo, "user", user, "weeks", len(weeks))

			for _, week := range weeks {
				if ctx.Err() != nil {
					cancelled = true
					break outer
				}
				unit := Unit{RepositoryID: t.repo.ID, Repository: t.ownerRepo, Credential: t.credential, Username: user, WeekID: week}
				eg.Go(func() error {
					d.record(report, d.pipeline.Run(unitCtx, unit, d.governor))
					return nil
				})
				if err := sleepCtx(ctx, d.cfg.RequestDelay); err != nil {
					cancelled = true
					break outer
				}
			}

			if err := sleepCtx(ctx, d.cfg.UserDelay); err != nil {
				cancelled = true
				break outer
			}
		}
	}

	if cancelled {
		slog.Warn("回填已取消，等待已发起的单元完成", "run_id", report.RunID)
	}
	_ = eg.Wait()
	return d.end(ctx, report, nil)
}

// targets 列出有凭证的仓库；缺凭证的仓库记 Warn 后跳过
func (d *Driver) targets(ctx context.Context) ([]target, error) {
	repos, err := d.registry.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询仓库列表失败: %w", err)
	}

	out := make([]target, 0, len(repos))
	for _, repo := range repos {
		cred, ok, err := d.registry.ResolveCredential(ctx, repo.ID)
		if err != nil {
			slog.Error("查询仓库凭证失败", "repo_id", repo.ID, "error", err)
			continue
		}
		if !ok {
			slog.Warn("仓库缺少访问凭证，跳过", "repo_id", repo.ID, "link", repo.Link, "error", ErrMissingCredential)
			continue
		}
		ownerRepo, err := repolink.OwnerRepo(repo.Link)
		if err != nil {
			slog.Warn("仓库链接无法解析，跳过", "repo_id", repo.ID, "link", repo.Link, "error", err)
			continue
		}
		out = append(out, target{repo: repo, ownerRepo: ownerRepo, credential: cred})
	}
	return out, nil
}

// Regenerate 手动重新生成某个仓库某用户某周的周报
func (d *Driver) Regenerate(ctx context.Context, repositoryID int64, username, weekID string) (*schema.WeeklySummary, error) {
	if !isoweek.Valid(weekID) {
		return nil, fmt.Errorf("无效的周标识 %q", weekID)
	}
	repo, err := d.registry.GetRepository(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, fmt.Errorf("仓库 %d 不存在", repositoryID)
	}
	cred, ok, err := d.registry.ResolveCredential(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMissingCredential
	}
	ownerRepo, err := repolink.OwnerRepo(repo.Link)
	if err != nil {
		return nil, err
	}
	unit := Unit{RepositoryID: repo.ID, Repository: ownerRepo, Credential: cred, Username: username, WeekID: weekID}
	return d.pipeline.Regenerate(ctx, unit)
}

func (d *Driver) start(ctx context.Context, report *RunReport, kv ...any) {
	slog.Info("周报运行开始", append([]any{"run_id", report.RunID, "kind", report.Kind}, kv...)...)
	if d.runs != nil {
		if err := d.runs.Create(context.WithoutCancel(ctx), report.toRun(schema.RunStatusRunning, nil)); err != nil {
			slog.Warn("保存运行记录失败", "run_id", report.RunID, "error", err)
		}
	}
	d.publish(eventbus.TypeRunStarted, map[string]any{"run_id": report.RunID, "kind": report.Kind})
}

func (d *Driver) record(report *RunReport, res UnitResult) {
	report.Add(res)
	data := map[string]any{
		"run_id":  report.RunID,
		"repo":    res.Unit.Repository,
		"user":    res.Unit.Username,
		"week":    res.Unit.WeekID,
		"outcome": string(res.Outcome),
	}
	if res.Err != nil {
		data["error"] = res.Err.Error()
	}
	d.publish(eventbus.TypeUnitFinished, data)
}

func (d *Driver) end(ctx context.Context, report *RunReport, runErr error) (*RunReport, error) {
	cancelled := ctx.Err() != nil
	report.finish(d.now(), cancelled)

	status := schema.RunStatusCompleted
	switch {
	case runErr != nil:
		status = schema.RunStatusFailed
	case cancelled:
		status = schema.RunStatusCancelled
	}
	if d.runs != nil {
		if err := d.runs.Finish(context.WithoutCancel(ctx), report.toRun(status, runErr)); err != nil {
			slog.Warn("更新运行记录失败", "run_id", report.RunID, "error", err)
		}
	}

	slog.Info("周报运行结束",
		"run_id", report.RunID,
		"kind", report.Kind,
		"status", status,
		"generated", report.Generated,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"latency_p95_ms", report.Latency.P95Ms,
	)
	d.publish(eventbus.TypeRunFinished, map[string]any{
		"run_id":    report.RunID,
		"kind":      report.Kind,
		"status":    status,
		"generated": report.Generated,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})

	if runErr != nil {
		return report, runErr
	}
	return report, nil
}

func (d *Driver) publish(typ string, data map[string]any) {
	if d.events == nil {
		return
	}
	d.events.Publish(eventbus.Event{Type: typ, Data: data})
}

// sleepCtx 可取消的等待
func sleepCtx(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
