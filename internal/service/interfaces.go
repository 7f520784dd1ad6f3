package service

import (
	"context"
	"time"

	"github.com/yuqie6/WeekDigest/internal/ai"
	"github.com/yuqie6/WeekDigest/internal/eventbus"
	"github.com/yuqie6/WeekDigest/internal/repository"
	"github.com/yuqie6/WeekDigest/internal/schema"
)

// 仓储/外部依赖的最小接口集合（ISP）

type ContributionGateway interface {
	EarliestContributionDate(ctx context.Context, username string, repositoryID int64) (time.Time, bool, error)
	ContributionsFor(ctx context.Context, username, weekID string) ([]schema.Contribution, error)
	ContributorsOf(ctx context.Context, repositoryID int64) ([]string, error)
}

type Summarizer interface {
	GenerateWeeklySummary(ctx context.Context, req *ai.WeeklySummaryRequest) (*ai.WeeklySummaryResult, error)
}

type SummaryStore interface {
	FindExisting(ctx context.Context, repositoryID int64, username, weekID string) (*schema.WeeklySummary, error)
	InsertIfAbsent(ctx context.Context, summary *schema.WeeklySummary) (bool, error)
	Upsert(ctx context.Context, summary *schema.WeeklySummary) error
}

type SummaryQuery interface {
	ListPaginated(ctx context.Context, f repository.SummaryFilter) (*repository.SummaryPage, error)
	GetByID(ctx context.Context, id int64) (*schema.WeeklySummary, error)
}

type RepositoryRegistry interface {
	ListRepositories(ctx context.Context) ([]schema.Repository, error)
	GetRepository(ctx context.Context, id int64) (*schema.Repository, error)
	ResolveCredential(ctx context.Context, repositoryID int64) (string, bool, error)
}

type RunStore interface {
	Create(ctx context.Context, run *schema.GenerationRun) error
	Finish(ctx context.Context, run *schema.GenerationRun) error
}

// SummaryIndexer 周报写入后的可选钩子（向量索引）
type SummaryIndexer interface {
	IndexSummary(ctx context.Context, summary *schema.WeeklySummary, repository string) error
}

// EventPublisher 运行进度广播
type EventPublisher interface {
	Publish(evt eventbus.Event)
}

// Gate 并发许可，release 可重复调用
type Gate interface {
	Acquire(ctx context.Context) (release func(), err error)
}

var (
	_ ContributionGateway = (*repository.ContributionRepository)(nil)
	_ SummaryStore        = (*repository.SummaryRepository)(nil)
	_ SummaryQuery        = (*repository.SummaryRepository)(nil)
	_ RepositoryRegistry  = (*repository.RegistryRepository)(nil)
	_ RunStore            = (*repository.RunRepository)(nil)
	_ Summarizer          = (*ai.WeeklyAnalyzer)(nil)
	_ Summarizer          = (*ai.RemoteEngine)(nil)
	_ EventPublisher      = (*eventbus.Hub)(nil)
)
