package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yuqie6/WeekDigest/internal/repository"
	"github.com/yuqie6/WeekDigest/internal/schema"
	"github.com/yuqie6/WeekDigest/internal/testutil"
)

func aliceUnit(week string) Unit {
	return Unit{RepositoryID: 1, Repository: "acme/widgets", Credential: "tok", Username: "alice", WeekID: week}
}

// W10 = 2025-03-03 .. 2025-03-09
func pipelineContributions() *memContributions {
	return &memContributions{items: []schema.Contribution{
		contribution(1, "alice", schema.ContributionCommit, "c1", day(2025, 3, 4)),
		contribution(1, "alice", schema.ContributionPullRequest, "5", day(2025, 3, 5)),
		contribution(2, "alice", schema.ContributionCommit, "other-repo", day(2025, 3, 5)),
		{RepositoryID: 1, Author: "alice", Type: schema.ContributionIssue, ExternalID: "9", Selected: false, CreatedAt: day(2025, 3, 6)},
		{RepositoryID: 1, Author: "alice", Type: schema.ContributionIssue, ExternalID: "10", Selected: false, CreatedAt: day(2025, 3, 12)},
	}}
}

func TestPipelineGeneratesOnceThenSkips(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := repository.NewSummaryRepository(db)
	ai := &fakeSummarizer{}
	indexer := &recordingIndexer{}
	p := NewPipeline(pipelineContributions(), ai, store, PipelineOptions{})
	p.SetIndexer(indexer)
	ctx := context.Background()

	res := p.Run(ctx, aliceUnit("2025-W10"), nil)
	if res.Outcome != OutcomeGenerated || res.Err != nil || res.SummaryID == 0 {
		t.Fatalf("first run=%+v", res)
	}

	saved, err := store.FindExisting(ctx, 1, "alice", "2025-W10")
	if err != nil || saved == nil {
		t.Fatalf("saved=%v err=%v", saved, err)
	}
	// 只统计本仓库中选中的贡献
	if saved.TotalCount != 2 || saved.CommitCount != 1 || saved.PullRequestCount != 1 {
		t.Fatalf("counts=%+v", saved)
	}

	res = p.Run(ctx, aliceUnit("2025-W10"), nil)
	if res.Outcome != OutcomeSkippedExisting {
		t.Fatalf("second run outcome=%s", res.Outcome)
	}
	if got := ai.calls.Load(); got != 1 {
		t.Fatalf("ai calls=%d, want 1", got)
	}
	if len(indexer.weeks) != 1 || indexer.weeks[0] != "2025-W10" {
		t.Fatalf("indexed=%v", indexer.weeks)
	}
}

func TestPipelineNoActivity(t *testing.T) {
	store := newMemStore()
	ai := &fakeSummarizer{}
	p := NewPipeline(pipelineContributions(), ai, store, PipelineOptions{})

	// W11 只有未选中的贡献
	for _, week := range []string{"2025-W11", "2025-W20"} {
		res := p.Run(context.Background(), aliceUnit(week), nil)
		if res.Outcome != OutcomeSkippedNoActivity {
			t.Fatalf("%s outcome=%s", week, res.Outcome)
		}
	}
	if ai.calls.Load() != 0 || store.count() != 0 {
		t.Fatalf("calls=%d rows=%d, want 0/0", ai.calls.Load(), store.count())
	}
}

func TestPipelineFailuresWriteNothing(t *testing.T) {
	testCases := []struct {
		name    string
		contrib *memContributions
		ai      *fakeSummarizer
		opts    PipelineOptions
	}{
		{
			name:    "ai error",
			contrib: pipelineContributions(),
			ai:      &fakeSummarizer{errFor: map[string]error{"alice": errors.New("upstream 500")}},
		},
		{
			name:    "ai timeout",
			contrib: pipelineContributions(),
			ai:      &fakeSummarizer{blockFor: map[string]bool{"alice": true}},
			opts:    PipelineOptions{CallTimeout: 30 * time.Millisecond},
		},
		{
			name:    "contribution fetch error",
			contrib: &memContributions{err: errors.New("db down")},
			ai:      &fakeSummarizer{},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			p := NewPipeline(tc.contrib, tc.ai, store, tc.opts)

			res := p.Run(context.Background(), aliceUnit("2025-W10"), nil)
			if res.Outcome != OutcomeFailed || res.Err == nil {
				t.Fatalf("res=%+v, want failed", res)
			}
			if store.count() != 0 {
				t.Fatalf("rows=%d, want 0", store.count())
			}
		})
	}
}

type timeoutGate struct{}

func (timeoutGate) Acquire(context.Context) (func(), error) {
	return nil, ErrAcquireTimeout
}

func TestPipelineNoPermit(t *testing.T) {
	store := newMemStore()
	ai := &fakeSummarizer{}
	p := NewPipeline(pipelineContributions(), ai, store, PipelineOptions{})

	res := p.Run(context.Background(), aliceUnit("2025-W10"), timeoutGate{})
	if res.Outcome != OutcomeSkippedNoPermit || !errors.Is(res.Err, ErrAcquireTimeout) {
		t.Fatalf("res=%+v", res)
	}
	if ai.calls.Load() != 0 || store.count() != 0 {
		t.Fatalf("abandoned unit must not call AI or write")
	}
}

func TestPipelineIndexFailureKeepsOutcome(t *testing.T) {
	store := newMemStore()
	p := NewPipeline(pipelineContributions(), &fakeSummarizer{}, store, PipelineOptions{})
	p.SetIndexer(&recordingIndexer{err: errors.New("embedding down")})

	res := p.Run(context.Background(), aliceUnit("2025-W10"), nil)
	if res.Outcome != OutcomeGenerated {
		t.Fatalf("outcome=%s", res.Outcome)
	}
}

func TestPipelineRegenerateOverwrites(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := repository.NewSummaryRepository(db)
	ctx := context.Background()

	old := &schema.WeeklySummary{RepositoryID: 1, Username: "alice", WeekID: "2025-W10", Overview: "旧周报", CreatedAt: time.Now()}
	if _, err := store.InsertIfAbsent(ctx, old); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := NewPipeline(pipelineContributions(), &fakeSummarizer{}, store, PipelineOptions{})
	got, err := p.Regenerate(ctx, aliceUnit("2025-W10"))
	if err != nil {
		t.Fatalf("Regenerate err: %v", err)
	}
	if got.ID != old.ID || got.Overview == "旧周报" || got.TotalCount != 2 {
		t.Fatalf("got=%+v", got)
	}

	if _, err := p.Regenerate(ctx, aliceUnit("2025-W11")); !errors.Is(err, ErrNoActivity) {
		t.Fatalf("err=%v, want ErrNoActivity", err)
	}
}

// racingStore 在本次写入之前插入另一条同键周报，模拟并发写入
type racingStore struct {
	*memStore
	winner *schema.WeeklySummary
}

func (r *racingStore) InsertIfAbsent(ctx context.Context, s *schema.WeeklySummary) (bool, error) {
	if r.winner != nil {
		if _, err := r.memStore.InsertIfAbsent(ctx, r.winner); err != nil {
			return false, err
		}
		r.winner = nil
	}
	return r.memStore.InsertIfAbsent(ctx, s)
}

func TestPipelineLostInsertRaceReportsWinnerID(t *testing.T) {
	store := &racingStore{
		memStore: newMemStore(),
		winner:   &schema.WeeklySummary{RepositoryID: 1, Username: "alice", WeekID: "2025-W10", Overview: "先写入"},
	}
	p := NewPipeline(pipelineContributions(), &fakeSummarizer{}, store, PipelineOptions{})

	res := p.Run(context.Background(), aliceUnit("2025-W10"), nil)
	if res.Outcome != OutcomeSkippedExisting || res.Err != nil {
		t.Fatalf("res=%+v", res)
	}
	kept, _ := store.FindExisting(context.Background(), 1, "alice", "2025-W10")
	if kept == nil || kept.Overview != "先写入" {
		t.Fatalf("kept=%+v", kept)
	}
	if res.SummaryID == 0 || res.SummaryID != kept.ID {
		t.Fatalf("summary id=%d, want %d", res.SummaryID, kept.ID)
	}
}
