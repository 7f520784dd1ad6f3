package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/yuqie6/WeekDigest/internal/eventbus"
	"github.com/yuqie6/WeekDigest/internal/repository"
	"github.com/yuqie6/WeekDigest/internal/schema"
	"github.com/yuqie6/WeekDigest/internal/testutil"
)

// 2025-03-19 属于 2025-W12
var fixedNow = time.Date(2025, 3, 19, 8, 0, 0, 0, time.UTC)

func newTestDriver(registry RepositoryRegistry, contrib ContributionGateway, store SummaryStore, ai Summarizer, gov *Governor, cfg DriverConfig, opts PipelineOptions) *Driver {
	p := NewPipeline(contrib, ai, store, opts)
	p.now = func() time.Time { return fixedNow }
	d := NewDriver(registry, contrib, p, gov, cfg)
	d.now = func() time.Time { return fixedNow }
	return d
}

func TestDriverBackfillScenario(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	repo := testutil.SeedRepository(t, db, "https://github.com/acme/widgets.git", "ghp_token")
	testutil.SeedRepository(t, db, "https://github.com/acme/no-token", "")

	// alice: W09 有贡献，W11 已有周报，W10/W12 无选中贡献
	testutil.SeedContribution(t, db, repo.ID, "alice", schema.ContributionCommit, "c1", testutil.Date(2025, 2, 25, 10))
	testutil.SeedContribution(t, db, repo.ID, "alice", schema.ContributionCommit, "c2", testutil.Date(2025, 3, 11, 10))

	store := repository.NewSummaryRepository(db)
	if _, err := store.InsertIfAbsent(ctx, &schema.WeeklySummary{RepositoryID: repo.ID, Username: "alice", WeekID: "2025-W11", Overview: "已存在", CreatedAt: fixedNow}); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	ai := &fakeSummarizer{}
	runs := &memRuns{}
	d := newTestDriver(repository.NewRegistryRepository(db), repository.NewContributionRepository(db), store, ai,
		NewGovernor(2, time.Second), DriverConfig{}, PipelineOptions{})
	d.SetRunStore(runs)

	report, err := d.RunBackfill(ctx)
	if err != nil {
		t.Fatalf("RunBackfill err: %v", err)
	}
	if report.Generated != 1 || report.Skipped != 3 || report.Failed != 0 {
		t.Fatalf("generated=%d skipped=%d failed=%d, want 1/3/0 (%v)", report.Generated, report.Skipped, report.Failed, report.Outcomes)
	}
	if report.Outcomes[OutcomeSkippedExisting] != 1 || report.Outcomes[OutcomeSkippedNoActivity] != 2 {
		t.Fatalf("outcomes=%v", report.Outcomes)
	}

	got, _ := store.FindExisting(ctx, repo.ID, "alice", "2025-W09")
	if got == nil || got.CommitCount != 1 {
		t.Fatalf("W09 summary=%+v", got)
	}
	kept, _ := store.FindExisting(ctx, repo.ID, "alice", "2025-W11")
	if kept.Overview != "已存在" {
		t.Fatalf("existing summary overwritten: %q", kept.Overview)
	}

	run := runs.get(report.RunID)
	if run.Status != schema.RunStatusCompleted || run.Generated != 1 || run.CompletedAt == nil {
		t.Fatalf("persisted run=%+v", run)
	}
	if report.Latency.Count != 1 {
		t.Fatalf("latency samples=%d, want 1", report.Latency.Count)
	}
}

func TestDriverBackfillEarliestUnselectedWeek(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	repo := testutil.SeedRepository(t, db, "https://github.com/acme/widgets", "ghp_token")

	// W09 只有未选中的贡献（但它决定最早周），W10 有选中贡献，W11 为空，当前为 W12
	unselected := schema.Contribution{RepositoryID: repo.ID, Author: "alice", Type: schema.ContributionIssue,
		ExternalID: "1", Selected: false, CreatedAt: testutil.Date(2025, 2, 25, 10)}
	if err := db.Create(&unselected).Error; err != nil {
		t.Fatalf("seed unselected: %v", err)
	}
	testutil.SeedContribution(t, db, repo.ID, "alice", schema.ContributionCommit, "c1", testutil.Date(2025, 3, 5, 10))

	store := repository.NewSummaryRepository(db)
	ai := &fakeSummarizer{}
	d := newTestDriver(repository.NewRegistryRepository(db), repository.NewContributionRepository(db), store, ai,
		NewGovernor(2, time.Second), DriverConfig{}, PipelineOptions{})

	report, err := d.RunBackfill(ctx)
	if err != nil {
		t.Fatalf("RunBackfill err: %v", err)
	}
	if report.Generated != 1 || report.Skipped != 3 || report.Failed != 0 {
		t.Fatalf("generated=%d skipped=%d failed=%d, want 1/3/0 (%v)", report.Generated, report.Skipped, report.Failed, report.Outcomes)
	}
	if report.Outcomes[OutcomeSkippedNoActivity] != 3 {
		t.Fatalf("outcomes=%v", report.Outcomes)
	}
	if got := ai.calls.Load(); got != 1 {
		t.Fatalf("ai calls=%d, want 1", got)
	}
	for week, want := range map[string]bool{"2025-W09": false, "2025-W10": true, "2025-W11": false, "2025-W12": false} {
		got, _ := store.FindExisting(ctx, repo.ID, "alice", week)
		if (got != nil) != want {
			t.Fatalf("%s summary present=%v, want %v", week, got != nil, want)
		}
	}
}

func TestDriverBackfillTimeoutContinues(t *testing.T) {
	contrib := &memContributions{items: []schema.Contribution{
		contribution(1, "alice", schema.ContributionCommit, "a1", day(2025, 3, 17)),
		contribution(1, "bob", schema.ContributionCommit, "b1", day(2025, 3, 17)),
		contribution(1, "carol", schema.ContributionCommit, "c1", day(2025, 3, 18)),
	}}
	registry := &memRegistry{
		repos:  []schema.Repository{{ID: 1, Link: "https://github.com/acme/widgets"}},
		tokens: map[int64]string{1: "tok"},
	}
	store := newMemStore()
	ai := &fakeSummarizer{blockFor: map[string]bool{"bob": true}}
	d := newTestDriver(registry, contrib, store, ai, NewGovernor(5, time.Second), DriverConfig{},
		PipelineOptions{CallTimeout: 30 * time.Millisecond})
	logs := captureLogs(t)

	report, err := d.RunBackfill(context.Background())
	if err != nil {
		t.Fatalf("RunBackfill err: %v", err)
	}
	if report.Generated != 2 || report.Failed != 1 {
		t.Fatalf("generated=%d failed=%d, want 2/1", report.Generated, report.Failed)
	}
	if bob, _ := store.FindExisting(context.Background(), 1, "bob", "2025-W12"); bob != nil {
		t.Fatalf("timed out unit must not write a row")
	}
	if n := logs.count(slog.LevelError, "AI 生成周报失败"); n != 1 {
		t.Fatalf("logged AI failures=%d, want 1", n)
	}
}

func TestDriverBackfillRespectsConcurrency(t *testing.T) {
	// 10 周：2025-W03 .. 2025-W12，每周都有贡献
	var items []schema.Contribution
	start := day(2025, 1, 14)
	for i := 0; i < 10; i++ {
		items = append(items, contribution(1, "alice", schema.ContributionCommit, "c", start.AddDate(0, 0, 7*i)))
	}
	registry := &memRegistry{
		repos:  []schema.Repository{{ID: 1, Link: "git@github.com:acme/widgets.git"}},
		tokens: map[int64]string{1: "tok"},
	}
	store := newMemStore()
	ai := &fakeSummarizer{delay: 20 * time.Millisecond}
	gov := NewGovernor(2, 10*time.Second)
	d := newTestDriver(registry, &memContributions{items: items}, store, ai, gov, DriverConfig{}, PipelineOptions{})

	report, err := d.RunBackfill(context.Background())
	if err != nil {
		t.Fatalf("RunBackfill err: %v", err)
	}
	if report.Generated != 10 || store.count() != 10 {
		t.Fatalf("generated=%d rows=%d, want 10", report.Generated, store.count())
	}
	if peak := ai.maxInFlight.Load(); peak > 2 {
		t.Fatalf("peak in-flight AI calls=%d, want <=2", peak)
	}
	if gov.InFlight() != 0 {
		t.Fatalf("permits leaked: %d", gov.InFlight())
	}
}

func TestDriverBackfillCancellation(t *testing.T) {
	var items []schema.Contribution
	start := day(2025, 1, 14)
	for i := 0; i < 10; i++ {
		items = append(items, contribution(1, "alice", schema.ContributionCommit, "c", start.AddDate(0, 0, 7*i)))
	}
	registry := &memRegistry{
		repos:  []schema.Repository{{ID: 1, Link: "https://github.com/acme/widgets"}},
		tokens: map[int64]string{1: "tok"},
	}
	store := newMemStore()
	ai := &fakeSummarizer{delay: 40 * time.Millisecond}
	runs := &memRuns{}
	d := newTestDriver(registry, &memContributions{items: items}, store, ai, NewGovernor(5, time.Second),
		DriverConfig{RequestDelay: 30 * time.Millisecond}, PipelineOptions{})
	d.SetRunStore(runs)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(75*time.Millisecond, cancel)

	report, err := d.RunBackfill(ctx)
	if err != nil {
		t.Fatalf("RunBackfill err: %v", err)
	}
	if !report.Cancelled {
		t.Fatalf("report should be marked cancelled")
	}
	total := report.Total()
	if total == 0 || total >= 10 {
		t.Fatalf("issued units=%d, want between 1 and 9", total)
	}
	// 已发起的单元全部完整写入
	if report.Failed != 0 || report.Generated != store.count() || report.Generated != total {
		t.Fatalf("generated=%d failed=%d rows=%d total=%d", report.Generated, report.Failed, store.count(), total)
	}
	if run := runs.get(report.RunID); run.Status != schema.RunStatusCancelled {
		t.Fatalf("run status=%s, want cancelled", run.Status)
	}
	if d.BackfillRunning() {
		t.Fatalf("backfill flag not reset")
	}
}

func TestDriverSingleBackfill(t *testing.T) {
	contrib := &memContributions{items: []schema.Contribution{
		contribution(1, "alice", schema.ContributionCommit, "a1", day(2025, 3, 17)),
	}}
	registry := &memRegistry{
		repos:  []schema.Repository{{ID: 1, Link: "https://github.com/acme/widgets"}},
		tokens: map[int64]string{1: "tok"},
	}
	ai := &fakeSummarizer{delay: 100 * time.Millisecond}
	d := newTestDriver(registry, contrib, newMemStore(), ai, nil, DriverConfig{}, PipelineOptions{})

	runID, err := d.StartBackfill(context.Background())
	if err != nil || runID == "" {
		t.Fatalf("StartBackfill id=%q err=%v", runID, err)
	}
	if _, err := d.RunBackfill(context.Background()); !errors.Is(err, ErrBackfillRunning) {
		t.Fatalf("err=%v, want ErrBackfillRunning", err)
	}
	if _, err := d.StartBackfill(context.Background()); !errors.Is(err, ErrBackfillRunning) {
		t.Fatalf("err=%v, want ErrBackfillRunning", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.BackfillRunning() {
		if time.Now().After(deadline) {
			t.Fatalf("background backfill did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := d.RunBackfill(context.Background()); err != nil {
		t.Fatalf("second backfill err: %v", err)
	}
}

func TestDriverRunWeekly(t *testing.T) {
	contrib := &memContributions{items: []schema.Contribution{
		// 上一周 2025-W11 = 2025-03-10 .. 2025-03-16
		contribution(1, "alice", schema.ContributionCommit, "a1", day(2025, 3, 11)),
		contribution(1, "bob", schema.ContributionCommit, "b1", day(2025, 3, 18)),
		contribution(2, "carol", schema.ContributionCommit, "c1", day(2025, 3, 12)),
	}}
	registry := &memRegistry{
		repos: []schema.Repository{
			{ID: 1, Link: "https://github.com/acme/widgets"},
			{ID: 2, Link: "https://github.com/acme/secret"},
		},
		tokens: map[int64]string{1: "tok"},
	}
	store := newMemStore()
	hub := eventbus.NewHub()
	events := hub.Subscribe(context.Background(), 32)

	d := newTestDriver(registry, contrib, store, &fakeSummarizer{}, nil, DriverConfig{}, PipelineOptions{})
	d.SetEventPublisher(hub)

	report, err := d.RunWeekly(context.Background())
	if err != nil {
		t.Fatalf("RunWeekly err: %v", err)
	}
	// carol 所在仓库没有凭证；bob 的贡献在本周而不是上周
	if report.Generated != 1 || report.Outcomes[OutcomeSkippedNoActivity] != 1 {
		t.Fatalf("outcomes=%v", report.Outcomes)
	}
	if s, _ := store.FindExisting(context.Background(), 1, "alice", "2025-W11"); s == nil {
		t.Fatalf("alice W11 summary missing")
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if len(types) != 4 || types[0] != eventbus.TypeRunStarted || types[3] != eventbus.TypeRunFinished {
		t.Fatalf("events=%v", types)
	}
}

func TestDriverRegenerate(t *testing.T) {
	contrib := &memContributions{items: []schema.Contribution{
		contribution(1, "alice", schema.ContributionCommit, "a1", day(2025, 3, 11)),
	}}
	registry := &memRegistry{
		repos:  []schema.Repository{{ID: 1, Link: "https://github.com/acme/widgets"}, {ID: 2, Link: "https://github.com/acme/x"}},
		tokens: map[int64]string{1: "tok"},
	}
	store := newMemStore()
	d := newTestDriver(registry, contrib, store, &fakeSummarizer{}, nil, DriverConfig{}, PipelineOptions{})
	ctx := context.Background()

	s, err := d.Regenerate(ctx, 1, "alice", "2025-W11")
	if err != nil || s == nil || s.TotalCount != 1 {
		t.Fatalf("s=%+v err=%v", s, err)
	}
	if _, err := d.Regenerate(ctx, 2, "alice", "2025-W11"); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err=%v, want ErrMissingCredential", err)
	}
	if _, err := d.Regenerate(ctx, 1, "alice", "2025-11"); err == nil {
		t.Fatalf("expected invalid week error")
	}
	if _, err := d.Regenerate(ctx, 9, "alice", "2025-W11"); err == nil {
		t.Fatalf("expected missing repository error")
	}
}

func TestDriverRunWeeklyUsesUTCWeek(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	contrib := &memContributions{items: []schema.Contribution{
		contribution(1, "alice", schema.ContributionCommit, "a1", day(2025, 3, 12)),
	}}
	registry := &memRegistry{
		repos:  []schema.Repository{{ID: 1, Link: "https://github.com/acme/widgets"}},
		tokens: map[int64]string{1: "tok"},
	}
	store := newMemStore()
	d := newTestDriver(registry, contrib, store, &fakeSummarizer{}, nil, DriverConfig{}, PipelineOptions{})
	// 周一 03:00 UTC 的定时触发，在纽约仍是周日晚上
	d.now = func() time.Time { return time.Date(2025, 3, 17, 3, 0, 0, 0, time.UTC).In(ny) }

	report, err := d.RunWeekly(context.Background())
	if err != nil {
		t.Fatalf("RunWeekly err: %v", err)
	}
	if report.Generated != 1 {
		t.Fatalf("outcomes=%v, want W11 generated", report.Outcomes)
	}
	if s, _ := store.FindExisting(context.Background(), 1, "alice", "2025-W11"); s == nil {
		t.Fatalf("alice W11 summary missing")
	}
}

func TestLastWeekID(t *testing.T) {
	tokyo := time.FixedZone("UTC+9", 9*3600)
	cases := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2025, 3, 17, 3, 0, 0, 0, time.UTC), "2025-W11"},
		{time.Date(2025, 3, 16, 23, 0, 0, 0, time.FixedZone("UTC-5", -5*3600)), "2025-W11"},
		{time.Date(2025, 3, 17, 8, 0, 0, 0, tokyo), "2025-W10"},
		{time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), "2025-W01"},
	}
	for _, c := range cases {
		if got := LastWeekID(c.now); got != c.want {
			t.Fatalf("LastWeekID(%v)=%s, want %s", c.now, got, c.want)
		}
	}
}
