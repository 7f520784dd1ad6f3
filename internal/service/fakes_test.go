package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yuqie6/WeekDigest/internal/ai"
	"github.com/yuqie6/WeekDigest/internal/pkg/isoweek"
	"github.com/yuqie6/WeekDigest/internal/schema"
)

// fakeSummarizer 可控的 AI 网关
type fakeSummarizer struct {
	delay    time.Duration
	errFor   map[string]error // 按用户注入错误
	blockFor map[string]bool  // 按用户阻塞到 ctx 结束

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeSummarizer) GenerateWeeklySummary(ctx context.Context, req *ai.WeeklySummaryRequest) (*ai.WeeklySummaryResult, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.blockFor[req.Username] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errFor[req.Username]; err != nil {
		return nil, err
	}
	return &ai.WeeklySummaryResult{
		Overview:        fmt.Sprintf("%s 在 %s 的周报", req.Username, req.WeekID),
		KeyAchievements: []string{"完成任务"},
		Counts:          ai.CountContributions(req.Contributions),
	}, nil
}

// memStore 内存 SummaryStore
type memStore struct {
	mu     sync.Mutex
	rows   map[string]*schema.WeeklySummary
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*schema.WeeklySummary)}
}

func storeKey(repoID int64, user, week string) string {
	return fmt.Sprintf("%d|%s|%s", repoID, user, week)
}

func (m *memStore) FindExisting(_ context.Context, repoID int64, user, week string) (*schema.WeeklySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[storeKey(repoID, user, week)]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) InsertIfAbsent(_ context.Context, s *schema.WeeklySummary) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := storeKey(s.RepositoryID, s.Username, s.WeekID)
	if _, ok := m.rows[k]; ok {
		return false, nil
	}
	m.nextID++
	s.ID = m.nextID
	cp := *s
	m.rows[k] = &cp
	return true, nil
}

func (m *memStore) Upsert(_ context.Context, s *schema.WeeklySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := storeKey(s.RepositoryID, s.Username, s.WeekID)
	if old, ok := m.rows[k]; ok {
		s.ID = old.ID
	} else {
		m.nextID++
		s.ID = m.nextID
	}
	cp := *s
	m.rows[k] = &cp
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memContributions 内存 ContributionGateway
type memContributions struct {
	items []schema.Contribution
	err   error
}

func (m *memContributions) ContributionsFor(_ context.Context, user, weekID string) ([]schema.Contribution, error) {
	if m.err != nil {
		return nil, m.err
	}
	start, end, err := isoweek.Range(weekID)
	if err != nil {
		return nil, err
	}
	var out []schema.Contribution
	for _, c := range m.items {
		if c.Author == user && !c.CreatedAt.Before(start) && c.CreatedAt.Before(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memContributions) EarliestContributionDate(_ context.Context, user string, repoID int64) (time.Time, bool, error) {
	var first time.Time
	found := false
	for _, c := range m.items {
		if c.Author != user || c.RepositoryID != repoID {
			continue
		}
		if !found || c.CreatedAt.Before(first) {
			first, found = c.CreatedAt, true
		}
	}
	return first, found, nil
}

func (m *memContributions) ContributorsOf(_ context.Context, repoID int64) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, c := range m.items {
		if c.RepositoryID == repoID && !seen[c.Author] {
			seen[c.Author] = true
			out = append(out, c.Author)
		}
	}
	sort.Strings(out)
	return out, nil
}

// memRegistry 内存 RepositoryRegistry
type memRegistry struct {
	repos  []schema.Repository
	tokens map[int64]string
}

func (m *memRegistry) ListRepositories(context.Context) ([]schema.Repository, error) {
	return m.repos, nil
}

func (m *memRegistry) GetRepository(_ context.Context, id int64) (*schema.Repository, error) {
	for _, r := range m.repos {
		if r.ID == id {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRegistry) ResolveCredential(_ context.Context, id int64) (string, bool, error) {
	tok, ok := m.tokens[id]
	return tok, ok && tok != "", nil
}

// recordingIndexer 记录被索引的周报
type recordingIndexer struct {
	mu    sync.Mutex
	weeks []string
	err   error
}

func (r *recordingIndexer) IndexSummary(_ context.Context, s *schema.WeeklySummary, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weeks = append(r.weeks, s.WeekID)
	return r.err
}

// memRuns 内存 RunStore
type memRuns struct {
	mu   sync.Mutex
	runs map[string]schema.GenerationRun
}

func (m *memRuns) Create(_ context.Context, run *schema.GenerationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]schema.GenerationRun{}
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) Finish(_ context.Context, run *schema.GenerationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return errors.New("run not found")
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) get(id string) schema.GenerationRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

func contribution(repoID int64, user, typ, id string, at time.Time) schema.Contribution {
	return schema.Contribution{RepositoryID: repoID, Author: user, Type: typ, ExternalID: id, Selected: true, CreatedAt: at}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// logRecorder 捕获 slog 记录
type logRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

func (r *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *logRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec.Clone())
	return nil
}

func (r *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *logRecorder) WithGroup(string) slog.Handler      { return r }

// count 统计指定级别与消息的记录数
func (r *logRecorder) count(level slog.Level, msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Level == level && rec.Message == msg {
			n++
		}
	}
	return n
}

// captureLogs 替换默认 logger，测试结束时恢复
func captureLogs(t *testing.T) *logRecorder {
	t.Helper()
	rec := &logRecorder{}
	prev := slog.Default()
	slog.SetDefault(slog.New(rec))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return rec
}
