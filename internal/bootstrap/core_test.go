package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yuqie6/WeekDigest/internal/pkg/config"
	"github.com/yuqie6/WeekDigest/internal/schema"
)

func testConfig(engine string) *config.Config {
	cfg := config.Default()
	cfg.Storage.DBPath = ":memory:"
	cfg.AI.Engine = engine
	return cfg
}

func TestNewCoreWithConfigDeepSeek(t *testing.T) {
	cfg := testConfig("deepseek")
	cfg.AI.DeepSeek.APIKey = "sk-test"

	c, err := NewCoreWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewCoreWithConfig err: %v", err)
	}
	defer c.Close()

	if c.Services.Driver == nil || c.Services.Pipeline == nil || c.Services.Governor == nil {
		t.Fatalf("services not wired: %+v", c.Services)
	}
	if c.Clients.GitHub == nil {
		t.Fatalf("github enrichment should be on by default")
	}
	if c.Services.Governor.Capacity() != 5 {
		t.Fatalf("capacity=%d, want 5", c.Services.Governor.Capacity())
	}
	if err := c.RequireAIConfigured(); err != nil {
		t.Fatalf("RequireAIConfigured err: %v", err)
	}
	if c.Services.Index != nil {
		t.Fatalf("index should be disabled by default")
	}
}

func TestNewCoreWithConfigRemote(t *testing.T) {
	c, err := NewCoreWithConfig(testConfig("remote"))
	if err != nil {
		t.Fatalf("NewCoreWithConfig err: %v", err)
	}
	defer c.Close()

	if c.Clients.Remote == nil || c.Clients.DeepSeek != nil {
		t.Fatalf("remote engine expected")
	}
	if err := c.RequireAIConfigured(); err == nil {
		t.Fatalf("remote engine without base_url should be unconfigured")
	}
}

func TestNewCoreWithConfigIndex(t *testing.T) {
	cfg := testConfig("deepseek")
	cfg.Index.Enabled = true
	cfg.Index.Path = t.TempDir()
	cfg.AI.Embedding.APIKey = "emb"

	c, err := NewCoreWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewCoreWithConfig err: %v", err)
	}
	defer c.Close()

	if c.Services.Index == nil {
		t.Fatalf("index should be enabled")
	}
}

// 构建 Core 不能动别的进程正在进行的运行；只有显式 RecoverRuns 才会标记中断
func TestNewCoreLeavesRunningRunsUntilRecover(t *testing.T) {
	cfg := testConfig("deepseek")
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "digest.db")
	ctx := context.Background()

	agent, err := NewCoreWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewCoreWithConfig err: %v", err)
	}
	defer agent.Close()
	run := &schema.GenerationRun{ID: "in-flight", Kind: schema.RunKindBackfill, Status: schema.RunStatusRunning, StartedAt: time.Now()}
	if err := agent.Repos.Run.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	cli, err := NewCoreWithConfig(cfg)
	if err != nil {
		t.Fatalf("second core err: %v", err)
	}
	runs, err := cli.Repos.Run.ListRecent(ctx, 10)
	if err != nil || len(runs) != 1 || runs[0].Status != schema.RunStatusRunning {
		t.Fatalf("runs=%+v err=%v, want still running", runs, err)
	}
	_ = cli.Close()

	agent.RecoverRuns(ctx)
	runs, _ = agent.Repos.Run.ListRecent(ctx, 10)
	if runs[0].Status != schema.RunStatusCancelled {
		t.Fatalf("status=%s, want cancelled after RecoverRuns", runs[0].Status)
	}
}
