package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuqie6/WeekDigest/internal/ai"
	"github.com/yuqie6/WeekDigest/internal/eventbus"
	"github.com/yuqie6/WeekDigest/internal/gateway"
	"github.com/yuqie6/WeekDigest/internal/pkg/config"
	"github.com/yuqie6/WeekDigest/internal/repository"
	"github.com/yuqie6/WeekDigest/internal/service"
)

// Core 持有跨二进制共享的核心依赖
type Core struct {
	Cfg       *config.Config
	DB        *repository.Database
	LogCloser io.Closer
	Hub       *eventbus.Hub

	Repos struct {
		Summary      *repository.SummaryRepository
		Contribution *repository.ContributionRepository
		Registry     *repository.RegistryRepository
		Run          *repository.RunRepository
	}

	Clients struct {
		DeepSeek  *ai.DeepSeekClient
		Remote    *ai.RemoteEngine
		Embedding *ai.EmbeddingClient
		GitHub    *gateway.GitHubGateway
	}

	Services struct {
		Summarizer service.Summarizer
		Governor   *service.Governor
		Pipeline   *service.Pipeline
		Driver     *service.Driver
		Index      *service.SummaryIndex // 可选
	}
}

// NewCore 加载配置、初始化日志并构建核心依赖
func NewCore(cfgPath string) (*Core, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logCloser, err := config.SetupLogger(config.LoggerOptions{
		Level:     cfg.App.LogLevel,
		Path:      cfg.App.LogPath,
		Component: filepath.Base(os.Args[0]),
	})
	if err != nil {
		slog.Warn("日志文件初始化失败，仅输出到控制台", "error", err)
	}

	c, err := NewCoreWithConfig(cfg)
	if err != nil {
		if logCloser != nil {
			_ = logCloser.Close()
		}
		return nil, err
	}
	c.LogCloser = logCloser
	return c, nil
}

// NewCoreWithConfig 按已加载的配置构建（不处理日志）
func NewCoreWithConfig(cfg *config.Config) (*Core, error) {
	db, err := repository.NewDatabase(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	c := &Core{Cfg: cfg, DB: db, Hub: eventbus.NewHub()}

	// Repos
	c.Repos.Summary = repository.NewSummaryRepository(db.DB)
	c.Repos.Contribution = repository.NewContributionRepository(db.DB)
	c.Repos.Registry = repository.NewRegistryRepository(db.DB)
	c.Repos.Run = repository.NewRunRepository(db.DB)

	// Clients / Summarizer
	summarizer, err := c.buildSummarizer()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.Services.Summarizer = summarizer

	// Services
	c.Services.Governor = service.NewGovernor(cfg.Backfill.Concurrency, cfg.Backfill.AcquireTimeout())
	c.Services.Pipeline = service.NewPipeline(c.Repos.Contribution, summarizer, c.Repos.Summary, service.PipelineOptions{
		CallTimeout:  cfg.Generation.CallTimeout(),
		FetchTimeout: cfg.Generation.FetchTimeout(),
	})
	c.Services.Driver = service.NewDriver(c.Repos.Registry, c.Repos.Contribution, c.Services.Pipeline, c.Services.Governor, service.DriverConfig{
		RequestDelay: cfg.Backfill.RequestDelay(),
		UserDelay:    cfg.Backfill.UserDelay(),
	})
	c.Services.Driver.SetRunStore(c.Repos.Run)
	c.Services.Driver.SetEventPublisher(c.Hub)

	// 向量索引可选，失败不影响生成
	c.Clients.Embedding = ai.NewEmbeddingClient(&ai.EmbeddingConfig{
		APIKey:  cfg.AI.Embedding.APIKey,
		BaseURL: cfg.AI.Embedding.BaseURL,
		Model:   cfg.AI.Embedding.Model,
	})
	if cfg.Index.Enabled && c.Clients.Embedding.IsConfigured() {
		idx, err := service.NewSummaryIndex(cfg.Index.Path, service.EmbeddingFuncFrom(c.Clients.Embedding))
		if err != nil {
			slog.Warn("周报索引初始化失败，已禁用", "error", err)
		} else {
			c.Services.Index = idx
			c.Services.Pipeline.SetIndexer(idx)
		}
	}

	return c, nil
}

func (c *Core) buildSummarizer() (service.Summarizer, error) {
	cfg := c.Cfg
	switch strings.ToLower(cfg.AI.Engine) {
	case "remote":
		c.Clients.Remote = ai.NewRemoteEngine(ai.RemoteConfig{
			BaseURL:      cfg.AI.Remote.BaseURL,
			APIKey:       cfg.AI.Remote.APIKey,
			PollInterval: cfg.AI.Remote.PollInterval(),
		})
		return c.Clients.Remote, nil
	default:
		c.Clients.DeepSeek = ai.NewDeepSeekClient(&ai.DeepSeekConfig{
			APIKey:     cfg.AI.DeepSeek.APIKey,
			BaseURL:    cfg.AI.DeepSeek.BaseURL,
			Model:      cfg.AI.DeepSeek.Model,
			MaxRetries: cfg.AI.DeepSeek.MaxRetries,
		})
		var detailer ai.ContributionDetailer
		if cfg.GitHub.Enrich {
			gh, err := gateway.NewGitHubGateway(gateway.Options{BaseURL: cfg.GitHub.BaseURL})
			if err != nil {
				return nil, fmt.Errorf("初始化 GitHub 网关失败: %w", err)
			}
			c.Clients.GitHub = gh
			detailer = gh
		}
		return ai.NewWeeklyAnalyzer(c.Clients.DeepSeek, detailer, ai.AnalyzerOptions{
			Language:   cfg.AI.Language,
			MaxDetails: cfg.GitHub.MaxDetailFetch,
		}), nil
	}
}

// RecoverRuns 把上次进程退出时未结束的运行标记为 cancelled
func (c *Core) RecoverRuns(ctx context.Context) {
	n, err := c.Repos.Run.MarkInterrupted(ctx)
	if err != nil {
		slog.Warn("恢复运行记录失败", "error", err)
		return
	}
	if n > 0 {
		slog.Info("已标记中断的运行记录", "count", n)
	}
}

// Close 关闭核心依赖资源
func (c *Core) Close() error {
	if c == nil {
		return nil
	}
	var dbErr error
	if c.DB != nil {
		dbErr = c.DB.Close()
	}
	if c.LogCloser != nil {
		_ = c.LogCloser.Close()
	}
	return dbErr
}

// RequireAIConfigured 检查 AI 是否已配置
func (c *Core) RequireAIConfigured() error {
	switch {
	case c.Clients.Remote != nil:
		if !c.Clients.Remote.IsConfigured() {
			return fmt.Errorf("远端周报服务未配置 (ai.remote.base_url)")
		}
	case c.Clients.DeepSeek == nil || !c.Clients.DeepSeek.IsConfigured():
		return fmt.Errorf("DeepSeek API 未配置 (ai.deepseek.api_key)")
	}
	return nil
}

// ApplyConfig 应用可热更新的配置项
func (c *Core) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	config.SetLogLevel(cfg.App.LogLevel)
	c.Cfg.App.LogLevel = cfg.App.LogLevel
}
