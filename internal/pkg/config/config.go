package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Storage    StorageConfig    `mapstructure:"storage"`
	AI         AIConfig         `mapstructure:"ai"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	Generation GenerationConfig `mapstructure:"generation"`
	Backfill   BackfillConfig   `mapstructure:"backfill"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Index      IndexConfig      `mapstructure:"index"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// AIConfig AI 配置
type AIConfig struct {
	Engine    string          `mapstructure:"engine"`   // deepseek | remote
	Language  string          `mapstructure:"language"` // 周报输出语言
	DeepSeek  DeepSeekConfig  `mapstructure:"deepseek"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
}

// DeepSeekConfig DeepSeek 配置
type DeepSeekConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// RemoteConfig 外部周报生成服务配置
type RemoteConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
}

// EmbeddingConfig 向量嵌入服务配置（OpenAI 兼容接口）
type EmbeddingConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// GitHubConfig GitHub 明细补全配置
type GitHubConfig struct {
	BaseURL        string `mapstructure:"base_url"` // GitHub Enterprise 时填写
	Enrich         bool   `mapstructure:"enrich"`
	MaxDetailFetch int    `mapstructure:"max_detail_fetch"`
}

// GenerationConfig 单个生成单元的超时
type GenerationConfig struct {
	CallTimeoutSec  int `mapstructure:"call_timeout_sec"`
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec"`
}

// BackfillConfig 回填限流配置
type BackfillConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	AcquireTimeoutSec int `mapstructure:"acquire_timeout_sec"`
	RequestDelayMs    int `mapstructure:"request_delay_ms"`
	UserDelayMs       int `mapstructure:"user_delay_ms"`
}

// ScheduleConfig 定时任务配置
type ScheduleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
}

// HTTPConfig 管理接口配置
type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// IndexConfig 周报向量索引配置
type IndexConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// PollInterval 远端任务轮询间隔
func (r RemoteConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

// CallTimeout AI 调用超时
func (g GenerationConfig) CallTimeout() time.Duration {
	return time.Duration(g.CallTimeoutSec) * time.Second
}

// FetchTimeout 贡献拉取超时
func (g GenerationConfig) FetchTimeout() time.Duration {
	return time.Duration(g.FetchTimeoutSec) * time.Second
}

// AcquireTimeout 获取并发许可的超时
func (b BackfillConfig) AcquireTimeout() time.Duration {
	return time.Duration(b.AcquireTimeoutSec) * time.Second
}

// RequestDelay 同一用户相邻两周之间的间隔
func (b BackfillConfig) RequestDelay() time.Duration {
	return time.Duration(b.RequestDelayMs) * time.Millisecond
}

// UserDelay 相邻两个用户之间的间隔
func (b BackfillConfig) UserDelay() time.Duration {
	return time.Duration(b.UserDelayMs) * time.Millisecond
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// 支持环境变量，如 DIGEST_AI_DEEPSEEK_API_KEY
	v.SetEnvPrefix("DIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, fs.ErrNotExist) {
			slog.Warn("配置文件未找到，使用默认配置")
		} else {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		slog.Info("加载配置文件", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 处理环境变量占位符
	cfg.AI.DeepSeek.APIKey = expandEnv(cfg.AI.DeepSeek.APIKey)
	cfg.AI.Remote.APIKey = expandEnv(cfg.AI.Remote.APIKey)
	cfg.AI.Embedding.APIKey = expandEnv(cfg.AI.Embedding.APIKey)

	cfg.Storage.DBPath = resolvePath(cfg.Storage.DBPath)
	cfg.Index.Path = resolvePath(cfg.Index.Path)
	if cfg.App.LogPath != "" {
		cfg.App.LogPath = resolvePath(cfg.App.LogPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部取默认值的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	switch strings.ToLower(c.AI.Engine) {
	case "deepseek", "remote":
	default:
		return fmt.Errorf("ai.engine 仅支持 deepseek/remote: %q", c.AI.Engine)
	}
	if c.Backfill.Concurrency < 0 {
		return fmt.Errorf("backfill.concurrency 不能为负数")
	}
	if c.Backfill.RequestDelayMs < 0 || c.Backfill.UserDelayMs < 0 {
		return fmt.Errorf("backfill 间隔不能为负数")
	}
	if c.Schedule.Enabled && strings.TrimSpace(c.Schedule.Cron) == "" {
		return fmt.Errorf("schedule.cron 不能为空")
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "digest-agent")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_path", "")

	// Storage
	v.SetDefault("storage.db_path", "./data/digest.db")

	// AI
	v.SetDefault("ai.engine", "deepseek")
	v.SetDefault("ai.language", "中文")
	v.SetDefault("ai.deepseek.api_key", "")
	v.SetDefault("ai.deepseek.base_url", "https://api.deepseek.com")
	v.SetDefault("ai.deepseek.model", "deepseek-chat")
	v.SetDefault("ai.deepseek.max_retries", 3)
	v.SetDefault("ai.remote.base_url", "")
	v.SetDefault("ai.remote.api_key", "")
	v.SetDefault("ai.remote.poll_interval_ms", 2000)
	v.SetDefault("ai.embedding.api_key", "")
	v.SetDefault("ai.embedding.base_url", "https://api.siliconflow.cn")
	v.SetDefault("ai.embedding.model", "BAAI/bge-m3")

	// GitHub
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.enrich", true)
	v.SetDefault("github.max_detail_fetch", 50)

	// Generation
	v.SetDefault("generation.call_timeout_sec", 120)
	v.SetDefault("generation.fetch_timeout_sec", 30)

	// Backfill
	v.SetDefault("backfill.concurrency", 5)
	v.SetDefault("backfill.acquire_timeout_sec", 30)
	v.SetDefault("backfill.request_delay_ms", 2000)
	v.SetDefault("backfill.user_delay_ms", 5000)

	// Schedule：每周一 03:00 生成上周周报
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.cron", "0 3 * * 1")
	v.SetDefault("schedule.timezone", "UTC")

	// HTTP
	v.SetDefault("http.listen_addr", "127.0.0.1:8787")

	// Index
	v.SetDefault("index.enabled", false)
	v.SetDefault("index.path", "./data/index")
}

// expandEnv 展开环境变量占位符 ${VAR}
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		envVar := s[2 : len(s)-1]
		return os.Getenv(envVar)
	}
	return s
}

// resolvePath 解析相对路径为可执行文件目录下的绝对路径
func resolvePath(path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}

	exe, err := os.Executable()
	if err != nil {
		return path
	}

	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, path)
}
