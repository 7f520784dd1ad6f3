package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// DefaultConfigPath 可执行文件目录下的 config/config.yaml
func DefaultConfigPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("获取可执行文件路径失败: %w", err)
	}
	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, "config", "config.yaml"), nil
}

// WriteFile 以 YAML 写出配置（密钥字段原样写出，建议使用 ${VAR} 占位符）
func WriteFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("cfg 不能为空")
	}
	if path == "" {
		return fmt.Errorf("path 不能为空")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	payload := map[string]any{
		"app": map[string]any{
			"name":      cfg.App.Name,
			"version":   cfg.App.Version,
			"log_level": cfg.App.LogLevel,
			"log_path":  cfg.App.LogPath,
		},
		"storage": map[string]any{
			"db_path": cfg.Storage.DBPath,
		},
		"ai": map[string]any{
			"engine":   cfg.AI.Engine,
			"language": cfg.AI.Language,
			"deepseek": map[string]any{
				"api_key":     cfg.AI.DeepSeek.APIKey,
				"base_url":    cfg.AI.DeepSeek.BaseURL,
				"model":       cfg.AI.DeepSeek.Model,
				"max_retries": cfg.AI.DeepSeek.MaxRetries,
			},
			"remote": map[string]any{
				"base_url":         cfg.AI.Remote.BaseURL,
				"api_key":          cfg.AI.Remote.APIKey,
				"poll_interval_ms": cfg.AI.Remote.PollIntervalMs,
			},
			"embedding": map[string]any{
				"api_key":  cfg.AI.Embedding.APIKey,
				"base_url": cfg.AI.Embedding.BaseURL,
				"model":    cfg.AI.Embedding.Model,
			},
		},
		"github": map[string]any{
			"base_url":         cfg.GitHub.BaseURL,
			"enrich":           cfg.GitHub.Enrich,
			"max_detail_fetch": cfg.GitHub.MaxDetailFetch,
		},
		"generation": map[string]any{
			"call_timeout_sec":  cfg.Generation.CallTimeoutSec,
			"fetch_timeout_sec": cfg.Generation.FetchTimeoutSec,
		},
		"backfill": map[string]any{
			"concurrency":         cfg.Backfill.Concurrency,
			"acquire_timeout_sec": cfg.Backfill.AcquireTimeoutSec,
			"request_delay_ms":    cfg.Backfill.RequestDelayMs,
			"user_delay_ms":       cfg.Backfill.UserDelayMs,
		},
		"schedule": map[string]any{
			"enabled":  cfg.Schedule.Enabled,
			"cron":     cfg.Schedule.Cron,
			"timezone": cfg.Schedule.Timezone,
		},
		"http": map[string]any{
			"listen_addr": cfg.HTTP.ListenAddr,
		},
		"index": map[string]any{
			"enabled": cfg.Index.Enabled,
			"path":    cfg.Index.Path,
		},
	}

	b, err := yaml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
