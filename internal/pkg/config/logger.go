package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LoggerOptions 日志初始化参数
type LoggerOptions struct {
	Level     string
	Path      string // 为空则只输出到 stdout
	Component string
}

// logLevel 全局日志级别，配置热更新时通过 SetLogLevel 调整
var logLevel = new(slog.LevelVar)

// SetupLogger 根据配置设置默认 logger，返回日志文件的 Closer（可能为 nil）
func SetupLogger(opts LoggerOptions) (io.Closer, error) {
	logLevel.Set(ParseLevel(opts.Level))

	var (
		w      io.Writer = os.Stdout
		closer io.Closer
	)
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	if opts.Component != "" {
		logger = logger.With("component", opts.Component)
	}
	slog.SetDefault(logger)
	return closer, nil
}

// SetLogLevel 运行时调整日志级别
func SetLogLevel(level string) {
	lv := ParseLevel(level)
	if logLevel.Level() != lv {
		slog.Info("日志级别已更新", "level", lv.String())
	}
	logLevel.Set(lv)
}

// ParseLevel 解析日志级别，无法识别时返回 info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
