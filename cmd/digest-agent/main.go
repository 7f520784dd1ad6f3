package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yuqie6/WeekDigest/internal/bootstrap"
	"github.com/yuqie6/WeekDigest/internal/httpapi"
	"github.com/yuqie6/WeekDigest/internal/pkg/config"
	"github.com/yuqie6/WeekDigest/internal/scheduler"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgPath := os.Getenv("DIGEST_CONFIG")
	if cfgPath == "" {
		if p, err := config.DefaultConfigPath(); err == nil {
			cfgPath = p
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				_ = config.WriteFile(cfgPath, config.Default())
			}
		}
	}

	core, err := bootstrap.NewCore(cfgPath)
	if err != nil {
		slog.Error("启动 Agent 失败", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	slog.Info("WeekDigest Agent 启动中...", "name", core.Cfg.App.Name, "version", core.Cfg.App.Version)
	core.RecoverRuns(ctx)
	if err := core.RequireAIConfigured(); err != nil {
		slog.Warn("AI 未配置，生成任务将全部失败", "error", err)
	}

	// ========== 定时任务 ==========
	var sched *scheduler.Scheduler
	if core.Cfg.Schedule.Enabled {
		sched, err = scheduler.New(core.Cfg.Schedule.Timezone)
		if err == nil {
			err = sched.Schedule("weekly-digest", core.Cfg.Schedule.Cron, func(jobCtx context.Context) {
				if _, err := core.Services.Driver.RunWeekly(jobCtx); err != nil {
					slog.Error("定时周报运行失败", "error", err)
				}
			})
		}
		if err != nil {
			slog.Error("定时任务初始化失败", "error", err)
			os.Exit(1)
		}
		sched.Start()
		slog.Info("定时任务已启动", "next", sched.Next().Format(time.RFC3339))
	}

	// ========== 管理接口 ==========
	deps := httpapi.Deps{
		Driver:    core.Services.Driver,
		Summaries: core.Repos.Summary,
		Runs:      core.Repos.Run,
		Hub:       core.Hub,
	}
	if core.Services.Index != nil {
		deps.Index = core.Services.Index
	}
	apiServer, err := httpapi.Start(ctx, deps, httpapi.Options{ListenAddr: core.Cfg.HTTP.ListenAddr})
	if err != nil {
		slog.Error("启动管理接口失败", "error", err)
	}

	// ========== 配置热更新 ==========
	var watcher *config.Watcher
	if cfgPath != "" {
		watcher, err = config.Watch(cfgPath, 0, core.ApplyConfig)
		if err != nil {
			slog.Warn("配置热更新未启用", "error", err)
		}
	}

	slog.Info("WeekDigest Agent 已启动")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	slog.Info("收到系统退出信号，正在关闭...")

	watcher.Stop()
	cancel()
	if sched != nil {
		sched.Stop()
	}
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	slog.Info("WeekDigest Agent 已退出")
}
