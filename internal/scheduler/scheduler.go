// Package scheduler 定时触发周报生成
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job 定时任务，ctx 在 Stop 时取消
type Job func(ctx context.Context)

// Scheduler cron 调度器；同一任务上一次未结束时跳过本次触发
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New 创建调度器，timezone 为空时使用 UTC
func New(timezone string) (*Scheduler, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("加载时区 %q 失败: %w", timezone, err)
		}
		loc = l
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel}, nil
}

// Schedule 注册任务，spec 为标准 5 段 cron 表达式
func (s *Scheduler) Schedule(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		slog.Info("定时任务开始", "job", name)
		job(s.ctx)
		slog.Info("定时任务结束", "job", name, "elapsed", time.Since(start).Round(time.Millisecond))
	})
	if err != nil {
		return fmt.Errorf("无效的 cron 表达式 %q: %w", spec, err)
	}
	slog.Info("已注册定时任务", "job", name, "spec", spec)
	return nil
}

// Next 下一次触发时间，没有任务时返回零值
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop 取消运行中任务的 ctx 并等待其结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// cronLogger 把 cron 内部日志转到 slog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// ValidateSpec 校验 cron 表达式
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("无效的 cron 表达式 %q: %w", spec, err)
	}
	return nil
}
