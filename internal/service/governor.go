package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// 默认并发与等待上限
const (
	DefaultConcurrency    = 5
	DefaultAcquireTimeout = 30 * time.Second
)

// Governor 限制同时进行的 AI 调用数；等待者按 FIFO 获得许可
type Governor struct {
	sem      *semaphore.Weighted
	capacity int
	timeout  time.Duration
	inFlight atomic.Int64
}

// NewGovernor capacity<=0 取 5，timeout<=0 取 30s
func NewGovernor(capacity int, acquireTimeout time.Duration) *Governor {
	if capacity <= 0 {
		capacity = DefaultConcurrency
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &Governor{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		timeout:  acquireTimeout,
	}
}

// Acquire 在超时内获取许可；超时返回 ErrAcquireTimeout，ctx 取消返回 ctx 错误
func (g *Governor) Acquire(ctx context.Context) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("等待 %s: %w", g.timeout, ErrAcquireTimeout)
		}
		return nil, err
	}
	g.inFlight.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		})
	}, nil
}

// Do 持有许可执行 fn，任何退出路径（含 panic）都会归还许可
func (g *Governor) Do(ctx context.Context, fn func(context.Context) error) error {
	release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// InFlight 当前持有许可的数量
func (g *Governor) InFlight() int {
	return int(g.inFlight.Load())
}

// Capacity 许可总数
func (g *Governor) Capacity() int {
	return g.capacity
}
