// Package eventbus 进程内的运行进度广播
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// 事件类型
const (
	TypeRunStarted   = "run_started"
	TypeUnitFinished = "unit_finished"
	TypeRunFinished  = "run_finished"
)

// Event 一条进度事件
type Event struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"` // unix 毫秒
	Data      map[string]any `json:"data,omitempty"`
}

type subscriber struct {
	ch    chan Event
	types map[string]bool // 空表示接收全部
}

func (s *subscriber) wants(typ string) bool {
	return len(s.types) == 0 || s.types[typ]
}

// Hub 非阻塞扇出；订阅者缓冲满时丢弃该事件
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Publish 广播事件，nil Hub 上调用是空操作
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe 订阅指定类型（不传则全部），ctx 结束时退订并关闭 channel
func (h *Hub) Subscribe(ctx context.Context, buffer int, types ...string) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// Subscribers 当前订阅者数量
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped 因订阅者缓冲满而丢弃的事件累计数
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
