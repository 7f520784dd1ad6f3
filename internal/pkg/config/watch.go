package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听配置文件变化并回调
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func(*Config)

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// Watch 监听 path 所在目录（编辑器常以 rename 方式保存），
// 目标文件写入/创建后在 debounce 时间内合并为一次重新加载。
func Watch(path string, debounce time.Duration, onChange func(*Config)) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("path 不能为空")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange 不能为空")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("获取绝对路径失败: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("监控配置目录失败: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		path:     absPath,
		debounce: debounce,
		onChange: onChange,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	slog.Info("配置热更新已启用", "path", absPath)
	return w, nil
}

// Stop 停止监听
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.stopOnce.Do(func() {
		close(w.stopChan)
		_ = w.watcher.Close()
		<-w.done
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("配置文件监控错误", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("重新加载配置失败，保留旧配置", "path", w.path, "error", err)
		return
	}
	w.onChange(cfg)
}
