package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuqie6/WeekDigest/internal/eventbus"
	"github.com/yuqie6/WeekDigest/internal/pkg/buildinfo"
)

// Server 管理接口
type Server struct {
	ln      net.Listener
	srv     *http.Server
	baseURL string
}

// Options 启动参数
type Options struct {
	ListenAddr string // 如 "127.0.0.1:8787"，端口为 0 时随机分配
}

// Start 监听并在后台提供服务，ctx 结束时自动关闭
func Start(ctx context.Context, deps Deps, opts Options) (*Server, error) {
	if strings.TrimSpace(opts.ListenAddr) == "" {
		opts.ListenAddr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("监听 %s 失败: %w", opts.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:           NewHandler(ctx, deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s := &Server{ln: ln, srv: srv, baseURL: "http://" + ln.Addr().String()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server 异常退出", "error", err)
		}
	}()

	slog.Info("管理接口已启动", "base_url", s.baseURL)
	return s, nil
}

// BaseURL 实际监听地址
func (s *Server) BaseURL() string {
	if s == nil {
		return ""
	}
	return s.baseURL
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"version":           buildinfo.String(),
		"started_at":        a.startTime.Format(time.RFC3339),
		"backfill_running":  a.deps.Driver != nil && a.deps.Driver.BackfillRunning(),
		"index_enabled":     a.deps.Index != nil,
		"event_subscribers": a.hubStat((*eventbus.Hub).Subscribers),
		"events_dropped":    a.hubStat(func(h *eventbus.Hub) int { return int(h.Dropped()) }),
	})
}

func (a *apiServer) hubStat(fn func(*eventbus.Hub) int) int {
	if a.deps.Hub == nil {
		return 0
	}
	return fn(a.deps.Hub)
}

func (a *apiServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	if a.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "事件流未启用")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	// ?types=unit_finished,run_finished 只订阅部分事件
	var types []string
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	sub := a.deps.Hub.Subscribe(ctx, 32, types...)

	// initial event
	_, _ = io.WriteString(w, "event: ready\n")
	_, _ = io.WriteString(w, "data: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = io.WriteString(w, "event: ping\n")
			_, _ = io.WriteString(w, "data: {}\n\n")
			flusher.Flush()
		case evt, ok := <-sub:
			if !ok {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, evt eventbus.Event) {
	b, _ := json.Marshal(evt)
	_, _ = io.WriteString(w, "event: "+sanitizeSSEName(evt.Type)+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(b)
	_, _ = io.WriteString(w, "\n\n")
}

func sanitizeSSEName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return "message"
	}
	n = strings.ReplaceAll(n, "\n", "")
	n = strings.ReplaceAll(n, "\r", "")
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func readJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func parseIntParam(value string, def int) (int, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
