package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yuqie6/WeekDigest/internal/eventbus"
	"github.com/yuqie6/WeekDigest/internal/pkg/isoweek"
	"github.com/yuqie6/WeekDigest/internal/repository"
	"github.com/yuqie6/WeekDigest/internal/schema"
	"github.com/yuqie6/WeekDigest/internal/service"
)

// Deps 管理接口依赖；Index 与 Hub 可为 nil
type Deps struct {
	Driver    *service.Driver
	Summaries service.SummaryQuery
	Runs      RunLister
	Index     Searcher
	Hub       *eventbus.Hub
}

// RunLister 运行记录查询
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]schema.GenerationRun, error)
}

// Searcher 周报语义检索
type Searcher interface {
	Query(ctx context.Context, text string, topK int) ([]service.SearchHit, error)
}

type apiServer struct {
	deps      Deps
	baseCtx   context.Context // 后台任务使用，不随单个请求结束
	startTime time.Time
}

// NewHandler 构建路由；baseCtx 取消时后台触发的运行随之取消
func NewHandler(baseCtx context.Context, deps Deps) http.Handler {
	a := &apiServer{deps: deps, baseCtx: baseCtx, startTime: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/api/events", a.handleSSE)
	a.registerJSONRoutes(mux)
	return mux
}

// ========== routes ==========

func (a *apiServer) registerJSONRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/summaries", a.wrapGET(a.listSummaries))
	mux.HandleFunc("/api/summaries/search", a.wrapGET(a.searchSummaries))
	mux.HandleFunc("/api/summaries/regenerate", a.wrapPOST(a.regenerate))

	mux.HandleFunc("/api/backfill", a.wrapPOST(a.startBackfill))
	mux.HandleFunc("/api/weekly", a.wrapPOST(a.startWeekly))
	mux.HandleFunc("/api/runs", a.wrapGET(a.listRuns))
}

func (a *apiServer) wrapGET(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

func (a *apiServer) wrapPOST(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

// ========== handlers ==========

func (a *apiServer) listSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parseIntParam(q.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page 必须是整数")
		return
	}
	size, err := parseIntParam(q.Get("size"), repository.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "size 必须是整数")
		return
	}

	filter := repository.SummaryFilter{
		WeekID:       strings.TrimSpace(q.Get("week")),
		Username:     strings.TrimSpace(q.Get("user")),
		RepoFragment: strings.TrimSpace(q.Get("repo")),
		Page:         page,
		Size:         size,
		Sort:         q.Get("sort"),
	}
	if filter.WeekID != "" && !isoweek.Valid(filter.WeekID) {
		writeError(w, http.StatusBadRequest, "week 格式应为 YYYY-Www")
		return
	}

	result, err := a.deps.Summaries.ListPaginated(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *apiServer) searchSummaries(w http.ResponseWriter, r *http.Request) {
	if a.deps.Index == nil {
		writeError(w, http.StatusServiceUnavailable, "周报索引未启用")
		return
	}
	text := strings.TrimSpace(r.URL.Query().Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "q 不能为空")
		return
	}
	topK, err := parseIntParam(r.URL.Query().Get("k"), 5)
	if err != nil || topK <= 0 || topK > 50 {
		writeError(w, http.StatusBadRequest, "k 取值 1-50")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	hits, err := a.deps.Index.Query(ctx, text, topK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

type regenerateRequest struct {
	RepositoryID int64  `json:"repository_id"`
	Username     string `json:"username"`
	WeekID       string `json:"week_id"`
}

func (a *apiServer) regenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体无效: "+err.Error())
		return
	}
	if req.RepositoryID <= 0 || strings.TrimSpace(req.Username) == "" || !isoweek.Valid(req.WeekID) {
		writeError(w, http.StatusBadRequest, "repository_id、username、week_id 均为必填")
		return
	}

	summary, err := a.deps.Driver.Regenerate(r.Context(), req.RepositoryID, strings.TrimSpace(req.Username), req.WeekID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, service.ErrNoActivity):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrMissingCredential):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("重新生成周报失败", "repo_id", req.RepositoryID, "user", req.Username, "week", req.WeekID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (a *apiServer) startBackfill(w http.ResponseWriter, r *http.Request) {
	runID, err := a.deps.Driver.StartBackfill(a.baseCtx)
	if errors.Is(err, service.ErrBackfillRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID})
}

func (a *apiServer) startWeekly(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := a.deps.Driver.RunWeekly(a.baseCtx); err != nil {
			slog.Error("手动触发的周报运行失败", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"week": service.LastWeekID(time.Now())})
}

func (a *apiServer) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r.URL.Query().Get("limit"), 20)
	if err != nil || limit <= 0 || limit > 200 {
		writeError(w, http.StatusBadRequest, "limit 取值 1-200")
		return
	}
	runs, err := a.deps.Runs.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
