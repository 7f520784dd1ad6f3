package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// 远端任务状态
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// RemoteEngine 外部周报生成服务客户端
// POST 提交后，200 直接返回结果，202 返回任务 id，之后轮询直到完成或 ctx 结束。
type RemoteEngine struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	client       *http.Client
}

// RemoteConfig 配置
type RemoteConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// NewRemoteEngine 创建客户端
func NewRemoteEngine(cfg RemoteConfig) *RemoteEngine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RemoteEngine{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		client:       cfg.HTTPClient,
	}
}

// IsConfigured 检查是否已配置
func (e *RemoteEngine) IsConfigured() bool {
	return e.baseURL != ""
}

type remoteJob struct {
	ID     string               `json:"id"`
	Status string               `json:"status"`
	Result *WeeklySummaryResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// GenerateWeeklySummary 提交并等待周报结果
func (e *RemoteEngine) GenerateWeeklySummary(ctx context.Context, req *WeeklySummaryRequest) (*WeeklySummaryResult, error) {
	if !e.IsConfigured() {
		return nil, fmt.Errorf("远端周报服务未配置: %w", ErrNotConfigured)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	status, respBody, err := e.do(ctx, http.MethodPost, e.baseURL+"/v1/weekly-summaries", body)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		var result WeeklySummaryResult
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("解析周报失败: %w", err)
		}
		return &result, nil
	case http.StatusAccepted:
		var job remoteJob
		if err := json.Unmarshal(respBody, &job); err != nil {
			return nil, fmt.Errorf("解析任务失败: %w", err)
		}
		if job.ID == "" {
			return nil, fmt.Errorf("远端未返回任务 id")
		}
		slog.Debug("周报任务已提交", "job", job.ID, "user", req.Username, "week", req.WeekID)
		return e.wait(ctx, job.ID)
	default:
		return nil, &APIError{StatusCode: status, Body: string(respBody)}
	}
}

// wait 轮询任务直到完成、失败或 ctx 结束
func (e *RemoteEngine) wait(ctx context.Context, jobID string) (*WeeklySummaryResult, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	endpoint := e.baseURL + "/v1/weekly-summaries/" + url.PathEscape(jobID)
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待周报任务 %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}

		status, respBody, err := e.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, &APIError{StatusCode: status, Body: string(respBody)}
		}

		var job remoteJob
		if err := json.Unmarshal(respBody, &job); err != nil {
			return nil, fmt.Errorf("解析任务失败: %w", err)
		}
		switch job.Status {
		case JobCompleted:
			if job.Result == nil {
				return nil, fmt.Errorf("任务 %s 已完成但没有结果", jobID)
			}
			return job.Result, nil
		case JobFailed:
			return nil, fmt.Errorf("任务 %s 失败: %s", jobID, job.Error)
		}
	}
}

func (e *RemoteEngine) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
