package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNotConfigured AI 引擎缺少必要配置
var ErrNotConfigured = errors.New("AI 引擎未配置")

// ContributionDetail 从代码托管平台补全的贡献明细
type ContributionDetail struct {
	Type      string
	ID        string
	Title     string
	Body      string
	Additions int
	Deletions int
	URL       string
}

// ContributionDetailer 按引用拉取贡献明细（标题、描述、增删行数）
type ContributionDetailer interface {
	Describe(ctx context.Context, ownerRepo, credential string, refs []ContributionRef) ([]ContributionDetail, error)
}

// AnalyzerOptions WeeklyAnalyzer 参数
type AnalyzerOptions struct {
	Language   string // 输出语言，默认中文
	MaxDetails int    // 单次最多补全的贡献条数
}

// WeeklyAnalyzer 基于 DeepSeek 的进程内周报引擎
type WeeklyAnalyzer struct {
	client   *DeepSeekClient
	detailer ContributionDetailer
	opts     AnalyzerOptions
}

// NewWeeklyAnalyzer 创建周报引擎，detailer 可为 nil
func NewWeeklyAnalyzer(client *DeepSeekClient, detailer ContributionDetailer, opts AnalyzerOptions) *WeeklyAnalyzer {
	if opts.Language == "" {
		opts.Language = "中文"
	}
	if opts.MaxDetails <= 0 {
		opts.MaxDetails = 50
	}
	return &WeeklyAnalyzer{client: client, detailer: detailer, opts: opts}
}

// GenerateWeeklySummary 生成周报
func (a *WeeklyAnalyzer) GenerateWeeklySummary(ctx context.Context, req *WeeklySummaryRequest) (*WeeklySummaryResult, error) {
	if a.client == nil || !a.client.IsConfigured() {
		return nil, fmt.Errorf("DeepSeek API 未配置: %w", ErrNotConfigured)
	}
	if req == nil || len(req.Contributions) == 0 {
		return nil, fmt.Errorf("周报请求没有贡献记录")
	}

	details := a.describe(ctx, req)
	prompt := buildWeeklyPrompt(req, details, a.opts.Language)

	messages := []Message{
		{Role: "system", Content: "你是一个研发效能助手，根据开发者一周内在某个仓库的贡献写出客观、具体的周报。回复必须是纯 JSON，不要 markdown。"},
		{Role: "user", Content: prompt},
	}

	response, err := a.client.ChatWithRetry(ctx, messages, ChatOptions{Temperature: 0.4, MaxTokens: 2000, JSONOutput: true})
	if err != nil {
		return nil, fmt.Errorf("生成周报失败: %w", err)
	}

	response = cleanJSONResponse(response)

	var result WeeklySummaryResult
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("解析周报失败: %w", err)
	}
	if strings.TrimSpace(result.Overview) == "" {
		return nil, fmt.Errorf("周报缺少 overview")
	}

	// 数量以请求为准，不信任模型输出
	result.Counts = CountContributions(req.Contributions)
	if result.KeyAchievements == nil {
		result.KeyAchievements = []string{}
	}
	if result.AreasForImprovement == nil {
		result.AreasForImprovement = []string{}
	}
	return &result, nil
}

// describe 补全失败只降级为仅有引用，不影响生成
func (a *WeeklyAnalyzer) describe(ctx context.Context, req *WeeklySummaryRequest) []ContributionDetail {
	if a.detailer == nil || req.Credential == "" || req.Repository == "" {
		return nil
	}
	refs := req.Contributions
	if len(refs) > a.opts.MaxDetails {
		refs = refs[:a.opts.MaxDetails]
	}
	details, err := a.detailer.Describe(ctx, req.Repository, req.Credential, refs)
	if err != nil {
		slog.Warn("补全贡献明细失败，仅使用贡献引用", "repo", req.Repository, "user", req.Username, "week", req.WeekID, "error", err)
		return nil
	}
	return details
}

var typeLabels = map[string]string{
	TypeCommit:      "提交",
	TypePullRequest: "合并请求",
	TypeIssue:       "Issue",
	TypeRelease:     "发布",
}

func buildWeeklyPrompt(req *WeeklySummaryRequest, details []ContributionDetail, language string) string {
	counts := CountContributions(req.Contributions)

	detailByKey := make(map[string]ContributionDetail, len(details))
	for _, d := range details {
		detailByKey[d.Type+":"+d.ID] = d
	}

	var list strings.Builder
	for _, ref := range req.Contributions {
		label := typeLabels[ref.Type]
		if label == "" {
			label = ref.Type
		}
		d, ok := detailByKey[ref.Type+":"+ref.ID]
		if !ok {
			list.WriteString(fmt.Sprintf("- [%s] %s\n", label, ref.ID))
			continue
		}
		list.WriteString(fmt.Sprintf("- [%s] %s %s", label, ref.ID, d.Title))
		if d.Additions > 0 || d.Deletions > 0 {
			list.WriteString(fmt.Sprintf(" (+%d/-%d)", d.Additions, d.Deletions))
		}
		list.WriteString("\n")
		if body := truncateRunes(strings.TrimSpace(d.Body), 300); body != "" {
			list.WriteString("  " + strings.ReplaceAll(body, "\n", " ") + "\n")
		}
	}

	return fmt.Sprintf(`请为开发者 %s 在仓库 %s 的 %s 这一周写一份周报。

贡献统计: 提交 %d, 合并请求 %d, Issue %d, 发布 %d, 合计 %d

贡献列表:
%s
请用 %s 撰写，并以 JSON 格式返回（不要 markdown 代码块）:
{
  "overview": "本周整体概述（3-8 句，引用具体贡献）",
  "commitsSummary": "提交概述，没有则写空字符串",
  "pullRequestsSummary": "合并请求概述，没有则写空字符串",
  "issuesSummary": "Issue 概述，没有则写空字符串",
  "releasesSummary": "发布概述，没有则写空字符串",
  "analysis": "对投入方向、节奏、质量的分析",
  "keyAchievements": ["主要成果，按重要性 1-6 条"],
  "areasForImprovement": ["可改进之处，0-5 条"]
}`, req.Username, req.Repository, req.WeekID,
		counts.Commits, counts.PullRequests, counts.Issues, counts.Releases, counts.Total,
		list.String(), language)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// cleanJSONResponse 清理 JSON 响应（移除 markdown 代码块和额外文本）
func cleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```") {
		jsonStart := strings.Index(response, "```json")
		if jsonStart == -1 {
			jsonStart = strings.Index(response, "```")
		}
		if jsonStart != -1 {
			// 跳过 ```json\n 或 ```\n
			if nl := strings.Index(response[jsonStart:], "\n"); nl != -1 {
				response = response[jsonStart+nl+1:]
			}
		}
		if endIdx := strings.LastIndex(response, "```"); endIdx != -1 {
			response = response[:endIdx]
		}
	}

	response = strings.TrimSpace(response)

	// 模型偶尔会在 JSON 前后加说明文字
	if idx := strings.Index(response, "{"); idx > 0 {
		response = response[idx:]
	}
	if idx := strings.LastIndex(response, "}"); idx != -1 && idx < len(response)-1 {
		response = response[:idx+1]
	}

	return strings.TrimSpace(response)
}
