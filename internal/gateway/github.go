// Package gateway 对接 GitHub REST API，为周报补全贡献明细。
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"github.com/yuqie6/WeekDigest/internal/ai"
	"github.com/yuqie6/WeekDigest/internal/pkg/repolink"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// GitHubGateway 按仓库凭证拉取提交、PR、Issue、Release 明细
// 每个凭证一个 client，共享同一个限流等待器。
type GitHubGateway struct {
	baseURL     *url.URL
	concurrency int

	mu      sync.Mutex
	clients map[string]*github.Client

	// newClient 便于测试替换
	newClient func(token string) (*github.Client, error)
}

// Options 配置
type Options struct {
	BaseURL     string // GitHub Enterprise API 地址，空则使用 api.github.com
	Concurrency int    // 单次 Describe 的并发请求数
}

// NewGitHubGateway 创建网关
func NewGitHubGateway(opts Options) (*GitHubGateway, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	g := &GitHubGateway{
		concurrency: opts.Concurrency,
		clients:     make(map[string]*github.Client),
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("解析 GitHub 地址失败: %w", err)
		}
		g.baseURL = u
	}
	g.newClient = g.buildClient
	return g, nil
}

func (g *GitHubGateway) buildClient(token string) (*github.Client, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(10*time.Minute, nil))
	if err != nil {
		return nil, fmt.Errorf("创建限流等待器失败: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
		Timeout: 30 * time.Second,
	}
	client := github.NewClient(httpClient)
	if g.baseURL != nil {
		client.BaseURL = g.baseURL
	}
	return client, nil
}

func (g *GitHubGateway) clientFor(token string) (*github.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[token]; ok {
		return c, nil
	}
	c, err := g.newClient(token)
	if err != nil {
		return nil, err
	}
	g.clients[token] = c
	return c, nil
}

// Describe 并发拉取明细；单条失败只记日志并跳过，全部失败才返回错误
func (g *GitHubGateway) Describe(ctx context.Context, ownerRepo, credential string, refs []ai.ContributionRef) ([]ai.ContributionDetail, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	owner, repo, err := repolink.Split(ownerRepo)
	if err != nil {
		return nil, err
	}
	client, err := g.clientFor(credential)
	if err != nil {
		return nil, err
	}

	results := make([]*ai.ContributionDetail, len(refs))
	var (
		failMu  sync.Mutex
		lastErr error
		failed  int
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, ref := range refs {
		eg.Go(func() error {
			d, err := g.fetchOne(egCtx, client, owner, repo, ref)
			if err != nil {
				failMu.Lock()
				failed++
				lastErr = err
				failMu.Unlock()
				slog.Debug("拉取贡献明细失败", "repo", ownerRepo, "type", ref.Type, "id", ref.ID, "error", err)
				return nil
			}
			results[i] = d
			return nil
		})
	}
	_ = eg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if failed == len(refs) {
		return nil, fmt.Errorf("拉取贡献明细全部失败: %w", lastErr)
	}

	out := make([]ai.ContributionDetail, 0, len(refs)-failed)
	for _, d := range results {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (g *GitHubGateway) fetchOne(ctx context.Context, client *github.Client, owner, repo string, ref ai.ContributionRef) (*ai.ContributionDetail, error) {
	detail := &ai.ContributionDetail{Type: ref.Type, ID: ref.ID}

	switch ref.Type {
	case ai.TypeCommit:
		commit, _, err := client.Repositories.GetCommit(ctx, owner, repo, ref.ID, nil)
		if err != nil {
			return nil, fmt.Errorf("获取提交失败: %w", err)
		}
		msg := commit.GetCommit().GetMessage()
		title, body, _ := strings.Cut(msg, "\n")
		detail.Title = strings.TrimSpace(title)
		detail.Body = strings.TrimSpace(body)
		detail.Additions = commit.GetStats().GetAdditions()
		detail.Deletions = commit.GetStats().GetDeletions()
		detail.URL = commit.GetHTMLURL()

	case ai.TypePullRequest:
		n, err := strconv.Atoi(ref.ID)
		if err != nil {
			return nil, fmt.Errorf("无效的 PR 编号 %q", ref.ID)
		}
		pr, _, err := client.PullRequests.Get(ctx, owner, repo, n)
		if err != nil {
			return nil, fmt.Errorf("获取 PR 失败: %w", err)
		}
		detail.Title = pr.GetTitle()
		detail.Body = pr.GetBody()
		detail.Additions = pr.GetAdditions()
		detail.Deletions = pr.GetDeletions()
		detail.URL = pr.GetHTMLURL()

	case ai.TypeIssue:
		n, err := strconv.Atoi(ref.ID)
		if err != nil {
			return nil, fmt.Errorf("无效的 Issue 编号 %q", ref.ID)
		}
		issue, _, err := client.Issues.Get(ctx, owner, repo, n)
		if err != nil {
			return nil, fmt.Errorf("获取 Issue 失败: %w", err)
		}
		detail.Title = issue.GetTitle()
		detail.Body = issue.GetBody()
		detail.URL = issue.GetHTMLURL()

	case ai.TypeRelease:
		id, err := strconv.ParseInt(ref.ID, 10, 64)
		if err != nil {
			// 非数字 id 按 tag 查询
			release, _, terr := client.Repositories.GetReleaseByTag(ctx, owner, repo, ref.ID)
			if terr != nil {
				return nil, fmt.Errorf("获取 Release 失败: %w", terr)
			}
			fillRelease(detail, release)
			return detail, nil
		}
		release, _, err := client.Repositories.GetRelease(ctx, owner, repo, id)
		if err != nil {
			return nil, fmt.Errorf("获取 Release 失败: %w", err)
		}
		fillRelease(detail, release)

	default:
		return nil, fmt.Errorf("未知贡献类型 %q", ref.Type)
	}
	return detail, nil
}

func fillRelease(detail *ai.ContributionDetail, release *github.RepositoryRelease) {
	detail.Title = release.GetName()
	if detail.Title == "" {
		detail.Title = release.GetTagName()
	}
	detail.Body = release.GetBody()
	detail.URL = release.GetHTMLURL()
}
