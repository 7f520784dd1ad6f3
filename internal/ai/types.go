package ai

// 贡献类型（与 contributions.type 一致）
const (
	TypeCommit      = "commit"
	TypePullRequest = "pull_request"
	TypeIssue       = "issue"
	TypeRelease     = "release"
)

// ContributionRef 周报请求中的单条贡献引用
type ContributionRef struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Selected bool   `json:"selected"`
}

// WeeklySummaryRequest 周报生成请求
type WeeklySummaryRequest struct {
	Username      string            `json:"username"`
	WeekID        string            `json:"weekId"`
	Repository    string            `json:"repository"` // owner/repo
	Credential    string            `json:"credential"`
	Contributions []ContributionRef `json:"contributions"`
}

// Counts 各类贡献数量
type Counts struct {
	Commits      int `json:"commits"`
	PullRequests int `json:"pullRequests"`
	Issues       int `json:"issues"`
	Releases     int `json:"releases"`
	Total        int `json:"total"`
}

// WeeklySummaryResult 周报生成结果
type WeeklySummaryResult struct {
	Overview            string   `json:"overview"`
	CommitsSummary      string   `json:"commitsSummary"`
	PullRequestsSummary string   `json:"pullRequestsSummary"`
	IssuesSummary       string   `json:"issuesSummary"`
	ReleasesSummary     string   `json:"releasesSummary"`
	Analysis            string   `json:"analysis"`
	KeyAchievements     []string `json:"keyAchievements"`
	AreasForImprovement []string `json:"areasForImprovement"`
	Counts              Counts   `json:"counts"`
}

// CountContributions 按类型统计，未知类型只计入 Total
func CountContributions(refs []ContributionRef) Counts {
	var c Counts
	for _, r := range refs {
		switch r.Type {
		case TypeCommit:
			c.Commits++
		case TypePullRequest:
			c.PullRequests++
		case TypeIssue:
			c.Issues++
		case TypeRelease:
			c.Releases++
		}
		c.Total++
	}
	return c
}
