package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"github.com/yuqie6/WeekDigest/internal/schema"
)

const summaryCollection = "weekly_summaries"

// Embedder 文本向量化
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingFuncFrom 把批量 Embedder 适配为 chromem 的单条嵌入函数
func EmbeddingFuncFrom(e Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := e.Embed(ctx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("生成嵌入失败: %w", err)
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			return nil, fmt.Errorf("嵌入结果为空")
		}
		return vecs[0], nil
	}
}

// SummaryIndex 周报向量索引，用于语义检索
type SummaryIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	path       string
}

// NewSummaryIndex path 为空时使用内存库
func NewSummaryIndex(path string, embed chromem.EmbeddingFunc) (*SummaryIndex, error) {
	if embed == nil {
		return nil, fmt.Errorf("嵌入函数不能为空")
	}

	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("创建索引目录失败: %w", err)
		}
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("创建向量数据库失败: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(summaryCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("创建 collection 失败: %w", err)
	}

	slog.Info("周报索引已就绪", "path", path, "documents", collection.Count())
	return &SummaryIndex{db: db, collection: collection, path: path}, nil
}

// SearchHit 检索结果
type SearchHit struct {
	SummaryID  int64   `json:"summary_id"`
	Repository string  `json:"repository"`
	Username   string  `json:"username"`
	WeekID     string  `json:"week_id"`
	Similarity float32 `json:"similarity"`
	Snippet    string  `json:"snippet"`
}

func documentID(repo, user, week string) string {
	return repo + ":" + user + ":" + week
}

// IndexSummary 写入或覆盖一篇周报
func (s *SummaryIndex) IndexSummary(ctx context.Context, summary *schema.WeeklySummary, repository string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "仓库: %s\n用户: %s\n周: %s\n", repository, summary.Username, summary.WeekID)
	fmt.Fprintf(&b, "概述: %s\n", summary.Overview)
	if summary.Analysis != "" {
		fmt.Fprintf(&b, "分析: %s\n", summary.Analysis)
	}
	if len(summary.KeyAchievements) > 0 {
		fmt.Fprintf(&b, "成果: %s\n", strings.Join(summary.KeyAchievements, "；"))
	}

	doc := chromem.Document{
		ID:      documentID(repository, summary.Username, summary.WeekID),
		Content: b.String(),
		Metadata: map[string]string{
			"summary_id": strconv.FormatInt(summary.ID, 10),
			"repository": repository,
			"username":   summary.Username,
			"week_id":    summary.WeekID,
		},
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("添加文档失败: %w", err)
	}
	slog.Debug("索引周报", "id", doc.ID)
	return nil
}

// Query 语义检索，topK 超过文档数时自动收缩
func (s *SummaryIndex) Query(ctx context.Context, text string, topK int) ([]SearchHit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("检索内容为空")
	}
	if topK <= 0 {
		topK = 5
	}
	if n := s.collection.Count(); topK > n {
		topK = n
	}
	if topK == 0 {
		return []SearchHit{}, nil
	}

	results, err := s.collection.Query(ctx, text, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		id, _ := strconv.ParseInt(r.Metadata["summary_id"], 10, 64)
		hits = append(hits, SearchHit{
			SummaryID:  id,
			Repository: r.Metadata["repository"],
			Username:   r.Metadata["username"],
			WeekID:     r.Metadata["week_id"],
			Similarity: r.Similarity,
			Snippet:    snippet(r.Content, 120),
		})
	}
	return hits, nil
}

// Count 已索引文档数
func (s *SummaryIndex) Count() int {
	return s.collection.Count()
}

func snippet(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}
