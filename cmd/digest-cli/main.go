package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/yuqie6/WeekDigest/internal/bootstrap"
	"github.com/yuqie6/WeekDigest/internal/pkg/buildinfo"
	"github.com/yuqie6/WeekDigest/internal/repository"
	"github.com/yuqie6/WeekDigest/internal/service"
	"go.yaml.in/yaml/v3"
)

var (
	cfgFile string
	core    *bootstrap.Core
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "digest",
		Short: "WeekDigest - 按周为仓库贡献者生成 AI 周报",
		Long:  `WeekDigest 读取仓库贡献记录，为每个 (仓库, 用户, ISO 周) 生成一份 AI 周报，支持历史回填与每周定时生成。`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			core, err = bootstrap.NewCore(cfgFile)
			if err != nil {
				slog.Error("初始化失败", "error", err)
				os.Exit(1)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if core != nil {
				_ = core.Close()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")

	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(weeklyCmd())
	rootCmd.AddCommand(regenerateCmd())
	rootCmd.AddCommand(summariesCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext Ctrl+C 取消正在进行的运行
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func requireAI() {
	if err := core.RequireAIConfigured(); err != nil {
		fmt.Printf("⚠️  %v\n", err)
		fmt.Println("   请在 config.yaml 中配置，或设置环境变量 DIGEST_AI_DEEPSEEK_API_KEY")
		os.Exit(1)
	}
}

// backfillCmd 历史回填
func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "为所有仓库补齐历史周报（Ctrl+C 停止发起新单元）",
		RunE: func(cmd *cobra.Command, args []string) error {
			requireAI()
			ctx, stop := signalContext()
			defer stop()

			fmt.Printf("🔄 开始回填 (并发上限 %d)...\n", core.Services.Governor.Capacity())
			report, err := core.Services.Driver.RunBackfill(ctx)
			if report != nil {
				printReport(report)
			}
			return err
		},
	}
}

// weeklyCmd 生成上一周
func weeklyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weekly",
		Short: "为上一个 ISO 周生成周报",
		RunE: func(cmd *cobra.Command, args []string) error {
			requireAI()
			ctx, stop := signalContext()
			defer stop()

			report, err := core.Services.Driver.RunWeekly(ctx)
			if report != nil {
				printReport(report)
			}
			return err
		},
	}
}

// regenerateCmd 手动重新生成
func regenerateCmd() *cobra.Command {
	var repoID int64
	var user, week string

	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "覆盖重新生成指定仓库/用户/周的周报",
		RunE: func(cmd *cobra.Command, args []string) error {
			requireAI()
			ctx, stop := signalContext()
			defer stop()

			summary, err := core.Services.Driver.Regenerate(ctx, repoID, user, week)
			if err != nil {
				fmt.Printf("❌ 重新生成失败: %v\n", err)
				return err
			}
			fmt.Printf("✅ 已重新生成 #%d %s %s\n\n", summary.ID, summary.Username, summary.WeekID)
			fmt.Printf("📝 概述\n%s\n", summary.Overview)
			if len(summary.KeyAchievements) > 0 {
				fmt.Printf("\n🏆 主要成就\n")
				for _, a := range summary.KeyAchievements {
					fmt.Printf("  • %s\n", a)
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&repoID, "repo", 0, "仓库 id")
	cmd.Flags().StringVar(&user, "user", "", "用户名")
	cmd.Flags().StringVar(&week, "week", "", "ISO 周 (YYYY-Www)")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("week")
	return cmd
}

// summariesCmd 周报列表
func summariesCmd() *cobra.Command {
	var filter repository.SummaryFilter
	var format string

	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "分页查询已生成的周报",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := core.Repos.Summary.ListPaginated(cmd.Context(), filter)
			if err != nil {
				return err
			}

			switch strings.ToLower(format) {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			case "yaml":
				return yaml.NewEncoder(os.Stdout).Encode(page)
			case "table", "":
			default:
				return fmt.Errorf("不支持的输出格式: %s", format)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREPO\tUSER\tWEEK\tTOTAL\tOVERVIEW")
			for _, s := range page.Items {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%s\n", s.ID, s.RepositoryID, s.Username, s.WeekID, s.TotalCount, truncateString(s.Overview, 40))
			}
			_ = w.Flush()
			fmt.Printf("\n第 %d/%d 页，共 %d 条\n", page.Page, max(page.TotalPages, 1), page.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.WeekID, "week", "", "按 ISO 周过滤")
	cmd.Flags().StringVar(&filter.Username, "user", "", "按用户过滤")
	cmd.Flags().StringVar(&filter.RepoFragment, "repo", "", "按仓库链接模糊过滤")
	cmd.Flags().IntVar(&filter.Page, "page", 1, "页码")
	cmd.Flags().IntVar(&filter.Size, "size", repository.DefaultPageSize, "每页条数")
	cmd.Flags().StringVar(&filter.Sort, "sort", "", "排序，如 created_at,desc")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "输出格式 table|json|yaml")
	return cmd
}

// runsCmd 最近的运行记录
func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "查看最近的回填/周任务运行记录",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := core.Repos.Run.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("📚 还没有运行记录")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tKIND\tSTATUS\tGENERATED\tSKIPPED\tFAILED\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", r.ID, r.Kind, r.Status, r.Generated, r.Skipped, r.Failed, r.StartedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "显示条数")
	return cmd
}

// searchCmd 语义检索
func searchCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "在已生成的周报中语义检索",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if core.Services.Index == nil {
				fmt.Println("⚠️  周报索引未启用 (index.enabled / ai.embedding.api_key)")
				os.Exit(1)
			}
			hits, err := core.Services.Index.Query(cmd.Context(), strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("🔍 没有匹配的周报")
				return nil
			}
			for i, h := range hits {
				fmt.Printf("%d. [%s] %s %s (相似度 %.2f)\n   %s\n", i+1, h.Repository, h.Username, h.WeekID, h.Similarity, h.Snippet)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top", "k", 5, "返回条数")
	return cmd
}

// versionCmd 不加载配置
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "显示版本",
		PersistentPreRun:  func(cmd *cobra.Command, args []string) {},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildinfo.String())
		},
	}
}

func printReport(r *service.RunReport) {
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("运行 %s (%s)\n", r.RunID, r.Kind)
	if r.Cancelled {
		fmt.Println("⚠️  已取消，仅统计已发起的单元")
	}
	fmt.Printf("  • 生成: %d\n", r.Generated)
	fmt.Printf("  • 跳过: %d\n", r.Skipped)
	fmt.Printf("  • 失败: %d\n", r.Failed)
	for outcome, n := range r.Outcomes {
		fmt.Printf("    - %s: %d\n", outcome, n)
	}
	if r.Latency.Count > 0 {
		fmt.Printf("  • AI 耗时: 平均 %s ms, P50 %s ms, P95 %s ms, 最大 %s ms\n",
			formatMs(r.Latency.MeanMs), formatMs(r.Latency.P50Ms), formatMs(r.Latency.P95Ms), formatMs(r.Latency.MaxMs))
	}
	fmt.Println("═══════════════════════════════════════")
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64)
}

// truncateString 截断字符串
func truncateString(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
