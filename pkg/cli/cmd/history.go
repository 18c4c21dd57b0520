package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdeck/flowqueue/pkg/cli/flowqueue"
	"github.com/taskdeck/flowqueue/pkg/cli/output"
)

var (
	historyProject string
	historyType    string
	historyStatus  string
	historySearch  string
	historyOffset  int
	historyLimit   int
	historyOutFile string
	historyDays    int
)

// historyCmd history子命令
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "执行历史命令",
	Long:  `查询终态Workflow的执行历史、聚合统计，导出CSV或触发保留期清理。`,
}

// historyListCmd 查询历史记录
var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "过滤分页查询执行历史",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := flowqueue.New(serverURL)
		result, err := client.ListHistory(historyQuery())
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无历史记录")
			return nil
		}

		table := output.NewTable([]string{"ITEM_ID", "PROJECT", "NAME", "STATUS", "FINISHED", "DURATION"})
		for _, rec := range result.Items {
			table.AddRow([]string{
				rec.ID,
				rec.ProjectID,
				rec.Name,
				rec.Status,
				rec.EndTime.Format("2006-01-02 15:04:05"),
				fmt.Sprintf("%dms", rec.DurationMS),
			})
		}
		table.Render()
		fmt.Printf("\n共 %d 条，当前显示 %d 条\n", result.Total, len(result.Items))
		return nil
	},
}

// historyStatsCmd 查询聚合统计
var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "按同一过滤条件查询聚合统计",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := flowqueue.New(serverURL)
		stats, err := client.HistoryStats(historyQuery())
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(stats)
		}

		fmt.Printf("Total:        %d\n", stats.Total)
		fmt.Printf("Completed:    %d\n", stats.Completed)
		fmt.Printf("Success Rate: %.1f%%\n", stats.SuccessRate)
		fmt.Printf("Avg Duration: %.0fms\n", stats.AvgDurationMS)
		return nil
	},
}

// historyExportCmd 导出CSV
var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "导出执行历史为CSV文件",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(historyOutFile)
		if err != nil {
			output.Error("创建导出文件失败: %v", err)
			return err
		}
		defer f.Close()

		client := flowqueue.New(serverURL)
		if err := client.ExportHistory(historyQuery(), f); err != nil {
			output.Error("导出失败: %v", err)
			return err
		}

		output.Success("已导出到 %s", historyOutFile)
		return nil
	},
}

// historyCleanupCmd 立即清理
var historyCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "立即删除超过保留期的历史记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := flowqueue.New(serverURL)
		deleted, err := client.CleanupHistory(historyDays)
		if err != nil {
			output.Error("清理失败: %v", err)
			return err
		}

		output.Success("已删除 %d 条超过 %d 天的历史记录", deleted, historyDays)
		return nil
	},
}

// historyQuery 从flags构建查询参数
func historyQuery() flowqueue.HistoryQuery {
	return flowqueue.HistoryQuery{
		ProjectID: historyProject,
		Type:      historyType,
		Status:    historyStatus,
		Search:    historySearch,
		Offset:    historyOffset,
		Limit:     historyLimit,
	}
}

func init() {
	for _, c := range []*cobra.Command{historyListCmd, historyStatsCmd, historyExportCmd} {
		c.Flags().StringVar(&historyProject, "project", "", "按项目ID过滤")
		c.Flags().StringVar(&historyType, "type", "", "按Workflow类型过滤")
		c.Flags().StringVar(&historyStatus, "status", "", "按终态状态过滤（completed/failed/cancelled）")
		c.Flags().StringVar(&historySearch, "search", "", "在ID和错误信息上模糊匹配")
	}
	historyListCmd.Flags().IntVar(&historyOffset, "offset", 0, "分页偏移")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "每页条数")
	historyExportCmd.Flags().StringVarP(&historyOutFile, "out", "o", "history.csv", "导出文件路径")
	historyCleanupCmd.Flags().IntVar(&historyDays, "days", 30, "保留天数")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historyCleanupCmd)
}
