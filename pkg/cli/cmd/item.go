package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdeck/flowqueue/pkg/api/dto"
	"github.com/taskdeck/flowqueue/pkg/cli/flowqueue"
	"github.com/taskdeck/flowqueue/pkg/cli/output"
)

var (
	itemFile     string
	itemPriority string
)

// itemCmd item子命令
var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Item管理命令",
	Long:  `管理队列中的WorkflowItem，包括提交、取消、暂停、恢复和调整优先级。`,
}

// itemSubmitCmd 提交Workflow
var itemSubmitCmd = &cobra.Command{
	Use:   "submit <project-id>",
	Short: "提交Workflow到项目队列",
	Long: `从JSON文件读取Workflow定义并提交到项目队列。

示例：
  flowqueue item submit my-project --file workflow.json --priority high`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(itemFile)
		if err != nil {
			output.Error("读取Workflow定义失败: %v", err)
			return err
		}

		var req dto.EnqueueRequest
		if err := json.Unmarshal(data, &req); err != nil {
			output.Error("解析Workflow定义失败: %v", err)
			return err
		}
		if itemPriority != "" {
			req.Priority = itemPriority
		}

		client := flowqueue.New(serverURL)
		resp, err := client.Enqueue(args[0], req)
		if err != nil {
			output.Error("提交失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(resp)
		}
		output.Success("已入队: %s", resp.ItemID)
		return nil
	},
}

// itemCancelCmd 取消Item
var itemCancelCmd = &cobra.Command{
	Use:   "cancel <item-id>",
	Short: "取消Item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := flowqueue.New(serverURL)
		if err := client.Cancel(args[0]); err != nil {
			output.Error("取消失败: %v", err)
			return err
		}
		output.Success("取消请求已接受: %s", args[0])
		return nil
	},
}

// itemPauseCmd 暂停Item
var itemPauseCmd = &cobra.Command{
	Use:   "pause <item-id>",
	Short: "暂停运行中的Item（在当前步骤结束后生效）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := flowqueue.New(serverURL)
		if err := client.Pause(args[0]); err != nil {
			output.Error("暂停失败: %v", err)
			return err
		}
		output.Success("暂停请求已接受: %s", args[0])
		return nil
	},
}

// itemResumeCmd 恢复Item
var itemResumeCmd = &cobra.Command{
	Use:   "resume <item-id>",
	Short: "恢复已暂停的Item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := flowqueue.New(serverURL)
		if err := client.Resume(args[0]); err != nil {
			output.Error("恢复失败: %v", err)
			return err
		}
		output.Success("恢复请求已接受: %s", args[0])
		return nil
	},
}

// itemPriorityCmd 调整优先级
var itemPriorityCmd = &cobra.Command{
	Use:   "priority <item-id> <high|normal|low>",
	Short: "调整排队中Item的优先级",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := flowqueue.New(serverURL)
		if err := client.SetPriority(args[0], args[1]); err != nil {
			output.Error("调整优先级失败: %v", err)
			return err
		}
		output.Success("优先级已调整: %s -> %s", args[0], args[1])
		return nil
	},
}

// queueCmd queue子命令
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "队列状态命令",
}

// queueStatusCmd 查看项目队列状态
var queueStatusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "查看项目队列状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := flowqueue.New(serverURL)
		status, err := client.QueueStatus(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(status)
		}

		fmt.Printf("Project:  %s\n", status.ProjectID)
		fmt.Printf("Counters: queued=%d active=%d completed=%d failed=%d cancelled=%d\n",
			status.Counters.Queued, status.Counters.Active,
			status.Counters.Completed, status.Counters.Failed, status.Counters.Cancelled)

		if len(status.Active)+len(status.Queued) == 0 {
			output.Info("队列为空")
		} else {
			table := output.NewTable([]string{"ITEM_ID", "NAME", "PRIORITY", "STATUS", "PROGRESS"})
			for _, item := range status.Active {
				table.AddRow([]string{
					item.ID, item.Name, string(item.Priority), string(item.Status),
					fmt.Sprintf("%.0f%%", item.Progress),
				})
			}
			for _, item := range status.Queued {
				table.AddRow([]string{
					item.ID, item.Name, string(item.Priority), string(item.Status), "-",
				})
			}
			table.Render()
		}

		if len(status.Completed) > 0 {
			fmt.Println("\n最近终态:")
			recent := output.NewTable([]string{"ITEM_ID", "NAME", "STATUS", "FINISHED", "DURATION"})
			for _, rec := range status.Completed {
				recent.AddRow([]string{
					rec.ID, rec.Name, rec.Status,
					rec.EndTime.Format("2006-01-02 15:04:05"),
					fmt.Sprintf("%dms", rec.DurationMS),
				})
			}
			recent.Render()
		}
		return nil
	},
}

func init() {
	itemSubmitCmd.Flags().StringVarP(&itemFile, "file", "f", "", "Workflow定义文件（JSON）")
	itemSubmitCmd.Flags().StringVarP(&itemPriority, "priority", "p", "", "优先级（high/normal/low）")
	itemSubmitCmd.MarkFlagRequired("file")

	itemCmd.AddCommand(itemSubmitCmd)
	itemCmd.AddCommand(itemCancelCmd)
	itemCmd.AddCommand(itemPauseCmd)
	itemCmd.AddCommand(itemResumeCmd)
	itemCmd.AddCommand(itemPriorityCmd)

	queueCmd.AddCommand(queueStatusCmd)
}
