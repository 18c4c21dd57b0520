// Package cmd 定义FlowQueue CLI的各子命令
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// 全局变量
	serverURL  string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "flowqueue",
	Short: "FlowQueue CLI - 队列与步骤编排引擎命令行工具",
	Long: `FlowQueue CLI 是一个用于管理Workflow队列的命令行工具。

支持的功能：
  - 提交Workflow到项目队列
  - 管理排队/运行中的Item（取消、暂停、恢复、调整优先级）
  - 查看项目队列状态
  - 查询执行历史与统计、导出CSV
  - 启动HTTP API服务

使用示例：
  # 提交Workflow
  flowqueue item submit my-project --file workflow.json

  # 查看队列状态
  flowqueue queue status my-project

  # 查询执行历史
  flowqueue history list --project my-project

  # 启动HTTP服务
  flowqueue server start --port 8080`,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "FlowQueue服务器地址")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")

	// 添加子命令
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}
