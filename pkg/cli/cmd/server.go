package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	internalstorage "github.com/taskdeck/flowqueue/internal/storage"
	"github.com/taskdeck/flowqueue/pkg/api"
	"github.com/taskdeck/flowqueue/pkg/cli/output"
	"github.com/taskdeck/flowqueue/pkg/config"
	"github.com/taskdeck/flowqueue/pkg/core/progress"
	"github.com/taskdeck/flowqueue/pkg/core/queue"
	"github.com/taskdeck/flowqueue/pkg/core/step"
)

var (
	serverPort int
	serverHost string
	configPath string
)

// serverCmd server子命令
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "服务管理命令",
	Long:  `管理FlowQueue HTTP API服务。`,
}

// serverStartCmd 启动服务
var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动HTTP API服务",
	Long: `启动FlowQueue HTTP API服务。

示例：
  # 使用默认配置启动
  flowqueue server start

  # 指定端口启动
  flowqueue server start --port 8080

  # 指定配置文件启动
  flowqueue server start --config ./configs/flowqueue.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置（文件不存在时使用默认配置）
		cfg, err := config.Load(configPath)
		if err != nil {
			output.Error("加载配置失败: %v", err)
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.HTTPPort = serverPort
		}
		if err := config.Validate(cfg); err != nil {
			output.Error("配置校验失败: %v", err)
			return err
		}

		// 创建历史存储
		history, err := internalstorage.NewHistoryRepository(cfg.Database.Type, cfg.Database.DSN)
		if err != nil {
			output.Error("创建历史存储失败: %v", err)
			return err
		}
		defer history.Close()

		// 注册内置步骤回调
		registry := step.NewRegistry()
		if err := step.RegisterDefaults(registry); err != nil {
			output.Error("注册内置步骤失败: %v", err)
			return err
		}

		// 创建广播器与队列管理器
		broadcaster := progress.NewBroadcaster(cfg.Broadcast.SubscriberBuffer, cfg.Broadcast.Debug)
		manager := queue.NewManager(registry, broadcaster, history, queue.Options{
			SlotsPerProject: cfg.Queue.SlotsPerProject,
			SkipUnreachable: cfg.Queue.SkipUnreachable,
		})

		// 启动保留期清理调度器
		var retention *queue.RetentionScheduler
		if cfg.Retention.Enabled {
			retention = queue.NewRetentionScheduler(history, cfg.Retention.Days)
			if err := retention.Start(cfg.Retention.Cron); err != nil {
				output.Error("启动保留期清理失败: %v", err)
				return err
			}
		}

		// 创建并启动API服务器
		serverCfg := api.DefaultServerConfig()
		serverCfg.Host = serverHost
		serverCfg.Port = cfg.HTTPPort
		apiServer := api.NewAPIServer(manager, broadcaster, history, serverCfg, Version)

		go func() {
			if err := apiServer.Start(); err != nil {
				log.Printf("API服务器错误: %v", err)
			}
		}()

		output.Success("FlowQueue Server started on %s:%d", serverHost, cfg.HTTPPort)

		// 等待中断信号
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		output.Info("正在关闭服务...")

		// 优雅关闭：先停API入口，再等Runner在步骤边界收尾
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			output.Error("关闭API服务器失败: %v", err)
		}
		if retention != nil {
			retention.Stop()
		}
		manager.Stop()
		broadcaster.Close()

		output.Success("服务已停止")
		return nil
	},
}

func init() {
	serverStartCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "监听端口")
	serverStartCmd.Flags().StringVarP(&serverHost, "host", "H", "0.0.0.0", "监听地址")
	serverStartCmd.Flags().StringVarP(&configPath, "config", "c", "./configs/flowqueue.yaml", "配置文件路径")

	serverCmd.AddCommand(serverStartCmd)
}
