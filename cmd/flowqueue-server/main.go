package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	internalstorage "github.com/taskdeck/flowqueue/internal/storage"
	"github.com/taskdeck/flowqueue/pkg/api"
	"github.com/taskdeck/flowqueue/pkg/config"
	"github.com/taskdeck/flowqueue/pkg/core/progress"
	"github.com/taskdeck/flowqueue/pkg/core/queue"
	"github.com/taskdeck/flowqueue/pkg/core/step"
)

var (
	Version   = "0.3.1"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "./configs/flowqueue.yaml", "配置文件路径")
	host := flag.String("host", "0.0.0.0", "监听地址")
	port := flag.Int("port", 0, "监听端口（覆盖配置文件）")
	flag.Parse()

	log.Printf("FlowQueue Server v%s", Version)
	log.Printf("配置文件: %s", *configPath)

	// 1. 加载并校验配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *port > 0 {
		cfg.HTTPPort = *port
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	// 2. 创建历史存储
	history, err := internalstorage.NewHistoryRepository(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("创建历史存储失败: %v", err)
	}
	defer history.Close()

	// 3. 注册内置步骤回调
	registry := step.NewRegistry()
	if err := step.RegisterDefaults(registry); err != nil {
		log.Fatalf("注册内置步骤失败: %v", err)
	}

	// 4. 创建广播器与队列管理器
	broadcaster := progress.NewBroadcaster(cfg.Broadcast.SubscriberBuffer, cfg.Broadcast.Debug)
	manager := queue.NewManager(registry, broadcaster, history, queue.Options{
		SlotsPerProject: cfg.Queue.SlotsPerProject,
		SkipUnreachable: cfg.Queue.SkipUnreachable,
	})

	// 5. 启动保留期清理调度器
	var retention *queue.RetentionScheduler
	if cfg.Retention.Enabled {
		retention = queue.NewRetentionScheduler(history, cfg.Retention.Days)
		if err := retention.Start(cfg.Retention.Cron); err != nil {
			log.Fatalf("启动保留期清理失败: %v", err)
		}
	}

	// 6. 创建并启动API服务器
	serverCfg := api.DefaultServerConfig()
	serverCfg.Host = *host
	serverCfg.Port = cfg.HTTPPort
	apiServer := api.NewAPIServer(manager, broadcaster, history, serverCfg, Version)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("API服务器错误: %v", err)
		}
	}()

	log.Printf("✅ FlowQueue Server started on %s:%d", *host, cfg.HTTPPort)

	// 7. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 8. 优雅关闭：先停API入口，再等Runner在步骤边界收尾
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("关闭API服务器失败: %v", err)
	}
	if retention != nil {
		retention.Stop()
	}
	manager.Stop()
	broadcaster.Close()

	log.Println("✅ 服务已停止")
}
