// Package api 提供HTTP API服务器与路由
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/taskdeck/flowqueue/pkg/api/handler"
	"github.com/taskdeck/flowqueue/pkg/api/middleware"
	"github.com/taskdeck/flowqueue/pkg/core/progress"
	"github.com/taskdeck/flowqueue/pkg/core/queue"
	"github.com/taskdeck/flowqueue/pkg/storage"
)

// SetupRouter 设置路由
func SetupRouter(manager *queue.Manager, broadcaster *progress.Broadcaster, history storage.HistoryRepository, version string) *gin.Engine {
	// 设置gin模式
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())

	// 创建handlers
	queueHandler := handler.NewQueueHandler(manager)
	historyHandler := handler.NewHistoryHandler(history)
	progressHandler := handler.NewProgressHandler(broadcaster)
	healthHandler := handler.NewHealthHandler(version)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// WebSocket进度流
	router.GET("/ws/projects/:project/events", progressHandler.Events)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	{
		// 队列路由
		projects := v1.Group("/projects")
		{
			projects.POST("/:project/items", queueHandler.Enqueue)
			projects.GET("/:project/status", queueHandler.Status)
		}

		items := v1.Group("/items")
		{
			items.POST("/:id/cancel", queueHandler.Cancel)
			items.POST("/:id/pause", queueHandler.Pause)
			items.POST("/:id/resume", queueHandler.Resume)
			items.PUT("/:id/priority", queueHandler.SetPriority)
		}

		// 历史记录路由
		history := v1.Group("/history")
		{
			history.GET("", historyHandler.List)
			history.GET("/stats", historyHandler.Stats)
			history.GET("/export", historyHandler.Export)
			history.DELETE("", historyHandler.Cleanup)
		}
	}

	return router
}
