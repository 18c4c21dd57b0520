package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/taskdeck/flowqueue/pkg/core/progress"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// ProgressHandler 进度事件WebSocket处理器
type ProgressHandler struct {
	broadcaster *progress.Broadcaster
	upgrader    websocket.Upgrader
}

// NewProgressHandler 创建ProgressHandler
func NewProgressHandler(broadcaster *progress.Broadcaster) *ProgressHandler {
	return &ProgressHandler{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Events 订阅项目进度事件流
// GET /ws/projects/:project/events
// 每个连接持有独立的有界缓冲订阅，慢连接丢事件而不阻塞引擎
func (h *ProgressHandler) Events(c *gin.Context) {
	projectID := c.Param("project")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("警告: WebSocket升级失败: %v", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	events, err := h.broadcaster.Subscribe(ctx, projectID)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "订阅失败"),
			time.Now().Add(wsWriteTimeout))
		return
	}

	// 读取goroutine只用于感知客户端断开
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
