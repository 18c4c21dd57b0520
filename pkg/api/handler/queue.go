// Package handler 实现HTTP API各资源的处理器
package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskdeck/flowqueue/pkg/api/dto"
	"github.com/taskdeck/flowqueue/pkg/core/queue"
	"github.com/taskdeck/flowqueue/pkg/core/workflow"
)

// QueueHandler 队列API处理器
type QueueHandler struct {
	manager *queue.Manager
}

// NewQueueHandler 创建QueueHandler
func NewQueueHandler(manager *queue.Manager) *QueueHandler {
	return &QueueHandler{manager: manager}
}

// Enqueue 提交Workflow到项目队列
// POST /api/v1/projects/:project/items
func (h *QueueHandler) Enqueue(c *gin.Context) {
	projectID := c.Param("project")

	var req dto.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求体解析失败: %v", err)))
		return
	}

	priority := workflow.Priority(req.Priority)
	if req.Priority == "" {
		priority = workflow.PriorityNormal
	}

	steps := make([]workflow.StepDefinition, 0, len(req.Steps))
	for _, s := range req.Steps {
		steps = append(steps, workflow.StepDefinition{
			ID:             s.ID,
			Name:           s.Name,
			Type:           s.Type,
			DependsOn:      s.DependsOn,
			MaxRetries:     s.MaxRetries,
			TimeoutSeconds: s.TimeoutSeconds,
			Weight:         s.Weight,
			Params:         s.Params,
		})
	}

	def := &workflow.Definition{
		Type:     req.Type,
		Name:     req.Name,
		Steps:    steps,
		Metadata: req.Metadata,
	}

	itemID, err := h.manager.Enqueue(projectID, def, priority)
	if err != nil {
		var invalidErr *workflow.InvalidWorkflowError
		if errors.As(err, &invalidErr) {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(dto.EnqueueResponse{
		ItemID:  itemID,
		Message: "已入队",
	}))
}

// Cancel 取消Item
// POST /api/v1/items/:id/cancel
func (h *QueueHandler) Cancel(c *gin.Context) {
	h.control(c, h.manager.Cancel, "取消请求已接受")
}

// Pause 暂停Item
// POST /api/v1/items/:id/pause
func (h *QueueHandler) Pause(c *gin.Context) {
	h.control(c, h.manager.Pause, "暂停请求已接受")
}

// Resume 恢复Item
// POST /api/v1/items/:id/resume
func (h *QueueHandler) Resume(c *gin.Context) {
	h.control(c, h.manager.Resume, "恢复请求已接受")
}

// control 控制操作的公共路径：信号在步骤边界生效，接口只确认受理
func (h *QueueHandler) control(c *gin.Context, op func(string) error, okMessage string) {
	itemID := c.Param("id")

	if err := op(itemID); err != nil {
		var notFound *workflow.NotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, err.Error()))
			return
		}
		c.JSON(http.StatusConflict, dto.NewErrorResponse(409, err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(map[string]string{
		"item_id": itemID,
		"message": okMessage,
	}))
}

// SetPriority 调整排队中Item的优先级
// PUT /api/v1/items/:id/priority
func (h *QueueHandler) SetPriority(c *gin.Context) {
	itemID := c.Param("id")

	var req dto.SetPriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求体解析失败: %v", err)))
		return
	}

	if err := h.manager.SetPriority(itemID, workflow.Priority(req.Priority)); err != nil {
		var notFound *workflow.NotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, err.Error()))
			return
		}
		c.JSON(http.StatusConflict, dto.NewErrorResponse(409, err.Error()))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"item_id":  itemID,
		"priority": req.Priority,
	}))
}

// Status 获取项目队列快照
// GET /api/v1/projects/:project/status
func (h *QueueHandler) Status(c *gin.Context) {
	projectID := c.Param("project")
	status := h.manager.GetStatus(projectID)
	c.JSON(http.StatusOK, dto.NewSuccessResponse(status))
}
