package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskdeck/flowqueue/pkg/api/dto"
	"github.com/taskdeck/flowqueue/pkg/storage"
)

// HistoryHandler 历史记录API处理器
type HistoryHandler struct {
	history storage.HistoryRepository
}

// NewHistoryHandler 创建HistoryHandler
func NewHistoryHandler(history storage.HistoryRepository) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// parseFilter 从查询参数构建过滤条件
// List/Stats/Export共用，保证三个接口看到同一份数据
func parseFilter(c *gin.Context) (storage.Filter, error) {
	f := storage.Filter{
		ProjectID: c.Query("project"),
		Type:      c.Query("type"),
		Status:    c.Query("status"),
		Search:    c.Query("search"),
	}

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return f, fmt.Errorf("from时间格式无效（需RFC3339）: %v", err)
		}
		f.From = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return f, fmt.Errorf("to时间格式无效（需RFC3339）: %v", err)
		}
		f.To = &t
	}
	return f, nil
}

// List 过滤分页查询历史记录
// GET /api/v1/history
func (h *HistoryHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, err.Error()))
		return
	}

	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	records, total, err := h.history.Query(ctx, f, storage.Page{Offset: offset, Limit: limit})
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询历史失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[*storage.HistoryRecord]{
		Total:   total,
		Items:   records,
		HasMore: int64(offset+len(records)) < total,
	}))
}

// Stats 按同一过滤条件返回聚合统计
// GET /api/v1/history/stats
func (h *HistoryHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, err.Error()))
		return
	}

	stats, err := h.history.Stats(ctx, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("计算统计失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(stats))
}

// Export 导出CSV
// GET /api/v1/history/export
func (h *HistoryHandler) Export(c *gin.Context) {
	ctx := c.Request.Context()

	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, err.Error()))
		return
	}

	filename := fmt.Sprintf("history_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := h.history.ExportCSV(ctx, f, c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("导出CSV失败: %v", err)))
		return
	}
}

// Cleanup 立即执行一次保留期清理
// DELETE /api/v1/history?retention_days=30
func (h *HistoryHandler) Cleanup(c *gin.Context) {
	ctx := c.Request.Context()

	days, err := strconv.Atoi(c.DefaultQuery("retention_days", "30"))
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "retention_days必须是正整数"))
		return
	}

	deleted, err := h.history.DeleteOlderThan(ctx, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("清理历史失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.CleanupResponse{Deleted: deleted}))
}
