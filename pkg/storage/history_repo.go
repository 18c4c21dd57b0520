// Package storage 提供终态Workflow的历史持久化：追加写入、过滤查询、
// 聚合统计、CSV导出与保留期清理
package storage

import (
	"context"
	"io"
	"time"

	"github.com/taskdeck/flowqueue/pkg/core/workflow"
)

// DefaultPageSize 查询分页的固定页大小（对外导出）
const DefaultPageSize = 20

// StepSnapshot 历史记录中的步骤快照（对外导出）
type StepSnapshot struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// HistoryRecord 终态WorkflowItem的持久化投影（对外导出）
// 在Item进入终态时创建一次，此后除保留期清理外不再变更
type HistoryRecord struct {
	ID           string            `db:"id" json:"id"`
	ProjectID    string            `db:"project_id" json:"project_id"`
	WorkflowType string            `db:"workflow_type" json:"workflow_type"`
	Name         string            `db:"name" json:"name"`
	Status       string            `db:"status" json:"status"`
	Priority     string            `db:"priority" json:"priority"`
	EnqueueTime  time.Time         `db:"enqueue_time" json:"enqueue_time"`
	StartTime    *time.Time        `db:"start_time" json:"start_time,omitempty"`
	EndTime      time.Time         `db:"end_time" json:"end_time"`
	DurationMS   int64             `db:"duration_ms" json:"duration_ms"`
	Steps        []StepSnapshot    `db:"-" json:"steps"`
	ErrorMessage string            `db:"error_message" json:"error_message,omitempty"`
	Metadata     map[string]string `db:"-" json:"metadata,omitempty"`
}

// Filter 历史查询过滤条件（对外导出）
// 所有条件为AND关系；Query与Stats共用同一份过滤谓词
type Filter struct {
	ProjectID string     // 项目ID
	Type      string     // Workflow类型
	Status    string     // 终态状态
	Search    string     // 在ID和错误信息上做模糊匹配
	From      *time.Time // 完成时间下界（含）
	To        *time.Time // 完成时间上界（含）
}

// Page 分页参数（对外导出）
type Page struct {
	Offset int
	Limit  int // <=0 时使用 DefaultPageSize
}

// HistoryStats 聚合统计（对外导出）
// 与Query使用同一过滤谓词单次计算，保证与列表结果一致
type HistoryStats struct {
	Total         int64   `json:"total"`
	Completed     int64   `json:"completed"`
	SuccessRate   float64 `json:"success_rate"` // 0~100
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// HistoryRepository 历史存储接口（对外导出）
//
// 幂等性保证：
//   - Record按ID幂等，重复写入同一终态Item是no-op而非重复记录
//   - DeleteOlderThan只删除完成时间超过保留期的记录
type HistoryRepository interface {
	// Record 追加写入一条终态记录（幂等）
	Record(ctx context.Context, rec *HistoryRecord) error

	// Query 过滤分页查询，按完成时间倒序；返回当页记录与总数
	Query(ctx context.Context, f Filter, p Page) ([]*HistoryRecord, int64, error)

	// Stats 按同一过滤谓词单次计算聚合统计
	Stats(ctx context.Context, f Filter) (*HistoryStats, error)

	// ExportCSV 按过滤条件导出CSV字节流
	ExportCSV(ctx context.Context, f Filter, w io.Writer) error

	// DeleteOlderThan 删除完成时间早于retentionDays天的记录，返回删除数
	DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error)

	// Close 关闭底层连接
	Close() error
}

// FromItem 从终态Item构建历史记录（对外导出）
func FromItem(item *workflow.Item) *HistoryRecord {
	endTime := time.Now()
	if item.EndTime != nil {
		endTime = *item.EndTime
	}

	var durationMS int64
	if item.StartTime != nil {
		durationMS = endTime.Sub(*item.StartTime).Milliseconds()
	}

	steps := make([]StepSnapshot, 0, len(item.Steps))
	for _, s := range item.Steps {
		steps = append(steps, StepSnapshot{
			Name:       s.Name,
			Status:     string(s.Status),
			Result:     s.Result,
			Error:      s.Error,
			RetryCount: s.RetryCount,
		})
	}

	return &HistoryRecord{
		ID:           item.ID,
		ProjectID:    item.ProjectID,
		WorkflowType: item.Type,
		Name:         item.Name,
		Status:       string(item.Status),
		Priority:     string(item.Priority),
		EnqueueTime:  item.EnqueueTime,
		StartTime:    item.StartTime,
		EndTime:      endTime,
		DurationMS:   durationMS,
		Steps:        steps,
		ErrorMessage: item.LastError,
		Metadata:     item.Metadata,
	}
}
