// Package progress 提供进度事件模型与事件广播器
package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/taskdeck/flowqueue/pkg/core/workflow"
)

// EventType 进度事件类型（对外导出）
type EventType string

const (
	// Workflow生命周期事件
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowProgress  EventType = "workflow.progress"
	EventWorkflowPaused    EventType = "workflow.paused"
	EventWorkflowResumed   EventType = "workflow.resumed"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventWorkflowCancelled EventType = "workflow.cancelled"

	// 步骤事件
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventStepRetrying  EventType = "step.retrying"
)

// Terminal 判断事件是否为Workflow终态事件
func (t EventType) Terminal() bool {
	return t == EventWorkflowCompleted || t == EventWorkflowFailed || t == EventWorkflowCancelled
}

// Event 进度事件（对外导出）
// 不可变记录；Sequence由所属Item生成，单个Workflow内严格递增
type Event struct {
	ID        string              `json:"id"`
	Sequence  int64               `json:"sequence"`
	Type      EventType           `json:"type"`
	ItemID    string              `json:"item_id"`
	ProjectID string              `json:"project_id"`
	Status    workflow.ItemStatus `json:"status"`
	StepID    string              `json:"step_id,omitempty"`
	StepName  string              `json:"step_name,omitempty"`
	Progress  float64             `json:"progress"`
	Error     string              `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewEvent 创建进度事件（对外导出）
// 序列号取自item.NextSequence()，保证同一Workflow内单调递增
func NewEvent(eventType EventType, item *workflow.Item) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Sequence:  item.NextSequence(),
		Type:      eventType,
		ItemID:    item.ID,
		ProjectID: item.ProjectID,
		Status:    item.Status,
		Progress:  item.Progress,
		Timestamp: time.Now(),
	}
}

// WithStep 附加步骤信息
func (e *Event) WithStep(s *workflow.Step) *Event {
	e.StepID = s.ID
	e.StepName = s.Name
	return e
}

// WithError 附加错误信息
func (e *Event) WithError(msg string) *Event {
	e.Error = msg
	return e
}
