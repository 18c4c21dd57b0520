// Package workflow 定义队列与编排引擎的核心领域模型
package workflow

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Priority 队列优先级（对外导出）
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank 返回优先级排序权重（数值越小越优先）
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Valid 校验优先级是否合法
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// ItemStatus WorkflowItem状态（对外导出）
type ItemStatus string

const (
	StatusQueued    ItemStatus = "queued"
	StatusRunning   ItemStatus = "running"
	StatusPaused    ItemStatus = "paused"
	StatusCompleted ItemStatus = "completed"
	StatusFailed    ItemStatus = "failed"
	StatusCancelled ItemStatus = "cancelled"
)

// Terminal 判断是否为终态（completed/failed/cancelled）
func (s ItemStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepStatus Step状态（对外导出）
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepPaused    StepStatus = "paused"
	StepCancelled StepStatus = "cancelled"
)

// ControlSignal Runner控制信号（对外导出）
// 信号只在步骤边界被处理，不会打断执行中的步骤回调
type ControlSignal int

const (
	SignalPause ControlSignal = iota
	SignalResume
	SignalCancel
)

// String 返回信号名称
func (s ControlSignal) String() string {
	switch s {
	case SignalPause:
		return "pause"
	case SignalResume:
		return "resume"
	case SignalCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// StepDefinition 提交时的Step定义（对外导出）
type StepDefinition struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           string         `json:"type"`            // 回调类型名称（注册中心的key）
	DependsOn      []string       `json:"depends_on"`      // 依赖的前置Step ID列表
	MaxRetries     int            `json:"max_retries"`     // 最大重试次数（总尝试次数 = 1 + MaxRetries）
	TimeoutSeconds int            `json:"timeout_seconds"` // 单步超时（秒），0表示不限
	Weight         float64        `json:"weight"`          // 进度权重，0表示等权
	Params         map[string]any `json:"params"`
}

// Definition 提交时的Workflow定义（对外导出）
type Definition struct {
	Type     string            `json:"type"` // Workflow类型（如 "testing"、"refactor"）
	Name     string            `json:"name"`
	Steps    []StepDefinition  `json:"steps"`
	Metadata map[string]string `json:"metadata"`
}

// Step WorkflowItem内的运行时Step（对外导出）
type Step struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	Status         StepStatus     `json:"status"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Weight         float64        `json:"weight,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Result         any            `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartTime      *time.Time     `json:"start_time,omitempty"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
}

// Item 队列中的Workflow单元（对外导出）
// 入队阶段的字段（Status/Priority/队列位置）由QueueManager在项目锁内修改；
// 运行阶段的字段（CurrentStep/Progress/Steps）由当前持有它的Runner独占修改。
type Item struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Priority    Priority          `json:"priority"`
	Status      ItemStatus        `json:"status"`
	Steps       []*Step           `json:"steps"`
	CurrentStep int               `json:"current_step"`
	Progress    float64           `json:"progress"` // 0~100
	LastError   string            `json:"last_error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	EnqueueTime time.Time         `json:"enqueue_time"`
	StartTime   *time.Time        `json:"start_time,omitempty"`
	EndTime     *time.Time        `json:"end_time,omitempty"`

	seq int64 // 事件序列号生成器（atomic）
}

// NewItem 从Definition创建WorkflowItem（对外导出）
func NewItem(projectID string, def *Definition, priority Priority) *Item {
	steps := make([]*Step, 0, len(def.Steps))
	for _, sd := range def.Steps {
		stepID := sd.ID
		if stepID == "" {
			stepID = uuid.NewString()
		}
		steps = append(steps, &Step{
			ID:             stepID,
			Name:           sd.Name,
			Type:           sd.Type,
			Status:         StepPending,
			DependsOn:      sd.DependsOn,
			MaxRetries:     sd.MaxRetries,
			TimeoutSeconds: sd.TimeoutSeconds,
			Weight:         sd.Weight,
			Params:         sd.Params,
		})
	}

	return &Item{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Type:        def.Type,
		Name:        def.Name,
		Priority:    priority,
		Status:      StatusQueued,
		Steps:       steps,
		CurrentStep: -1,
		Metadata:    def.Metadata,
		EnqueueTime: time.Now(),
	}
}

// NextSequence 生成下一个事件序列号（对外导出）
// 每个Item的序列号严格递增，供ProgressEvent排序使用
func (it *Item) NextSequence() int64 {
	return atomic.AddInt64(&it.seq, 1)
}

// StepByID 根据ID查找Step
func (it *Item) StepByID(id string) *Step {
	for _, s := range it.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ComputeProgress 计算整体进度百分比（对外导出）
// completed步骤权重 / 总权重 × 100；未声明权重的步骤按等权1计算
func (it *Item) ComputeProgress() float64 {
	if len(it.Steps) == 0 {
		return 0
	}
	var total, done float64
	for _, s := range it.Steps {
		w := s.Weight
		if w <= 0 {
			w = 1
		}
		total += w
		if s.Status == StepCompleted {
			done += w
		}
	}
	if total == 0 {
		return 0
	}
	return done / total * 100
}

// CanTransition 校验状态迁移是否合法（对外导出）
// queued → running → {completed|failed|cancelled}
// paused 仅从 running 可达，且只能回到 running 或进入 cancelled
// queued 可直接进入 cancelled（排队中取消）
func CanTransition(from, to ItemStatus) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusPaused || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusPaused:
		return to == StatusRunning || to == StatusCancelled
	default:
		// 终态不可再迁移
		return false
	}
}
