// Package dto 定义HTTP API的请求与响应结构
package dto

// StepRequest 提交Workflow时的单步定义
type StepRequest struct {
	ID             string         `json:"id"`
	Name           string         `json:"name" binding:"required"`
	Type           string         `json:"type" binding:"required"`
	DependsOn      []string       `json:"depends_on"`
	MaxRetries     int            `json:"max_retries"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Weight         float64        `json:"weight"`
	Params         map[string]any `json:"params"`
}

// EnqueueRequest 提交Workflow请求
type EnqueueRequest struct {
	Type     string            `json:"type"`
	Name     string            `json:"name" binding:"required"`
	Priority string            `json:"priority"` // high/normal/low，默认normal
	Steps    []StepRequest     `json:"steps" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

// SetPriorityRequest 调整排队优先级请求
type SetPriorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}
