package workflow

import (
	"errors"
	"fmt"
)

// InvalidWorkflowError 非法Workflow定义错误（对外导出）
// 提交阶段被拒绝，不会进入队列
type InvalidWorkflowError struct {
	Reason string
}

func (e *InvalidWorkflowError) Error() string {
	return fmt.Sprintf("非法的Workflow定义: %s", e.Reason)
}

// DependencyDeadlockError 依赖死锁错误（对外导出）
// 存在pending步骤但没有任何步骤就绪，Workflow以failed终止
type DependencyDeadlockError struct {
	Remaining []string // 无法满足依赖的Step名称列表
}

func (e *DependencyDeadlockError) Error() string {
	return fmt.Sprintf("依赖无法满足，剩余步骤: %v", e.Remaining)
}

// StepExecutionError 步骤执行错误（对外导出）
// 重试耗尽后导致Workflow失败
type StepExecutionError struct {
	StepID   string
	StepName string
	Attempts int // 总尝试次数（含首次执行）
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("步骤 %s 执行失败（尝试%d次）: %v", e.StepName, e.Attempts, e.Err)
}

// Unwrap 支持errors.Is/As链式匹配
func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// NotFoundError 未找到指定Item的错误（对外导出）
type NotFoundError struct {
	ItemID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("WorkflowItem %s 不存在", e.ItemID)
}

// ErrInvalidTransition 非法状态迁移（对外导出）
var ErrInvalidTransition = errors.New("非法的状态迁移")
