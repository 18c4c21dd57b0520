// Package runner 提供单个WorkflowItem的执行器：按依赖顺序调度步骤，
// 在步骤边界处理pause/resume/cancel控制信号
package runner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/taskdeck/flowqueue/pkg/core/executor"
	"github.com/taskdeck/flowqueue/pkg/core/progress"
	"github.com/taskdeck/flowqueue/pkg/core/workflow"
)

// Runner Workflow执行器（对外导出）
// 运行期间独占Item的运行态字段（Steps/CurrentStep/Progress/Status）；
// 严格串行执行：同一时刻最多一个步骤在执行中
type Runner struct {
	mu   sync.Mutex
	item *workflow.Item

	exec            *executor.Executor
	broadcaster     *progress.Broadcaster
	signals         chan workflow.ControlSignal
	skipUnreachable bool
}

// NewRunner 创建Runner（对外导出）
// skipUnreachable: 依赖无法满足时跳过剩余步骤并完成，而非整体失败
func NewRunner(item *workflow.Item, exec *executor.Executor, broadcaster *progress.Broadcaster, skipUnreachable bool) *Runner {
	return &Runner{
		item:            item,
		exec:            exec,
		broadcaster:     broadcaster,
		signals:         make(chan workflow.ControlSignal, 10),
		skipUnreachable: skipUnreachable,
	}
}

// Signal 发送控制信号（对外导出）
// 非阻塞；信号只在步骤边界被处理
func (r *Runner) Signal(sig workflow.ControlSignal) {
	select {
	case r.signals <- sig:
	default:
		log.Printf("警告: Item %s 控制信号通道已满，信号 %s 被忽略", r.item.ID, sig)
	}
}

// Snapshot 获取Item的一致性快照（对外导出）
// 步骤边界的状态变更在锁内原子完成，观察者不会看到中间状态
func (r *Runner) Snapshot() *workflow.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshotItem(r.item)
}

// snapshotItem 复制Item及其步骤
func snapshotItem(it *workflow.Item) *workflow.Item {
	clone := *it
	clone.Steps = make([]*workflow.Step, len(it.Steps))
	for i, s := range it.Steps {
		stepCopy := *s
		clone.Steps[i] = &stepCopy
	}
	return &clone
}

// Run 执行Workflow直到终态（对外导出）
// ctx取消视为取消信号（引擎关闭时的兜底）；正常取消走Signal(SignalCancel)
func (r *Runner) Run(ctx context.Context) workflow.ItemStatus {
	r.transition(workflow.StatusRunning, func() {
		now := time.Now()
		r.item.StartTime = &now
	})
	r.emit(progress.NewEvent(progress.EventWorkflowStarted, r.item))
	log.Printf("🚀 [Workflow启动] ItemID=%s, Project=%s, 步骤数=%d", r.item.ID, r.item.ProjectID, len(r.item.Steps))

	for {
		// 步骤边界：处理控制信号
		if terminal := r.handleSignals(ctx); terminal != "" {
			return terminal
		}

		s := r.nextReadyStep()
		if s == nil {
			if !r.hasPendingSteps() {
				return r.finishCompleted()
			}
			return r.finishDeadlock()
		}

		r.runStep(ctx, s)

		r.mu.Lock()
		failed := r.item.Status == workflow.StatusFailed
		r.mu.Unlock()
		if failed {
			return workflow.StatusFailed
		}
	}
}

// handleSignals 在步骤边界处理积压的控制信号
// 返回非空状态表示Workflow已进入终态
func (r *Runner) handleSignals(ctx context.Context) workflow.ItemStatus {
	for {
		select {
		case sig := <-r.signals:
			switch sig {
			case workflow.SignalCancel:
				return r.finishCancelled()
			case workflow.SignalPause:
				if terminal := r.waitPaused(ctx); terminal != "" {
					return terminal
				}
			case workflow.SignalResume:
				// 未暂停时收到resume，忽略
			}
		case <-ctx.Done():
			return r.finishCancelled()
		default:
			return ""
		}
	}
}

// waitPaused 进入暂停态并阻塞等待resume/cancel
func (r *Runner) waitPaused(ctx context.Context) workflow.ItemStatus {
	r.transition(workflow.StatusPaused, nil)
	r.emit(progress.NewEvent(progress.EventWorkflowPaused, r.item))
	log.Printf("⏸️  [Workflow暂停] ItemID=%s", r.item.ID)

	for {
		select {
		case sig := <-r.signals:
			switch sig {
			case workflow.SignalResume:
				r.transition(workflow.StatusRunning, nil)
				r.emit(progress.NewEvent(progress.EventWorkflowResumed, r.item))
				log.Printf("▶️  [Workflow恢复] ItemID=%s", r.item.ID)
				return ""
			case workflow.SignalCancel:
				return r.finishCancelled()
			case workflow.SignalPause:
				// 已处于暂停态，忽略
			}
		case <-ctx.Done():
			return r.finishCancelled()
		}
	}
}

// nextReadyStep 按列表顺序选取第一个依赖全部完成的pending步骤
func (r *Runner) nextReadyStep() *workflow.Step {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.item.Steps {
		if s.Status != workflow.StepPending {
			continue
		}
		ready := true
		for _, depID := range s.DependsOn {
			dep := r.item.StepByID(depID)
			if dep == nil || dep.Status != workflow.StepCompleted {
				ready = false
				break
			}
		}
		if ready {
			return s
		}
	}
	return nil
}

// hasPendingSteps 是否仍有pending步骤
func (r *Runner) hasPendingSteps() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.item.Steps {
		if s.Status == workflow.StepPending {
			return true
		}
	}
	return false
}

// runStep 执行单个步骤并在边界原子更新进度
func (r *Runner) runStep(ctx context.Context, s *workflow.Step) {
	r.mu.Lock()
	s.Status = workflow.StepRunning
	now := time.Now()
	s.StartTime = &now
	for i, candidate := range r.item.Steps {
		if candidate.ID == s.ID {
			r.item.CurrentStep = i
			break
		}
	}
	r.mu.Unlock()

	r.emit(progress.NewEvent(progress.EventStepStarted, r.item).WithStep(s))

	result := r.exec.ExecuteStep(ctx, r.item, s, func(attempt int) {
		r.emit(progress.NewEvent(progress.EventStepRetrying, r.item).WithStep(s))
	})

	// 引擎关闭：父context取消不算步骤失败，标记取消后由边界收尾
	if result.Err != nil && ctx.Err() != nil && errors.Is(result.Err, ctx.Err()) {
		r.mu.Lock()
		end := time.Now()
		s.EndTime = &end
		s.Status = workflow.StepCancelled
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	end := time.Now()
	s.EndTime = &end
	if result.Err == nil {
		s.Status = workflow.StepCompleted
		s.Result = result.Data
		r.item.Progress = r.item.ComputeProgress()
	} else {
		s.Status = workflow.StepFailed
		s.Error = result.Err.Error()
		r.item.Status = workflow.StatusFailed
		r.item.LastError = result.Err.Error()
		r.item.EndTime = &end
	}
	r.mu.Unlock()

	if result.Err == nil {
		r.emit(progress.NewEvent(progress.EventStepCompleted, r.item).WithStep(s))
		r.emit(progress.NewEvent(progress.EventWorkflowProgress, r.item))
		log.Printf("✅ [步骤完成] ItemID=%s, Step=%s, 进度=%.1f%%", r.item.ID, s.Name, r.item.Progress)
	} else {
		r.emit(progress.NewEvent(progress.EventStepFailed, r.item).WithStep(s).WithError(s.Error))
		r.emit(progress.NewEvent(progress.EventWorkflowFailed, r.item).WithError(r.item.LastError))
		log.Printf("❌ [Workflow失败] ItemID=%s, Step=%s, 错误=%s", r.item.ID, s.Name, s.Error)
	}
}

// finishCompleted 所有步骤完成
func (r *Runner) finishCompleted() workflow.ItemStatus {
	r.transition(workflow.StatusCompleted, func() {
		now := time.Now()
		r.item.EndTime = &now
		r.item.Progress = r.item.ComputeProgress()
	})
	r.emit(progress.NewEvent(progress.EventWorkflowCompleted, r.item))
	log.Printf("🎉 [Workflow完成] ItemID=%s, 进度=%.1f%%", r.item.ID, r.item.Progress)
	return workflow.StatusCompleted
}

// finishCancelled 取消：当前无在途步骤（边界保证），剩余pending步骤标记为cancelled
func (r *Runner) finishCancelled() workflow.ItemStatus {
	r.transition(workflow.StatusCancelled, func() {
		now := time.Now()
		r.item.EndTime = &now
		for _, s := range r.item.Steps {
			if s.Status == workflow.StepPending {
				s.Status = workflow.StepCancelled
			}
		}
	})
	r.emit(progress.NewEvent(progress.EventWorkflowCancelled, r.item))
	log.Printf("🛑 [Workflow取消] ItemID=%s", r.item.ID)
	return workflow.StatusCancelled
}

// finishDeadlock 存在pending步骤但无一就绪：依赖无法满足
func (r *Runner) finishDeadlock() workflow.ItemStatus {
	r.mu.Lock()
	remaining := make([]string, 0)
	for _, s := range r.item.Steps {
		if s.Status == workflow.StepPending {
			remaining = append(remaining, s.Name)
		}
	}
	r.mu.Unlock()

	if r.skipUnreachable {
		r.transition(workflow.StatusCompleted, func() {
			now := time.Now()
			r.item.EndTime = &now
			for _, s := range r.item.Steps {
				if s.Status == workflow.StepPending {
					s.Status = workflow.StepCancelled
				}
			}
			r.item.Progress = r.item.ComputeProgress()
		})
		r.emit(progress.NewEvent(progress.EventWorkflowCompleted, r.item))
		log.Printf("⚠️ [Workflow完成] ItemID=%s, 跳过不可达步骤: %v", r.item.ID, remaining)
		return workflow.StatusCompleted
	}

	err := &workflow.DependencyDeadlockError{Remaining: remaining}
	r.transition(workflow.StatusFailed, func() {
		now := time.Now()
		r.item.EndTime = &now
		r.item.LastError = err.Error()
	})
	r.emit(progress.NewEvent(progress.EventWorkflowFailed, r.item).WithError(err.Error()))
	log.Printf("❌ [Workflow失败] ItemID=%s, %v", r.item.ID, err)
	return workflow.StatusFailed
}

// transition 在锁内原子更新状态及附带字段
func (r *Runner) transition(to workflow.ItemStatus, apply func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.item.Status = to
	if apply != nil {
		apply()
	}
}

// emit 发布进度事件（失败只记日志，不影响执行）
func (r *Runner) emit(event *progress.Event) {
	if r.broadcaster == nil {
		return
	}
	if err := r.broadcaster.Publish(event); err != nil {
		log.Printf("警告: 发布进度事件失败: %v", err)
	}
}
