// Package executor 提供单个步骤的执行器：超时控制、重试与指数退避
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/taskdeck/flowqueue/pkg/core/step"
	"github.com/taskdeck/flowqueue/pkg/core/workflow"
)

const (
	defaultBackoffBase = time.Second
	maxBackoff         = 30 * time.Second
)

// Result 步骤执行结果（对外导出）
type Result struct {
	Data     any
	Err      error
	Attempts int   // 总尝试次数（含首次执行）
	Duration int64 // 毫秒
}

// Option Executor配置选项（对外导出）
type Option func(*Executor)

// WithBackoffBase 设置重试退避基准时长（测试用短间隔）
func WithBackoffBase(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.backoffBase = d
		}
	}
}

// Executor 步骤执行器（对外导出）
// 将一个步骤执行到成功/失败/超时，并在失败时按重试策略退避重试；
// 超时只使当次尝试失败（仍受重试策略约束），不会终止整个Runner
type Executor struct {
	registry    *step.Registry
	backoffBase time.Duration
}

// NewExecutor 创建步骤执行器（对外导出）
func NewExecutor(registry *step.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:    registry,
		backoffBase: defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteStep 执行单个步骤（对外导出）
// onRetry在每次重试前被调用（用于上报step.retrying事件）；
// 返回的Result.Err为nil表示成功
func (e *Executor) ExecuteStep(ctx context.Context, item *workflow.Item, s *workflow.Step, onRetry func(attempt int)) *Result {
	startTime := time.Now()

	if _, ok := e.registry.Get(s.Type); !ok {
		return &Result{
			Err:      fmt.Errorf("步骤类型 %s 未注册", s.Type),
			Attempts: 1,
			Duration: time.Since(startTime).Milliseconds(),
		}
	}

	var lastErr error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		if attempt > 0 {
			s.RetryCount = attempt
			if onRetry != nil {
				onRetry(attempt)
			}
			// 指数退避：1s、2s、4s...，封顶30s
			delay := e.backoffBase * time.Duration(1<<uint(attempt-1))
			if delay > maxBackoff {
				delay = maxBackoff
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &Result{
					Err:      ctx.Err(),
					Attempts: attempt,
					Duration: time.Since(startTime).Milliseconds(),
				}
			}
		}

		data, err := e.runOnce(ctx, item, s, attempt)
		if err == nil {
			return &Result{
				Data:     data,
				Attempts: attempt + 1,
				Duration: time.Since(startTime).Milliseconds(),
			}
		}
		// 父context取消（引擎关闭）不算步骤失败：原样透传，由Runner按取消收尾
		if ctx.Err() != nil {
			return &Result{
				Err:      ctx.Err(),
				Attempts: attempt + 1,
				Duration: time.Since(startTime).Milliseconds(),
			}
		}
		lastErr = err
		log.Printf("❌ [步骤执行失败] ItemID=%s, Step=%s, 尝试=%d/%d, 错误=%v",
			item.ID, s.Name, attempt+1, s.MaxRetries+1, err)
	}

	return &Result{
		Err: &workflow.StepExecutionError{
			StepID:   s.ID,
			StepName: s.Name,
			Attempts: s.MaxRetries + 1,
			Err:      lastErr,
		},
		Attempts: s.MaxRetries + 1,
		Duration: time.Since(startTime).Milliseconds(),
	}
}

// runOnce 执行一次尝试（带单步超时）
func (e *Executor) runOnce(ctx context.Context, item *workflow.Item, s *workflow.Step, attempt int) (any, error) {
	stepCtx := ctx
	var cancel context.CancelFunc
	if s.TimeoutSeconds > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(s.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cb, _ := e.registry.Get(s.Type)
	stepContext := step.NewContext(stepCtx, item.ID, item.ProjectID, s.ID, s.Name, attempt, s.Params)

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		// 回调panic转为错误，隔离到当次尝试
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("步骤回调panic: %v", rec)}
			}
		}()
		data, err := cb(stepContext)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-stepCtx.Done():
		if stepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("步骤执行超时（%d秒）", s.TimeoutSeconds)
		}
		// 引擎关闭：等待回调感知取消后返回，不遗留在途goroutine
		<-done
		return nil, stepCtx.Err()
	}
}
