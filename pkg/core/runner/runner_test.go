package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/flowqueue/pkg/core/executor"
	"github.com/taskdeck/flowqueue/pkg/core/step"
	"github.com/taskdeck/flowqueue/pkg/core/workflow"
)

// recorder 记录步骤执行顺序
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func diamondItem() *workflow.Item {
	def := &workflow.Definition{
		Name: "diamond",
		Steps: []workflow.StepDefinition{
			{ID: "s1", Name: "s1", Type: "record"},
			{ID: "s2", Name: "s2", Type: "record", DependsOn: []string{"s1"}},
			{ID: "s3", Name: "s3", Type: "record", DependsOn: []string{"s1"}},
			{ID: "s4", Name: "s4", Type: "record", DependsOn: []string{"s2", "s3"}},
		},
	}
	return workflow.NewItem("proj1", def, workflow.PriorityNormal)
}

func TestRun_DiamondCompletes(t *testing.T) {
	rec := &recorder{}
	registry := step.NewRegistry()
	registry.Register("record", func(ctx *step.Context) (any, error) {
		rec.add(ctx.StepName)
		return ctx.StepName, nil
	}, "")

	item := diamondItem()
	rn := NewRunner(item, executor.NewExecutor(registry), nil, false)

	status := rn.Run(context.Background())
	require.Equal(t, workflow.StatusCompleted, status, "钻石依赖应全部完成")

	snap := rn.Snapshot()
	assert.InDelta(t, 100.0, snap.Progress, 0.01, "进度应为100%%")
	for _, s := range snap.Steps {
		assert.Equal(t, workflow.StepCompleted, s.Status, "步骤 %s 应完成", s.Name)
	}

	// 依赖顺序：s1最先，s4最后
	order := rec.get()
	require.Len(t, order, 4)
	assert.Equal(t, "s1", order[0], "s1应最先执行")
	assert.Equal(t, "s4", order[3], "s4应最后执行")
}

func TestRun_StepFailureStopsWorkflow(t *testing.T) {
	registry := step.NewRegistry()
	registry.Register("record", func(ctx *step.Context) (any, error) {
		if ctx.StepName == "s1" {
			return nil, fmt.Errorf("注入失败")
		}
		return nil, nil
	}, "")

	item := diamondItem()
	rn := NewRunner(item, executor.NewExecutor(registry, executor.WithBackoffBase(time.Millisecond)), nil, false)

	status := rn.Run(context.Background())
	require.Equal(t, workflow.StatusFailed, status)

	snap := rn.Snapshot()
	assert.Equal(t, workflow.StepFailed, snap.Steps[0].Status)
	// 失败步骤的下游保持pending，不被执行也不被标记
	assert.Equal(t, workflow.StepPending, snap.Steps[1].Status)
	assert.Equal(t, workflow.StepPending, snap.Steps[2].Status)
	assert.Equal(t, workflow.StepPending, snap.Steps[3].Status)
	assert.NotEmpty(t, snap.LastError)
	assert.NotNil(t, snap.EndTime)
}

func TestRun_PauseResume(t *testing.T) {
	started := make(chan string, 10)
	gate := make(chan struct{})

	registry := step.NewRegistry()
	registry.Register("record", func(ctx *step.Context) (any, error) {
		started <- ctx.StepName
		// 第一个步骤在门上等待，给测试发送pause信号的窗口
		if ctx.StepName == "s1" {
			<-gate
		}
		return nil, nil
	}, "")

	item := diamondItem()
	rn := NewRunner(item, executor.NewExecutor(registry), nil, false)

	done := make(chan workflow.ItemStatus, 1)
	go func() { done <- rn.Run(context.Background()) }()

	// 等s1进入执行，再发pause：信号应在s1结束后的边界生效
	require.Equal(t, "s1", <-started)
	rn.Signal(workflow.SignalPause)
	close(gate)

	// 等待进入暂停态
	require.Eventually(t, func() bool {
		return rn.Snapshot().Status == workflow.StatusPaused
	}, 2*time.Second, 10*time.Millisecond, "应进入暂停态")

	// 暂停期间没有新步骤启动
	select {
	case name := <-started:
		t.Fatalf("暂停期间不应启动新步骤，但启动了 %s", name)
	case <-time.After(100 * time.Millisecond):
	}

	rn.Signal(workflow.SignalResume)
	status := <-done
	require.Equal(t, workflow.StatusCompleted, status)

	snap := rn.Snapshot()
	assert.InDelta(t, 100.0, snap.Progress, 0.01)
	// 恢复后剩余3个步骤各执行一次，无重复
	remaining := 0
	for len(started) > 0 {
		<-started
		remaining++
	}
	assert.Equal(t, 3, remaining, "恢复后应恰好执行剩余3个步骤")
}

func TestRun_CancelAtBoundary(t *testing.T) {
	started := make(chan string, 10)
	gate := make(chan struct{})

	registry := step.NewRegistry()
	registry.Register("record", func(ctx *step.Context) (any, error) {
		started <- ctx.StepName
		if ctx.StepName == "s1" {
			<-gate
		}
		return "done", nil
	}, "")

	item := diamondItem()
	rn := NewRunner(item, executor.NewExecutor(registry), nil, false)

	done := make(chan workflow.ItemStatus, 1)
	go func() { done <- rn.Run(context.Background()) }()

	// s1在途时取消：s1应自然跑完，后续步骤不再启动
	require.Equal(t, "s1", <-started)
	rn.Signal(workflow.SignalCancel)
	close(gate)

	status := <-done
	require.Equal(t, workflow.StatusCancelled, status)

	snap := rn.Snapshot()
	assert.Equal(t, workflow.StepCompleted, snap.Steps[0].Status, "在途步骤应自然完成")
	assert.Equal(t, "done", snap.Steps[0].Result)
	for _, s := range snap.Steps[1:] {
		assert.Equal(t, workflow.StepCancelled, s.Status, "未启动步骤应标记为cancelled")
	}
	assert.Empty(t, started, "取消后不应启动新步骤")
}

func TestRun_ContextCancelled(t *testing.T) {
	gate := make(chan struct{})
	registry := step.NewRegistry()
	registry.Register("record", func(ctx *step.Context) (any, error) {
		<-gate
		return nil, nil
	}, "")

	item := diamondItem()
	rn := NewRunner(item, executor.NewExecutor(registry), nil, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan workflow.ItemStatus, 1)
	go func() { done <- rn.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	close(gate)

	status := <-done
	require.Equal(t, workflow.StatusCancelled, status, "引擎关闭应视为取消")

	// 被中断的在途步骤和未启动步骤都标记为cancelled，不产生失败记录
	snap := rn.Snapshot()
	for _, s := range snap.Steps {
		assert.Equal(t, workflow.StepCancelled, s.Status, "步骤 %s 应标记为cancelled", s.Name)
	}
	assert.Empty(t, snap.LastError, "引擎关闭不应留下失败原因")
}

func TestRun_DependencyDeadlockFails(t *testing.T) {
	registry := step.NewRegistry()
	registry.Register("record", func(ctx *step.Context) (any, error) {
		return nil, nil
	}, "")

	// s2依赖在构建后被篡改为不存在的步骤，制造不可满足的依赖
	item := diamondItem()
	item.Steps[1].DependsOn = []string{"ghost"}
	item.Steps[3].DependsOn = []string{"s2", "s3"}

	rn := NewRunner(item, executor.NewExecutor(registry), nil, false)
	status := rn.Run(context.Background())
	require.Equal(t, workflow.StatusFailed, status, "依赖不可满足应整体失败")

	snap := rn.Snapshot()
	assert.Equal(t, workflow.StepCompleted, snap.Steps[0].Status, "无依赖的s1应正常完成")
	assert.Equal(t, workflow.StepCompleted, snap.Steps[2].Status, "仅依赖s1的s3应正常完成")
	assert.Equal(t, workflow.StepPending, snap.Steps[1].Status)
	assert.Equal(t, workflow.StepPending, snap.Steps[3].Status)

	assert.Contains(t, snap.LastError, "依赖无法满足", "失败原因应说明依赖死锁")
	assert.Contains(t, snap.LastError, "s2", "失败原因应列出未就绪步骤")
}

func TestRun_SkipUnreachableCompletes(t *testing.T) {
	registry := step.NewRegistry()
	registry.Register("record", func(ctx *step.Context) (any, error) {
		return nil, nil
	}, "")

	item := diamondItem()
	item.Steps[1].DependsOn = []string{"ghost"}

	rn := NewRunner(item, executor.NewExecutor(registry), nil, true)
	status := rn.Run(context.Background())
	require.Equal(t, workflow.StatusCompleted, status, "skipUnreachable下应完成而非失败")

	snap := rn.Snapshot()
	assert.Equal(t, workflow.StepCompleted, snap.Steps[0].Status)
	assert.Equal(t, workflow.StepCancelled, snap.Steps[1].Status, "不可达步骤应标记为cancelled")
	assert.Equal(t, workflow.StepCompleted, snap.Steps[2].Status)
	assert.Equal(t, workflow.StepCancelled, snap.Steps[3].Status, "依赖不可达步骤的下游也不可达")
	assert.Empty(t, snap.LastError)
}

func TestRun_WeightedProgress(t *testing.T) {
	registry := step.NewRegistry()
	registry.Register("record", func(ctx *step.Context) (any, error) {
		return nil, nil
	}, "")

	def := &workflow.Definition{
		Name: "weighted",
		Steps: []workflow.StepDefinition{
			{ID: "s1", Name: "s1", Type: "record", Weight: 3},
			{ID: "s2", Name: "s2", Type: "record", Weight: 1, DependsOn: []string{"s1"}},
		},
	}
	item := workflow.NewItem("proj1", def, workflow.PriorityNormal)
	rn := NewRunner(item, executor.NewExecutor(registry), nil, false)

	status := rn.Run(context.Background())
	require.Equal(t, workflow.StatusCompleted, status)
	assert.InDelta(t, 100.0, rn.Snapshot().Progress, 0.01)
}
