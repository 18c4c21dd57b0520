package queue

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/flowqueue/pkg/core/step"
	"github.com/taskdeck/flowqueue/pkg/core/workflow"
	"github.com/taskdeck/flowqueue/pkg/storage"
)

// fakeHistory 内存版历史存储，用于断言Record调用
type fakeHistory struct {
	mu      sync.Mutex
	records map[string]*storage.HistoryRecord
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{records: make(map[string]*storage.HistoryRecord)}
}

func (f *fakeHistory) Record(ctx context.Context, rec *storage.HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// 幂等：已存在即忽略
	if _, exists := f.records[rec.ID]; !exists {
		f.records[rec.ID] = rec
	}
	return nil
}

func (f *fakeHistory) Query(ctx context.Context, filter storage.Filter, p storage.Page) ([]*storage.HistoryRecord, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*storage.HistoryRecord, 0, len(f.records))
	for _, rec := range f.records {
		if filter.ProjectID != "" && rec.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.After(out[j].EndTime) })
	return out, int64(len(out)), nil
}

func (f *fakeHistory) Stats(ctx context.Context, filter storage.Filter) (*storage.HistoryStats, error) {
	return &storage.HistoryStats{}, nil
}

func (f *fakeHistory) ExportCSV(ctx context.Context, filter storage.Filter, w io.Writer) error {
	return nil
}

func (f *fakeHistory) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	return 0, nil
}

func (f *fakeHistory) Close() error { return nil }

func (f *fakeHistory) get(id string) *storage.HistoryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

// testEnv 测试装配：gate回调阻塞占住槽位，record回调记录执行顺序
type testEnv struct {
	manager *Manager
	history *fakeHistory
	gate    chan struct{}
	mu      sync.Mutex
	order   []string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	env := &testEnv{
		history: newFakeHistory(),
		gate:    make(chan struct{}),
	}

	registry := step.NewRegistry()
	require.NoError(t, registry.Register("gate", func(ctx *step.Context) (any, error) {
		<-env.gate
		return nil, nil
	}, ""))
	require.NoError(t, registry.Register("record", func(ctx *step.Context) (any, error) {
		env.mu.Lock()
		env.order = append(env.order, ctx.GetParamString("tag"))
		env.mu.Unlock()
		return nil, nil
	}, ""))
	require.NoError(t, registry.Register("boom", func(ctx *step.Context) (any, error) {
		panic("测试panic")
	}, ""))

	env.manager = NewManager(registry, nil, env.history, opts)
	return env
}

func (env *testEnv) executionOrder() []string {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]string(nil), env.order...)
}

func gateDef() *workflow.Definition {
	return &workflow.Definition{
		Name:  "blocker",
		Steps: []workflow.StepDefinition{{ID: "g1", Name: "g1", Type: "gate"}},
	}
}

func recordDef(tag string) *workflow.Definition {
	return &workflow.Definition{
		Name: "record-" + tag,
		Steps: []workflow.StepDefinition{
			{ID: "r1", Name: "r1", Type: "record", Params: map[string]any{"tag": tag}},
		},
	}
}

func waitCounters(t *testing.T, m *Manager, projectID string, check func(Counters) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return check(m.GetStatus(projectID).Counters)
	}, 5*time.Second, 10*time.Millisecond, "等待队列计数超时")
}

func TestEnqueue_PriorityOrdering(t *testing.T) {
	env := newTestEnv(t, Options{SlotsPerProject: 1, BackoffBase: time.Millisecond})
	defer env.manager.Stop()

	// 先占住唯一槽位
	_, err := env.manager.Enqueue("proj1", gateDef(), workflow.PriorityNormal)
	require.NoError(t, err)

	// 阻塞期间按 low/high/normal 顺序入队
	_, err = env.manager.Enqueue("proj1", recordDef("A"), workflow.PriorityLow)
	require.NoError(t, err)
	_, err = env.manager.Enqueue("proj1", recordDef("B"), workflow.PriorityHigh)
	require.NoError(t, err)
	_, err = env.manager.Enqueue("proj1", recordDef("C"), workflow.PriorityNormal)
	require.NoError(t, err)

	status := env.manager.GetStatus("proj1")
	require.Len(t, status.Queued, 3)
	assert.Equal(t, "record-B", status.Queued[0].Name, "高优先级应排在队首")

	close(env.gate)
	waitCounters(t, env.manager, "proj1", func(c Counters) bool { return c.Completed == 4 })

	// 调度顺序：high -> normal -> low
	assert.Equal(t, []string{"B", "C", "A"}, env.executionOrder())
}

func TestEnqueue_SamePriorityFIFO(t *testing.T) {
	env := newTestEnv(t, Options{SlotsPerProject: 1})
	defer env.manager.Stop()

	_, err := env.manager.Enqueue("proj1", gateDef(), workflow.PriorityNormal)
	require.NoError(t, err)

	for _, tag := range []string{"1", "2", "3"} {
		_, err := env.manager.Enqueue("proj1", recordDef(tag), workflow.PriorityNormal)
		require.NoError(t, err)
	}

	close(env.gate)
	waitCounters(t, env.manager, "proj1", func(c Counters) bool { return c.Completed == 4 })
	assert.Equal(t, []string{"1", "2", "3"}, env.executionOrder(), "同优先级应FIFO")
}

func TestEnqueue_Validation(t *testing.T) {
	env := newTestEnv(t, Options{})
	defer env.manager.Stop()

	var invalidErr *workflow.InvalidWorkflowError

	// 空项目ID
	_, err := env.manager.Enqueue("", recordDef("x"), workflow.PriorityNormal)
	require.True(t, errors.As(err, &invalidErr))

	// 非法优先级
	_, err = env.manager.Enqueue("proj1", recordDef("x"), workflow.Priority("urgent"))
	require.True(t, errors.As(err, &invalidErr))

	// 循环依赖
	cyclic := &workflow.Definition{
		Steps: []workflow.StepDefinition{
			{ID: "a", Name: "a", Type: "record", DependsOn: []string{"b"}},
			{ID: "b", Name: "b", Type: "record", DependsOn: []string{"a"}},
		},
	}
	_, err = env.manager.Enqueue("proj1", cyclic, workflow.PriorityNormal)
	require.True(t, errors.As(err, &invalidErr))

	// 未注册的步骤类型
	unknown := &workflow.Definition{
		Steps: []workflow.StepDefinition{{ID: "u", Name: "u", Type: "no-such-type"}},
	}
	_, err = env.manager.Enqueue("proj1", unknown, workflow.PriorityNormal)
	require.True(t, errors.As(err, &invalidErr))

	// 校验失败不入队
	status := env.manager.GetStatus("proj1")
	assert.Zero(t, status.Counters.Queued+status.Counters.Active)
}

func TestCancel_QueuedItem(t *testing.T) {
	env := newTestEnv(t, Options{SlotsPerProject: 1})
	defer env.manager.Stop()

	_, err := env.manager.Enqueue("proj1", gateDef(), workflow.PriorityNormal)
	require.NoError(t, err)
	itemID, err := env.manager.Enqueue("proj1", recordDef("x"), workflow.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, env.manager.Cancel(itemID))

	status := env.manager.GetStatus("proj1")
	assert.Empty(t, status.Queued, "取消后不应留在队列中")
	assert.Equal(t, 1, status.Counters.Cancelled)

	// 排队中取消同样写入历史
	rec := env.history.get(itemID)
	require.NotNil(t, rec, "取消的Item应写入历史")
	assert.Equal(t, string(workflow.StatusCancelled), rec.Status)

	// 重复取消返回NotFound
	var notFound *workflow.NotFoundError
	assert.True(t, errors.As(env.manager.Cancel(itemID), &notFound))

	close(env.gate)
	waitCounters(t, env.manager, "proj1", func(c Counters) bool { return c.Completed == 1 })
	assert.Empty(t, env.executionOrder(), "被取消的Item不应执行")
}

func TestSetPriority(t *testing.T) {
	env := newTestEnv(t, Options{SlotsPerProject: 1})
	defer env.manager.Stop()

	blockerID, err := env.manager.Enqueue("proj1", gateDef(), workflow.PriorityNormal)
	require.NoError(t, err)
	lowID, err := env.manager.Enqueue("proj1", recordDef("low"), workflow.PriorityLow)
	require.NoError(t, err)
	_, err = env.manager.Enqueue("proj1", recordDef("mid"), workflow.PriorityNormal)
	require.NoError(t, err)

	// 排队中可调整，调整后重新排序
	require.NoError(t, env.manager.SetPriority(lowID, workflow.PriorityHigh))
	status := env.manager.GetStatus("proj1")
	require.Len(t, status.Queued, 2)
	assert.Equal(t, "record-low", status.Queued[0].Name)

	// 运行中不可调整
	err = env.manager.SetPriority(blockerID, workflow.PriorityHigh)
	assert.Error(t, err)

	// 非法优先级
	assert.Error(t, env.manager.SetPriority(lowID, workflow.Priority("bad")))

	close(env.gate)
	waitCounters(t, env.manager, "proj1", func(c Counters) bool { return c.Completed == 3 })
	assert.Equal(t, []string{"low", "mid"}, env.executionOrder())
}

func TestPause_OnlyActiveItems(t *testing.T) {
	env := newTestEnv(t, Options{SlotsPerProject: 1})
	defer env.manager.Stop()

	_, err := env.manager.Enqueue("proj1", gateDef(), workflow.PriorityNormal)
	require.NoError(t, err)
	queuedID, err := env.manager.Enqueue("proj1", recordDef("x"), workflow.PriorityNormal)
	require.NoError(t, err)

	// 排队中的Item不能暂停
	assert.Error(t, env.manager.Pause(queuedID))

	// 未知ID返回NotFound
	var notFound *workflow.NotFoundError
	assert.True(t, errors.As(env.manager.Pause("ghost"), &notFound))

	close(env.gate)
	waitCounters(t, env.manager, "proj1", func(c Counters) bool { return c.Completed == 2 })
}

func TestRunnerPanicIsolation(t *testing.T) {
	env := newTestEnv(t, Options{SlotsPerProject: 1, BackoffBase: time.Millisecond})
	defer env.manager.Stop()

	boom := &workflow.Definition{
		Name:  "boom",
		Steps: []workflow.StepDefinition{{ID: "b1", Name: "b1", Type: "boom"}},
	}
	boomID, err := env.manager.Enqueue("proj1", boom, workflow.PriorityNormal)
	require.NoError(t, err)

	// panic的Item标记为failed，队列继续调度后续Item
	_, err = env.manager.Enqueue("proj1", recordDef("after"), workflow.PriorityNormal)
	require.NoError(t, err)

	waitCounters(t, env.manager, "proj1", func(c Counters) bool {
		return c.Failed == 1 && c.Completed == 1
	})

	rec := env.history.get(boomID)
	require.NotNil(t, rec)
	assert.Equal(t, string(workflow.StatusFailed), rec.Status)
	assert.Equal(t, []string{"after"}, env.executionOrder())
}

func TestConcurrencySlots(t *testing.T) {
	env := newTestEnv(t, Options{SlotsPerProject: 2})
	defer env.manager.Stop()

	// 两个gate同时运行占满2个槽位，第三个排队
	for i := 0; i < 3; i++ {
		_, err := env.manager.Enqueue("proj1", gateDef(), workflow.PriorityNormal)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		c := env.manager.GetStatus("proj1").Counters
		return c.Active == 2 && c.Queued == 1
	}, 2*time.Second, 10*time.Millisecond, "应恰好2个活跃1个排队")

	close(env.gate)
	waitCounters(t, env.manager, "proj1", func(c Counters) bool { return c.Completed == 3 })
}

func TestProjectIsolation(t *testing.T) {
	env := newTestEnv(t, Options{SlotsPerProject: 1})
	defer env.manager.Stop()

	// proj1被gate占住，不影响proj2的调度
	_, err := env.manager.Enqueue("proj1", gateDef(), workflow.PriorityNormal)
	require.NoError(t, err)
	_, err = env.manager.Enqueue("proj2", recordDef("p2"), workflow.PriorityNormal)
	require.NoError(t, err)

	waitCounters(t, env.manager, "proj2", func(c Counters) bool { return c.Completed == 1 })
	assert.Equal(t, []string{"p2"}, env.executionOrder())

	close(env.gate)
	waitCounters(t, env.manager, "proj1", func(c Counters) bool { return c.Completed == 1 })
}

func TestHistoryRecordedOnCompletion(t *testing.T) {
	env := newTestEnv(t, Options{})
	defer env.manager.Stop()

	itemID, err := env.manager.Enqueue("proj1", recordDef("x"), workflow.PriorityHigh)
	require.NoError(t, err)

	waitCounters(t, env.manager, "proj1", func(c Counters) bool { return c.Completed == 1 })

	rec := env.history.get(itemID)
	require.NotNil(t, rec, "完成的Item应写入历史")
	assert.Equal(t, string(workflow.StatusCompleted), rec.Status)
	assert.Equal(t, "proj1", rec.ProjectID)
	assert.Equal(t, string(workflow.PriorityHigh), rec.Priority)
	require.Len(t, rec.Steps, 1)
	assert.Equal(t, string(workflow.StepCompleted), rec.Steps[0].Status)
	assert.GreaterOrEqual(t, rec.DurationMS, int64(0))
}

func TestStatusIncludesCompletedSnapshots(t *testing.T) {
	env := newTestEnv(t, Options{})
	defer env.manager.Stop()

	itemID, err := env.manager.Enqueue("proj1", recordDef("a"), workflow.PriorityNormal)
	require.NoError(t, err)
	waitCounters(t, env.manager, "proj1", func(c Counters) bool { return c.Completed == 1 })

	status := env.manager.GetStatus("proj1")
	require.Len(t, status.Completed, 1, "队列快照应包含最近终态记录")
	assert.Equal(t, itemID, status.Completed[0].ID)
	assert.Equal(t, string(workflow.StatusCompleted), status.Completed[0].Status)

	// 其他项目的快照看不到该记录
	assert.Empty(t, env.manager.GetStatus("proj2").Completed)
}

func TestStop_GracefulShutdown(t *testing.T) {
	env := newTestEnv(t, Options{SlotsPerProject: 1})

	_, err := env.manager.Enqueue("proj1", recordDef("x"), workflow.PriorityNormal)
	require.NoError(t, err)

	waitCounters(t, env.manager, "proj1", func(c Counters) bool { return c.Completed == 1 })
	env.manager.Stop()

	// 关闭后新Item不再被调度（入队成功但不启动）
	_, err = env.manager.Enqueue("proj1", recordDef("y"), workflow.PriorityNormal)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, func() []string {
		order := env.executionOrder()
		if len(order) > 1 {
			return order[1:]
		}
		return nil
	}(), "关闭后不应执行新Item")
}
