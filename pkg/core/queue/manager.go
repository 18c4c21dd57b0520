// Package queue 提供按项目划分的Workflow队列：优先级排序、并发槽位、
// 调度循环与队列级控制操作
package queue

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/taskdeck/flowqueue/pkg/core/dag"
	"github.com/taskdeck/flowqueue/pkg/core/executor"
	"github.com/taskdeck/flowqueue/pkg/core/progress"
	"github.com/taskdeck/flowqueue/pkg/core/runner"
	"github.com/taskdeck/flowqueue/pkg/core/step"
	"github.com/taskdeck/flowqueue/pkg/core/workflow"
	"github.com/taskdeck/flowqueue/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

// Options QueueManager配置（对外导出）
type Options struct {
	SlotsPerProject int           // 每个项目的并发槽位数，默认1
	SkipUnreachable bool          // 依赖不可达时跳过剩余步骤而非失败
	BackoffBase     time.Duration // 重试退避基准（测试用）
}

// Counters 项目级聚合计数（对外导出）
type Counters struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Status 项目队列快照（对外导出）
// Completed为该项目最近终态记录的一页（按完成时间倒序），完整历史走history接口
type Status struct {
	ProjectID string                   `json:"project_id"`
	Active    []*workflow.Item         `json:"active"`
	Queued    []*workflow.Item         `json:"queued"`
	Completed []*storage.HistoryRecord `json:"completed"`
	Counters  Counters                 `json:"counters"`
}

// projectQueue 单个项目的队列状态（内部结构）
type projectQueue struct {
	queued   []*workflow.Item          // 按优先级+入队时间排序
	active   map[string]*runner.Runner // itemID -> Runner
	counters Counters
}

// itemRef Item在Manager中的索引（内部结构）
type itemRef struct {
	item      *workflow.Item
	projectID string
}

// Manager 队列管理器（对外导出）
// 独占管理Item的队列态字段（Status/Priority/队列位置），项目锁内修改；
// 运行态字段在dispatch后交由Runner独占
type Manager struct {
	mu       sync.Mutex
	projects map[string]*projectQueue
	items    map[string]*itemRef

	registry    *step.Registry
	exec        *executor.Executor
	broadcaster *progress.Broadcaster
	history     storage.HistoryRepository

	slots           int
	skipUnreachable bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager 创建队列管理器（对外导出）
// registry为显式注入的步骤注册中心（不使用全局单例）
func NewManager(registry *step.Registry, broadcaster *progress.Broadcaster, history storage.HistoryRepository, opts Options) *Manager {
	if opts.SlotsPerProject <= 0 {
		opts.SlotsPerProject = 1
	}

	execOpts := make([]executor.Option, 0, 1)
	if opts.BackoffBase > 0 {
		execOpts = append(execOpts, executor.WithBackoffBase(opts.BackoffBase))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		projects:        make(map[string]*projectQueue),
		items:           make(map[string]*itemRef),
		registry:        registry,
		exec:            executor.NewExecutor(registry, execOpts...),
		broadcaster:     broadcaster,
		history:         history,
		slots:           opts.SlotsPerProject,
		skipUnreachable: opts.SkipUnreachable,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Enqueue 提交Workflow到项目队列（对外导出）
// 校验失败返回 *workflow.InvalidWorkflowError，不入队；
// 成功返回新Item的ID，并在有空闲槽位时立即调度
func (m *Manager) Enqueue(projectID string, def *workflow.Definition, priority workflow.Priority) (string, error) {
	if projectID == "" {
		return "", &workflow.InvalidWorkflowError{Reason: "项目ID不能为空"}
	}
	if !priority.Valid() {
		return "", &workflow.InvalidWorkflowError{Reason: fmt.Sprintf("非法优先级: %s", priority)}
	}

	// 构建依赖图：空步骤、重复ID、悬空依赖、循环依赖都在这里被拒绝
	if _, err := dag.Build(def); err != nil {
		return "", err
	}

	// 步骤类型必须已注册，提交阶段即拒绝
	for _, sd := range def.Steps {
		if _, ok := m.registry.Get(sd.Type); !ok {
			return "", &workflow.InvalidWorkflowError{
				Reason: fmt.Sprintf("步骤 %s 的类型 %s 未注册", sd.Name, sd.Type),
			}
		}
	}

	item := workflow.NewItem(projectID, def, priority)

	m.mu.Lock()
	defer m.mu.Unlock()

	pq := m.projectLocked(projectID)
	pq.queued = append(pq.queued, item)
	m.sortQueueLocked(pq)
	m.items[item.ID] = &itemRef{item: item, projectID: projectID}

	log.Printf("📥 [入队] ItemID=%s, Project=%s, 优先级=%s, 队列长度=%d",
		item.ID, projectID, priority, len(pq.queued))

	m.dispatchLocked(pq)
	return item.ID, nil
}

// Cancel 取消Item（对外导出）
// queued: 直接出队并终态化；running/paused: 向Runner发送取消信号，
// 在途步骤自然结束后生效；终态或未知ID返回 *workflow.NotFoundError
func (m *Manager) Cancel(itemID string) error {
	m.mu.Lock()
	ref, exists := m.items[itemID]
	if !exists {
		m.mu.Unlock()
		return &workflow.NotFoundError{ItemID: itemID}
	}

	pq := m.projectLocked(ref.projectID)
	if rn, active := pq.active[itemID]; active {
		m.mu.Unlock()
		rn.Signal(workflow.SignalCancel)
		return nil
	}

	// 排队中：直接终态化
	m.removeQueuedLocked(pq, itemID)
	item := ref.item
	item.Status = workflow.StatusCancelled
	now := time.Now()
	item.EndTime = &now
	for _, s := range item.Steps {
		s.Status = workflow.StepCancelled
	}
	pq.counters.Cancelled++
	delete(m.items, itemID)
	m.mu.Unlock()

	m.emit(progress.NewEvent(progress.EventWorkflowCancelled, item))
	m.recordHistory(item)
	log.Printf("🛑 [排队取消] ItemID=%s", itemID)
	return nil
}

// Pause 暂停运行中的Item（对外导出）
// 在当前在途步骤结束后的边界生效
func (m *Manager) Pause(itemID string) error {
	return m.signalActive(itemID, workflow.SignalPause)
}

// Resume 恢复已暂停的Item（对外导出）
func (m *Manager) Resume(itemID string) error {
	return m.signalActive(itemID, workflow.SignalResume)
}

// signalActive 向活跃Runner发送控制信号
func (m *Manager) signalActive(itemID string, sig workflow.ControlSignal) error {
	m.mu.Lock()
	ref, exists := m.items[itemID]
	if !exists {
		m.mu.Unlock()
		return &workflow.NotFoundError{ItemID: itemID}
	}
	pq := m.projectLocked(ref.projectID)
	rn, active := pq.active[itemID]
	m.mu.Unlock()

	if !active {
		return fmt.Errorf("Item %s 未在运行中，无法%s", itemID, sig)
	}
	rn.Signal(sig)
	return nil
}

// SetPriority 调整排队中Item的优先级（对外导出）
// 仅在queued状态有效，调整后重新排序
func (m *Manager) SetPriority(itemID string, priority workflow.Priority) error {
	if !priority.Valid() {
		return fmt.Errorf("非法优先级: %s", priority)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref, exists := m.items[itemID]
	if !exists {
		return &workflow.NotFoundError{ItemID: itemID}
	}
	pq := m.projectLocked(ref.projectID)
	if _, active := pq.active[itemID]; active {
		return fmt.Errorf("Item %s 已在运行中，无法调整优先级", itemID)
	}

	ref.item.Priority = priority
	m.sortQueueLocked(pq)
	return nil
}

// GetStatus 获取项目队列快照（对外导出）
// 活跃Item取Runner的一致性快照，排队Item在锁内复制
func (m *Manager) GetStatus(projectID string) *Status {
	m.mu.Lock()
	pq := m.projectLocked(projectID)

	queued := make([]*workflow.Item, 0, len(pq.queued))
	for _, item := range pq.queued {
		clone := *item
		queued = append(queued, &clone)
	}

	runners := make([]*runner.Runner, 0, len(pq.active))
	for _, rn := range pq.active {
		runners = append(runners, rn)
	}
	counters := pq.counters
	counters.Queued = len(pq.queued)
	counters.Active = len(pq.active)
	m.mu.Unlock()

	active := make([]*workflow.Item, 0, len(runners))
	for _, rn := range runners {
		active = append(active, rn.Snapshot())
	}

	// 最近终态记录（锁外查询，失败只记日志，不影响队列快照）
	var completed []*storage.HistoryRecord
	if m.history != nil {
		recs, _, err := m.history.Query(context.Background(),
			storage.Filter{ProjectID: projectID}, storage.Page{Limit: storage.DefaultPageSize})
		if err != nil {
			log.Printf("警告: 查询项目历史失败: Project=%s, 错误=%v", projectID, err)
		} else {
			completed = recs
		}
	}

	return &Status{
		ProjectID: projectID,
		Active:    active,
		Queued:    queued,
		Completed: completed,
		Counters:  counters,
	}
}

// Stop 优雅关闭（对外导出）
// 取消context通知所有Runner在步骤边界退出，等待收尾（最多30秒）
func (m *Manager) Stop() {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("✅ 队列管理器已关闭")
	case <-time.After(shutdownTimeout):
		log.Printf("警告: 队列管理器关闭超时，仍有Runner未退出")
	}
}

// ========== 内部调度逻辑 ==========

// projectLocked 获取或创建项目队列（须持有m.mu）
func (m *Manager) projectLocked(projectID string) *projectQueue {
	pq, exists := m.projects[projectID]
	if !exists {
		pq = &projectQueue{active: make(map[string]*runner.Runner)}
		m.projects[projectID] = pq
	}
	return pq
}

// sortQueueLocked 按优先级+入队时间排序（须持有m.mu）
func (m *Manager) sortQueueLocked(pq *projectQueue) {
	sort.SliceStable(pq.queued, func(i, j int) bool {
		a, b := pq.queued[i], pq.queued[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		return a.EnqueueTime.Before(b.EnqueueTime)
	})
}

// removeQueuedLocked 从排队列表中移除（须持有m.mu）
func (m *Manager) removeQueuedLocked(pq *projectQueue, itemID string) {
	for i, item := range pq.queued {
		if item.ID == itemID {
			pq.queued = append(pq.queued[:i], pq.queued[i+1:]...)
			return
		}
	}
}

// dispatchLocked 调度循环：有空闲槽位且队列非空时弹出最优Item启动Runner（须持有m.mu）
func (m *Manager) dispatchLocked(pq *projectQueue) {
	for len(pq.active) < m.slots && len(pq.queued) > 0 {
		if m.ctx.Err() != nil {
			return
		}

		item := pq.queued[0]
		pq.queued = pq.queued[1:]

		rn := runner.NewRunner(item, m.exec, m.broadcaster, m.skipUnreachable)
		pq.active[item.ID] = rn

		m.wg.Add(1)
		go m.runItem(pq, item, rn)
	}
}

// runItem 在独立goroutine中运行一个Item直到终态
// Runner的非步骤异常被隔离：该Item标记failed，队列继续运转
func (m *Manager) runItem(pq *projectQueue, item *workflow.Item, rn *runner.Runner) {
	defer m.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("❌ [Runner内部错误] ItemID=%s, panic=%v", item.ID, rec)
			now := time.Now()
			item.Status = workflow.StatusFailed
			item.LastError = fmt.Sprintf("Runner内部错误: %v", rec)
			item.EndTime = &now
			m.emit(progress.NewEvent(progress.EventWorkflowFailed, item).WithError(item.LastError))
			m.finalize(pq, item)
		}
	}()

	status := rn.Run(m.ctx)
	log.Printf("🏁 [Workflow终态] ItemID=%s, 状态=%s", item.ID, status)
	m.finalize(pq, item)
}

// finalize 终态收尾：更新计数、写入历史、释放槽位并重新调度
func (m *Manager) finalize(pq *projectQueue, item *workflow.Item) {
	m.mu.Lock()
	delete(pq.active, item.ID)
	delete(m.items, item.ID)
	switch item.Status {
	case workflow.StatusCompleted:
		pq.counters.Completed++
	case workflow.StatusFailed:
		pq.counters.Failed++
	case workflow.StatusCancelled:
		pq.counters.Cancelled++
	}
	m.dispatchLocked(pq)
	m.mu.Unlock()

	m.recordHistory(item)
}

// recordHistory 将终态Item写入历史存储（幂等，失败只记日志）
func (m *Manager) recordHistory(item *workflow.Item) {
	if m.history == nil {
		return
	}
	rec := storage.FromItem(item)
	if err := m.history.Record(context.Background(), rec); err != nil {
		log.Printf("警告: 写入历史记录失败: ItemID=%s, 错误=%v", item.ID, err)
	}
}

// emit 发布队列级事件
func (m *Manager) emit(event *progress.Event) {
	if m.broadcaster == nil {
		return
	}
	if err := m.broadcaster.Publish(event); err != nil {
		log.Printf("警告: 发布进度事件失败: %v", err)
	}
}
