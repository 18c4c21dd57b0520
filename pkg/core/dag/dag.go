// Package dag 提供Workflow步骤依赖图的构建、循环检测与拓扑排序
package dag

import (
	"fmt"

	godag "github.com/begmaroman/go-dag"

	"github.com/taskdeck/flowqueue/pkg/core/workflow"
)

// stepVertex go-dag节点包装（实现 Identifiable 接口）
type stepVertex struct {
	def *workflow.StepDefinition
}

// ID 实现 Identifiable 接口
func (v *stepVertex) ID() string {
	return v.def.ID
}

// Graph 步骤依赖图（对外导出）
type Graph struct {
	dag   *godag.DAG[*stepVertex]
	steps map[string]*workflow.StepDefinition
}

// TopologicalOrder 拓扑排序结果（对外导出）
// 每一层的Step ID互不依赖
type TopologicalOrder struct {
	Levels [][]string
}

// Build 从Workflow定义构建依赖图（对外导出）
// 校验：步骤非空、ID唯一、依赖引用存在、无循环依赖
// 任一校验失败返回 *workflow.InvalidWorkflowError
func Build(def *workflow.Definition) (*Graph, error) {
	if def == nil || len(def.Steps) == 0 {
		return nil, &workflow.InvalidWorkflowError{Reason: "步骤列表为空"}
	}

	steps := make(map[string]*workflow.StepDefinition, len(def.Steps))
	for i := range def.Steps {
		sd := &def.Steps[i]
		if sd.ID == "" {
			return nil, &workflow.InvalidWorkflowError{Reason: fmt.Sprintf("步骤 %s 缺少ID", sd.Name)}
		}
		if _, exists := steps[sd.ID]; exists {
			return nil, &workflow.InvalidWorkflowError{Reason: fmt.Sprintf("步骤ID %s 重复", sd.ID)}
		}
		steps[sd.ID] = sd
	}

	// 1. 构建临时邻接表（前置Step -> 后置Step），同时校验依赖引用
	graph := make(map[string][]string, len(steps))
	for id := range steps {
		graph[id] = make([]string, 0)
	}
	for id, sd := range steps {
		for _, depID := range sd.DependsOn {
			if _, exists := steps[depID]; !exists {
				return nil, &workflow.InvalidWorkflowError{
					Reason: fmt.Sprintf("步骤 %s 依赖了不存在的步骤 %s", id, depID),
				}
			}
			graph[depID] = append(graph[depID], id)
		}
	}

	// 2. 一次性检测循环（三色标记DFS），避免逐边添加时的重复检查
	if hasCycle, cyclePath := detectCycleDFS(graph); hasCycle {
		return nil, &workflow.InvalidWorkflowError{
			Reason: fmt.Sprintf("检测到循环依赖: %v", cyclePath),
		}
	}

	// 3. 构建 go-dag 实例（已确认无环，AddEdge不会失败）
	d := godag.NewDAG[*stepVertex]()
	for _, sd := range steps {
		if _, err := d.AddVertex(&stepVertex{def: sd}); err != nil {
			return nil, &workflow.InvalidWorkflowError{Reason: fmt.Sprintf("添加节点失败: %v", err)}
		}
	}
	for id, sd := range steps {
		for _, depID := range sd.DependsOn {
			if err := d.AddEdge(depID, id); err != nil {
				return nil, &workflow.InvalidWorkflowError{
					Reason: fmt.Sprintf("添加边失败: %s -> %s: %v", depID, id, err),
				}
			}
		}
	}

	return &Graph{dag: d, steps: steps}, nil
}

// detectCycleDFS 使用DFS检测图中是否存在循环
// 三色标记法：0=白色（未访问），1=灰色（正在访问），2=黑色（已访问）
func detectCycleDFS(graph map[string][]string) (bool, []string) {
	color := make(map[string]int, len(graph))
	parent := make(map[string]string, len(graph))
	cyclePath := make([]string, 0)

	var dfs func(nodeID string) bool
	dfs = func(nodeID string) bool {
		color[nodeID] = 1
		for _, childID := range graph[nodeID] {
			if color[childID] == 0 {
				parent[childID] = nodeID
				if dfs(childID) {
					return true
				}
			} else if color[childID] == 1 {
				// 灰色节点，存在后向边
				cyclePath = append(cyclePath, childID)
				cur := nodeID
				for cur != childID && cur != "" {
					cyclePath = append(cyclePath, cur)
					cur = parent[cur]
				}
				cyclePath = append(cyclePath, childID)
				return true
			}
		}
		color[nodeID] = 2
		return false
	}

	for nodeID := range graph {
		if color[nodeID] == 0 {
			if dfs(nodeID) {
				return true, cyclePath
			}
		}
	}
	return false, nil
}

// TopologicalSort 执行拓扑排序（对外导出）
// Kahn算法，按层返回；同层步骤互不依赖
func (g *Graph) TopologicalSort() (*TopologicalOrder, error) {
	inDegree := make(map[string]int, len(g.steps))
	for id := range g.steps {
		parents, err := g.dag.GetParents(id)
		if err != nil {
			return nil, fmt.Errorf("获取父节点失败: %w", err)
		}
		inDegree[id] = len(parents)
	}

	queue := make([]string, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	result := &TopologicalOrder{Levels: make([][]string, 0)}
	processed := 0
	for len(queue) > 0 {
		currentLevel := make([]string, 0, len(queue))
		nextQueue := make([]string, 0)
		for _, nodeID := range queue {
			currentLevel = append(currentLevel, nodeID)
			processed++
			children, _ := g.dag.GetChildren(nodeID)
			for childID := range children {
				inDegree[childID]--
				if inDegree[childID] == 0 {
					nextQueue = append(nextQueue, childID)
				}
			}
		}
		result.Levels = append(result.Levels, currentLevel)
		queue = nextQueue
	}

	if processed != len(g.steps) {
		return nil, fmt.Errorf("拓扑排序失败：存在未处理的节点（可能存在环）")
	}
	return result, nil
}

// Parents 获取指定步骤的前置步骤ID列表（对外导出）
func (g *Graph) Parents(stepID string) ([]string, error) {
	parents, err := g.dag.GetParents(stepID)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(parents))
	for id := range parents {
		result = append(result, id)
	}
	return result, nil
}

// Roots 获取所有无依赖的根步骤ID（对外导出）
func (g *Graph) Roots() []string {
	roots := g.dag.GetRoots()
	result := make([]string, 0, len(roots))
	for id := range roots {
		result = append(result, id)
	}
	return result
}

// Size 返回步骤数量
func (g *Graph) Size() int {
	return len(g.steps)
}
