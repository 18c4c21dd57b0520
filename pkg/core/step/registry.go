// Package step 提供步骤回调契约与注册中心
// 回调是外部注册的不透明执行单元，引擎只通过类型名称查找并调用它
package step

import (
	"context"
	"fmt"
	"sync"
)

// Context 步骤执行上下文（对外导出）
// 携带取消/超时信号与步骤的只读元信息，传递给回调
type Context struct {
	ctx       context.Context
	ItemID    string
	ProjectID string
	StepID    string
	StepName  string
	Attempt   int // 第几次尝试（0为首次执行）
	Params    map[string]any
}

// NewContext 创建步骤执行上下文（对外导出）
func NewContext(ctx context.Context, itemID, projectID, stepID, stepName string, attempt int, params map[string]any) *Context {
	return &Context{
		ctx:       ctx,
		ItemID:    itemID,
		ProjectID: projectID,
		StepID:    stepID,
		StepName:  stepName,
		Attempt:   attempt,
		Params:    params,
	}
}

// Context 返回底层context.Context
func (c *Context) Context() context.Context {
	return c.ctx
}

// GetParam 获取参数
func (c *Context) GetParam(key string) any {
	if c.Params == nil {
		return nil
	}
	return c.Params[key]
}

// GetParamString 获取字符串参数（非字符串或不存在时返回空串）
func (c *Context) GetParamString(key string) string {
	if v, ok := c.GetParam(key).(string); ok {
		return v
	}
	return ""
}

// Callback 步骤回调函数类型（对外导出）
// 要求对重试幂等；返回的result会记录到Step快照中
type Callback func(ctx *Context) (result any, err error)

// Registry 步骤回调注册中心（对外导出）
// 显式对象，由装配方创建并注入QueueManager/Runner，不使用全局单例
type Registry struct {
	mu           sync.RWMutex
	callbacks    map[string]Callback
	descriptions map[string]string
}

// NewRegistry 创建注册中心（对外导出）
func NewRegistry() *Registry {
	return &Registry{
		callbacks:    make(map[string]Callback),
		descriptions: make(map[string]string),
	}
}

// Register 注册步骤回调（对外导出）
// name: 步骤类型名称（唯一标识）
func (r *Registry) Register(name string, cb Callback, description string) error {
	if name == "" {
		return fmt.Errorf("步骤类型名称不能为空")
	}
	if cb == nil {
		return fmt.Errorf("回调函数不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callbacks[name]; exists {
		return fmt.Errorf("步骤类型 %s 已注册", name)
	}
	r.callbacks[name] = cb
	r.descriptions[name] = description
	return nil
}

// Get 根据类型名称获取回调（对外导出）
func (r *Registry) Get(name string) (Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[name]
	return cb, ok
}

// Names 列出所有已注册的步骤类型（对外导出）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.callbacks))
	for name := range r.callbacks {
		names = append(names, name)
	}
	return names
}

// Description 获取步骤类型描述
func (r *Registry) Description(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.descriptions[name]
}
