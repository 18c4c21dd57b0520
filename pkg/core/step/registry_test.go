package step

import (
	"context"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	err := r.Register("echo", func(ctx *Context) (any, error) {
		return ctx.GetParamString("msg"), nil
	}, "回显参数")
	if err != nil {
		t.Fatalf("注册失败: %v", err)
	}

	// 重复注册被拒绝
	if err := r.Register("echo", func(ctx *Context) (any, error) { return nil, nil }, ""); err == nil {
		t.Fatal("重复注册应返回错误")
	}

	// 空名称/空回调被拒绝
	if err := r.Register("", func(ctx *Context) (any, error) { return nil, nil }, ""); err == nil {
		t.Fatal("空名称应返回错误")
	}
	if err := r.Register("nilcb", nil, ""); err == nil {
		t.Fatal("空回调应返回错误")
	}

	cb, ok := r.Get("echo")
	if !ok {
		t.Fatal("已注册类型应能查到")
	}
	if _, ok := r.Get("ghost"); ok {
		t.Fatal("未注册类型不应查到")
	}

	stepCtx := NewContext(context.Background(), "item1", "proj1", "s1", "s1", 0, map[string]any{"msg": "hello"})
	result, err := cb(stepCtx)
	if err != nil {
		t.Fatalf("回调执行失败: %v", err)
	}
	if result != "hello" {
		t.Errorf("结果错误，期望: hello, 实际: %v", result)
	}

	if r.Description("echo") != "回显参数" {
		t.Errorf("描述错误: %s", r.Description("echo"))
	}
	if len(r.Names()) != 1 {
		t.Errorf("类型数量错误: %v", r.Names())
	}
}

func TestRegisterDefaults(t *testing.T) {
	r := NewRegistry()
	if err := RegisterDefaults(r); err != nil {
		t.Fatalf("注册内置步骤失败: %v", err)
	}

	for _, name := range []string{"log", "sleep", "http_fetch"} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("内置步骤 %s 未注册", name)
		}
	}
}
