package step

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// RegisterDefaults 注册内置步骤回调（对外导出）
// 引擎自带的少量通用步骤类型，装配方可按需调用
func RegisterDefaults(r *Registry) error {
	handlers := []struct {
		name        string
		cb          Callback
		description string
	}{
		{"log", DefaultLog, "记录一条日志并透传参数"},
		{"sleep", DefaultSleep, "休眠指定时长（duration_ms），可被超时/取消中断"},
		{"http_fetch", DefaultHTTPFetch, "抓取URL并按CSS选择器提取文本"},
	}
	for _, h := range handlers {
		if err := r.Register(h.name, h.cb, h.description); err != nil {
			return err
		}
	}
	return nil
}

// DefaultLog 内置日志步骤（对外导出）
func DefaultLog(ctx *Context) (any, error) {
	message := ctx.GetParamString("message")
	log.Printf("📝 [步骤日志] ItemID=%s, Step=%s, 消息=%s", ctx.ItemID, ctx.StepName, message)
	return map[string]any{"message": message}, nil
}

// DefaultSleep 内置休眠步骤（对外导出）
// 配置参数：duration_ms (number, 默认: 100)
func DefaultSleep(ctx *Context) (any, error) {
	durationMS := 100
	switch v := ctx.GetParam("duration_ms").(type) {
	case int:
		durationMS = v
	case float64:
		durationMS = int(v)
	}

	select {
	case <-time.After(time.Duration(durationMS) * time.Millisecond):
		return map[string]any{"slept_ms": durationMS}, nil
	case <-ctx.Context().Done():
		return nil, ctx.Context().Err()
	}
}

// DefaultHTTPFetch 内置HTTP抓取步骤（对外导出）
// 配置参数：
//   - url (string, 必需) - 抓取地址
//   - selector (string, 可选) - CSS选择器，提取匹配元素的文本；为空则返回整页长度
func DefaultHTTPFetch(ctx *Context) (any, error) {
	url := ctx.GetParamString("url")
	if url == "" {
		return nil, fmt.Errorf("缺少必需参数 url")
	}

	req, err := http.NewRequestWithContext(ctx.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("请求返回非预期状态码: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	selector := ctx.GetParamString("selector")
	if selector == "" {
		return map[string]any{"status": resp.StatusCode, "length": len(doc.Text())}, nil
	}

	texts := make([]string, 0)
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			texts = append(texts, text)
		}
	})

	return map[string]any{"status": resp.StatusCode, "matches": texts}, nil
}
