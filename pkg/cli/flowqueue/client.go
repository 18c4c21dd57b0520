// Package flowqueue 提供访问FlowQueue HTTP API的客户端
package flowqueue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/taskdeck/flowqueue/pkg/api/dto"
	"github.com/taskdeck/flowqueue/pkg/core/queue"
	"github.com/taskdeck/flowqueue/pkg/storage"
)

// Client HTTP API客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建Client
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ========== Queue API ==========

// Enqueue 提交Workflow到项目队列
func (c *Client) Enqueue(projectID string, req dto.EnqueueRequest) (*dto.EnqueueResponse, error) {
	var resp dto.APIResponse[dto.EnqueueResponse]
	if err := c.post("/api/v1/projects/"+projectID+"/items", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// QueueStatus 获取项目队列快照
func (c *Client) QueueStatus(projectID string) (*queue.Status, error) {
	var resp dto.APIResponse[queue.Status]
	if err := c.get("/api/v1/projects/"+projectID+"/status", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// Cancel 取消Item
func (c *Client) Cancel(itemID string) error {
	return c.control(itemID, "cancel")
}

// Pause 暂停Item
func (c *Client) Pause(itemID string) error {
	return c.control(itemID, "pause")
}

// Resume 恢复Item
func (c *Client) Resume(itemID string) error {
	return c.control(itemID, "resume")
}

func (c *Client) control(itemID, action string) error {
	var resp dto.APIResponse[any]
	if err := c.post("/api/v1/items/"+itemID+"/"+action, nil, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

// SetPriority 调整排队中Item的优先级
func (c *Client) SetPriority(itemID, priority string) error {
	req := dto.SetPriorityRequest{Priority: priority}
	var resp dto.APIResponse[any]
	if err := c.put("/api/v1/items/"+itemID+"/priority", req, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

// ========== History API ==========

// HistoryQuery 历史查询参数
type HistoryQuery struct {
	ProjectID string
	Type      string
	Status    string
	Search    string
	Offset    int
	Limit     int
}

func (q HistoryQuery) values() url.Values {
	params := url.Values{}
	if q.ProjectID != "" {
		params.Set("project", q.ProjectID)
	}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	if q.Offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", q.Offset))
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	return params
}

// ListHistory 过滤分页查询历史记录
func (c *Client) ListHistory(q HistoryQuery) (*dto.ListResponse[*storage.HistoryRecord], error) {
	path := "/api/v1/history"
	if params := q.values(); len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp dto.APIResponse[dto.ListResponse[*storage.HistoryRecord]]
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// HistoryStats 查询聚合统计
func (c *Client) HistoryStats(q HistoryQuery) (*storage.HistoryStats, error) {
	path := "/api/v1/history/stats"
	if params := q.values(); len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp dto.APIResponse[storage.HistoryStats]
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// ExportHistory 导出历史CSV到writer
func (c *Client) ExportHistory(q HistoryQuery, w io.Writer) error {
	path := "/api/v1/history/export"
	if params := q.values(); len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("导出失败: %s", string(body))
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("写入导出文件失败: %w", err)
	}
	return nil
}

// CleanupHistory 立即执行一次保留期清理
func (c *Client) CleanupHistory(retentionDays int) (int64, error) {
	path := fmt.Sprintf("/api/v1/history?retention_days=%d", retentionDays)

	var resp dto.APIResponse[dto.CleanupResponse]
	if err := c.delete(path, &resp); err != nil {
		return 0, err
	}
	if resp.Code != 0 {
		return 0, fmt.Errorf("%s", resp.Message)
	}
	return resp.Data.Deleted, nil
}

// ========== Health API ==========

// Health 健康检查
func (c *Client) Health() (*dto.HealthResponse, error) {
	var resp dto.APIResponse[dto.HealthResponse]
	if err := c.get("/health", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// ========== HTTP Methods ==========

func (c *Client) get(path string, result interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) post(path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", reqBody)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) put(path string, body interface{}, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequest(http.MethodPut, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) delete(path string, result interface{}) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) parseResponse(resp *http.Response, result interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("解析响应失败: %w, body: %s", err, string(body))
	}

	return nil
}
