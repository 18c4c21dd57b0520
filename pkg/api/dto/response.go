package dto

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// EnqueueResponse 提交响应
type EnqueueResponse struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total   int64 `json:"total"`
	Items   []T   `json:"items"`
	HasMore bool  `json:"has_more"`
}

// CleanupResponse 历史清理响应
type CleanupResponse struct {
	Deleted int64 `json:"deleted"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}
