package dto

import (
	"time"

	"github.com/LENAX/build-coordinator/pkg/core/notify"
)

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

// BuildSetSummary 组构建摘要信息
type BuildSetSummary struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	RecordID     string       `json:"record_id,omitempty"`
	Mode         string       `json:"mode"`
	Cause        string       `json:"cause,omitempty"`
	Status       string       `json:"status"`
	RejectReason string       `json:"reject_reason,omitempty"`
	Progress     ProgressInfo `json:"progress"`
	CreatedAt    time.Time    `json:"created_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	Duration     string       `json:"duration,omitempty"`
}

// BuildSetDetail 组构建详细信息
type BuildSetDetail struct {
	BuildSetSummary
	Tasks []TaskDetail `json:"tasks"`
}

// ProgressInfo 进度信息
type ProgressInfo struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Reused         int     `json:"reused"`
	Running        int     `json:"running"`
	Failed         int     `json:"failed"`
	Pending        int     `json:"pending"`
	Percent        int     `json:"percent"`
	RunningTaskIDs []int64 `json:"running_task_ids,omitempty"`
	PendingTaskIDs []int64 `json:"pending_task_ids,omitempty"`
}

// TaskDetail 构建任务详细信息
type TaskDetail struct {
	ID              int64             `json:"id"`
	SetID           string            `json:"set_id"`
	ConfigID        string            `json:"config_id"`
	ConfigName      string            `json:"config_name,omitempty"`
	Fingerprint     string            `json:"fingerprint,omitempty"`
	Status          string            `json:"status"`
	Reused          bool              `json:"reused"`
	DecisionReason  string            `json:"decision_reason"`
	Dependencies    []int64           `json:"dependencies,omitempty"`
	Description     string            `json:"description,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	ResultStatus    string            `json:"result_status,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	Duration        string            `json:"duration,omitempty"`
}

// BuildRecordItem 已入库的构建记录
type BuildRecordItem struct {
	TaskID         int64             `json:"task_id"`
	SetID          string            `json:"set_id"`
	ConfigID       string            `json:"config_id"`
	ConfigName     string            `json:"config_name,omitempty"`
	Status         string            `json:"status"`
	ResultStatus   string            `json:"result_status,omitempty"`
	Fingerprint    string            `json:"fingerprint,omitempty"`
	DecisionReason string            `json:"decision_reason,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Log            string            `json:"log,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	Duration       string            `json:"duration,omitempty"`
	RecordedAt     time.Time         `json:"recorded_at"`
}

// SubmitResponse 提交响应
type SubmitResponse struct {
	SetID   string `json:"set_id,omitempty"`
	TaskID  int64  `json:"task_id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total   int  `json:"total"`
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

// StreamMessage 事件推送消息（WebSocket）
// Type: snapshot 当前快照 / event 状态变更 / closed 组构建已结束 / error 推送异常
type StreamMessage struct {
	Type    string                     `json:"type"`
	Event   *notify.StatusChangedEvent `json:"event,omitempty"`
	Set     *BuildSetDetail            `json:"set,omitempty"`
	Message string                     `json:"message,omitempty"`
}
