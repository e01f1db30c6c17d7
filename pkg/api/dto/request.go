package dto

import (
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// SubmitBuildSetRequest 提交配置集请求
// Content 为配置集 YAML（与 CLI 使用的文件格式相同），与 Configs 二选一
type SubmitBuildSetRequest struct {
	Name     string                 `json:"name"`
	RecordID string                 `json:"record_id"`
	Mode     string                 `json:"mode"`
	Cause    string                 `json:"cause"`
	Configs  []types.BuildConfigRef `json:"configs"`
	Content  string                 `json:"content"`
}

// SubmitTaskRequest 提交独立构建任务请求
type SubmitTaskRequest struct {
	Config types.BuildConfigRef `json:"config"`
	Mode   string               `json:"mode"`
	Cause  string               `json:"cause"`
}

// RecordQueryRequest 构建记录查询请求
type RecordQueryRequest struct {
	ConfigID string `form:"config_id" binding:"omitempty"`
	Status   string `form:"status" binding:"omitempty"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ListQueryRequest 通用列表查询请求
type ListQueryRequest struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
	Status string `form:"status" binding:"omitempty"`
}

// GetDefaultLimit 获取默认limit
func (r *ListQueryRequest) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}
