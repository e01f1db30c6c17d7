package storage

import (
	"context"
	"errors"
	"time"

	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// ErrRecordNotFound 构建记录不存在
var ErrRecordNotFound = errors.New("构建记录不存在")

// BuildRecord 一次构建任务的持久化记录
type BuildRecord struct {
	TaskID         types.TaskID                  `json:"task_id"`
	SetID          string                        `json:"set_id"`
	ConfigID       string                        `json:"config_id"`
	ConfigName     string                        `json:"config_name,omitempty"`
	Status         types.BuildCoordinationStatus `json:"status"`
	ResultStatus   types.CompletionStatus        `json:"result_status,omitempty"`
	Fingerprint    types.Fingerprint             `json:"fingerprint,omitempty"`
	DecisionReason string                        `json:"decision_reason,omitempty"`
	Description    string                        `json:"description,omitempty"`
	ErrorMessage   string                        `json:"error_message,omitempty"`
	Log            string                        `json:"log,omitempty"`
	Attributes     map[string]string             `json:"attributes,omitempty"`
	StartTime      time.Time                     `json:"start_time"`
	EndTime        time.Time                     `json:"end_time"`
	RecordTime     time.Time                     `json:"record_time"`
}

// Succeeded 是否为成功构建（可作为后续增量判断的基准）
func (r *BuildRecord) Succeeded() bool {
	return r.Status == types.StatusDone
}

// NewBuildRecord 由任务快照和构建结果生成记录
// 记录中的指纹优先使用执行器回报的实际构建指纹
// STORING_RESULTS 阶段的快照按入库成功后的终态记录
func NewBuildRecord(snap task.TaskSnapshot, result types.BuildResult) *BuildRecord {
	status := snap.Status
	if status == types.StatusStoringResults {
		status = types.StatusDoneWithErrors
		if result.IsSuccess() {
			status = types.StatusDone
		}
	}
	// 有效指纹包含依赖产物版本，作为下次增量判断的基准
	fp := snap.Decision.Fingerprint
	if fp == "" {
		fp = result.Fingerprint
	}
	if fp == "" {
		fp = snap.Config.Fingerprint
	}
	start, end := result.StartTime, result.EndTime
	if start.IsZero() {
		start = snap.StartTime
	}
	if end.IsZero() {
		end = snap.EndTime
	}
	return &BuildRecord{
		TaskID:         snap.ID,
		SetID:          snap.SetID,
		ConfigID:       snap.Config.ID,
		ConfigName:     snap.Config.Name,
		Status:         status,
		ResultStatus:   result.Status,
		Fingerprint:    fp,
		DecisionReason: string(snap.Decision.Reason),
		Description:    snap.Description,
		ErrorMessage:   result.Error,
		Log:            result.Log,
		Attributes:     result.Attributes,
		StartTime:      start,
		EndTime:        end,
		RecordTime:     time.Now(),
	}
}

// RecordFilter 记录查询条件
type RecordFilter struct {
	SetID    string
	ConfigID string
	Status   types.BuildCoordinationStatus
	Limit    int // <=0 表示默认 100
}

// BuildRecordRepository 构建记录存储（对外导出）
// 同时作为协调器的结果存储和重建策略的指纹来源
type BuildRecordRepository interface {
	// Store 保存（或覆盖）任务的构建记录
	Store(ctx context.Context, snap task.TaskSnapshot, result types.BuildResult) error
	// LastSuccessfulFingerprint 配置最近一次成功构建的指纹
	LastSuccessfulFingerprint(ctx context.Context, configID string) (types.Fingerprint, bool, error)
	// GetRecord 按任务ID查询，不存在返回 ErrRecordNotFound
	GetRecord(ctx context.Context, taskID types.TaskID) (*BuildRecord, error)
	// ListRecords 按条件查询，按任务ID倒序
	ListRecords(ctx context.Context, filter RecordFilter) ([]*BuildRecord, error)
	// MaxTaskID 已记录的最大任务ID（用于重启后继续分配ID）
	MaxTaskID(ctx context.Context) (types.TaskID, error)
	// Close 关闭底层连接
	Close() error
}

// DefaultListLimit 默认查询条数
const DefaultListLimit = 100

// EffectiveLimit 返回有效的查询条数
func (f RecordFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
