// Package task 定义构建任务（BuildTask）与组构建（BuildSetTask）
package task

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// ErrInvalidTransition 非法状态转换
var ErrInvalidTransition = errors.New("非法状态转换")

// BuildTask 一次提交中对单个构建配置的一次构建尝试
// 状态只由协调器在所属组构建的锁内修改；读取通过任务自身的读写锁保护
type BuildTask struct {
	mu sync.RWMutex

	id       types.TaskID
	config   types.BuildConfigRef
	setID    string
	decision rebuild.Decision

	// 构图完成后不再修改
	dependencies []types.TaskID
	dependents   []types.TaskID

	status          types.BuildCoordinationStatus
	description     string
	cancelRequested bool
	result          *types.BuildResult
	createTime      time.Time
	startTime       time.Time
	endTime         time.Time
}

// NewBuildTask 创建 NEW 状态的构建任务
func NewBuildTask(id types.TaskID, config types.BuildConfigRef, decision rebuild.Decision) *BuildTask {
	return &BuildTask{
		id:         id,
		config:     config,
		decision:   decision,
		status:     types.StatusNew,
		createTime: time.Now(),
	}
}

// ID 任务ID
func (t *BuildTask) ID() types.TaskID { return t.id }

// Config 构建配置
func (t *BuildTask) Config() types.BuildConfigRef { return t.config }

// SetID 所属组构建ID
func (t *BuildTask) SetID() string { return t.setID }

// Decision 重建决策
func (t *BuildTask) Decision() rebuild.Decision { return t.decision }

// Reused 无需重建、直接复用上次结果的任务
func (t *BuildTask) Reused() bool { return !t.decision.MustBuild }

// Dependencies 直接依赖的任务ID
func (t *BuildTask) Dependencies() []types.TaskID { return slices.Clone(t.dependencies) }

// Dependents 直接依赖本任务的任务ID
func (t *BuildTask) Dependents() []types.TaskID { return slices.Clone(t.dependents) }

// Status 当前状态
func (t *BuildTask) Status() types.BuildCoordinationStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Description 最近一次状态转换的说明
func (t *BuildTask) Description() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.description
}

// Result 终态构建结果（可能为nil）
func (t *BuildTask) Result() *types.BuildResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// CancelRequested 是否已请求取消
func (t *BuildTask) CancelRequested() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cancelRequested
}

// RequestCancel 标记取消请求，返回是否首次标记
func (t *BuildTask) RequestCancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelRequested {
		return false
	}
	t.cancelRequested = true
	return true
}

// Transition 状态转换，返回转换前的状态
func (t *BuildTask) Transition(to types.BuildCoordinationStatus, reason string) (types.BuildCoordinationStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.status
	if !from.CanTransitionTo(to) {
		return from, fmt.Errorf("%w: TaskID=%s, %s -> %s", ErrInvalidTransition, t.id, from, to)
	}
	t.status = to
	t.description = reason
	now := time.Now()
	if to == types.StatusBuilding {
		t.startTime = now
	}
	if to.IsCompleted() {
		t.endTime = now
	}
	return from, nil
}

// SetResult 记录执行器返回的构建结果
func (t *BuildTask) SetResult(result types.BuildResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := result
	t.result = &r
}

// TaskSnapshot 任务的不可变快照（用于持久化、API和事件）
type TaskSnapshot struct {
	ID              types.TaskID                  `json:"id"`
	SetID           string                        `json:"set_id,omitempty"`
	Config          types.BuildConfigRef          `json:"config"`
	Status          types.BuildCoordinationStatus `json:"status"`
	Description     string                        `json:"description,omitempty"`
	Decision        rebuild.Decision              `json:"decision"`
	Reused          bool                          `json:"reused"`
	Dependencies    []types.TaskID                `json:"dependencies,omitempty"`
	Dependents      []types.TaskID                `json:"dependents,omitempty"`
	CancelRequested bool                          `json:"cancel_requested,omitempty"`
	Result          *types.BuildResult            `json:"result,omitempty"`
	CreateTime      time.Time                     `json:"create_time"`
	StartTime       time.Time                     `json:"start_time"`
	EndTime         time.Time                     `json:"end_time"`
}

// Snapshot 返回当前状态的快照
func (t *BuildTask) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := TaskSnapshot{
		ID:              t.id,
		SetID:           t.setID,
		Config:          t.config,
		Status:          t.status,
		Description:     t.description,
		Decision:        t.decision,
		Reused:          !t.decision.MustBuild,
		Dependencies:    slices.Clone(t.dependencies),
		Dependents:      slices.Clone(t.dependents),
		CancelRequested: t.cancelRequested,
		CreateTime:      t.createTime,
		StartTime:       t.startTime,
		EndTime:         t.endTime,
	}
	if t.result != nil {
		r := *t.result
		s.Result = &r
	}
	return s
}
