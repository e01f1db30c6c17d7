package task

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/build-coordinator/pkg/core/dag"
	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// SetOptions 组构建的描述信息
type SetOptions struct {
	Name       string
	RecordID   string // 外部配置集记录的关联ID
	Mode       rebuild.Mode
	Cause      string // 触发原因（manual/cron/api/...）
	Standalone bool   // 独立提交的单个任务，不对外列出也不发布组事件
}

// BuildSetTask 一次提交产生的一组构建任务（组构建）
// mu 为提交级别的锁：该组内所有任务的状态变更与就绪计算都在此锁内完成
type BuildSetTask struct {
	mu sync.Mutex

	id         string
	opts       SetOptions
	graph      *dag.Graph[types.TaskID, *BuildTask]
	createTime time.Time

	stateMu      sync.RWMutex
	rejected     bool
	rejectReason string
	finishTime   time.Time
}

// NewBuildSetTask 创建空的组构建
func NewBuildSetTask(opts SetOptions) *BuildSetTask {
	return &BuildSetTask{
		id:         uuid.NewString(),
		opts:       opts,
		graph:      dag.NewGraph[types.TaskID, *BuildTask](),
		createTime: time.Now(),
	}
}

// NewRejectedSet 创建一个已被拒绝、没有任何成员的组构建（配置错误时使用）
func NewRejectedSet(opts SetOptions, reason string) *BuildSetTask {
	s := NewBuildSetTask(opts)
	s.rejected = true
	s.rejectReason = reason
	s.finishTime = s.createTime
	return s
}

// ID 组构建ID
func (s *BuildSetTask) ID() string { return s.id }

// Name 名称
func (s *BuildSetTask) Name() string { return s.opts.Name }

// RecordID 外部记录关联ID
func (s *BuildSetTask) RecordID() string { return s.opts.RecordID }

// Mode 提交级别的重建模式
func (s *BuildSetTask) Mode() rebuild.Mode { return s.opts.Mode }

// Cause 触发原因
func (s *BuildSetTask) Cause() string { return s.opts.Cause }

// Standalone 是否为独立任务的隐式组
func (s *BuildSetTask) Standalone() bool { return s.opts.Standalone }

// CreateTime 创建时间
func (s *BuildSetTask) CreateTime() time.Time { return s.createTime }

// Lock 获取提交级别的锁
func (s *BuildSetTask) Lock() { s.mu.Lock() }

// Unlock 释放提交级别的锁
func (s *BuildSetTask) Unlock() { s.mu.Unlock() }

// AddTask 加入任务（仅在构图阶段调用）
func (s *BuildSetTask) AddTask(t *BuildTask) {
	t.setID = s.id
	s.graph.AddNode(t.id, t)
}

// AddDependency 记录 from 依赖 to（仅在构图阶段调用）
func (s *BuildSetTask) AddDependency(from, to types.TaskID) error {
	before := s.graph.EdgeCount()
	if err := s.graph.AddEdge(from, to); err != nil {
		return err
	}
	if s.graph.EdgeCount() == before {
		return nil
	}
	fromTask, _ := s.graph.Get(from)
	toTask, _ := s.graph.Get(to)
	fromTask.dependencies = append(fromTask.dependencies, to)
	toTask.dependents = append(toTask.dependents, from)
	return nil
}

// Graph 依赖图（构图完成后只读）
func (s *BuildSetTask) Graph() *dag.Graph[types.TaskID, *BuildTask] { return s.graph }

// Len 成员数量
func (s *BuildSetTask) Len() int { return s.graph.Len() }

// Task 按ID获取成员
func (s *BuildSetTask) Task(id types.TaskID) (*BuildTask, bool) {
	return s.graph.Get(id)
}

// Tasks 按加入顺序返回所有成员
func (s *BuildSetTask) Tasks() []*BuildTask {
	ids := s.graph.Nodes()
	out := make([]*BuildTask, 0, len(ids))
	for _, id := range ids {
		t, _ := s.graph.Get(id)
		out = append(out, t)
	}
	return out
}

// TaskByConfig 按配置ID查找成员
func (s *BuildSetTask) TaskByConfig(configID string) (*BuildTask, bool) {
	for _, t := range s.Tasks() {
		if t.config.ID == configID {
			return t, true
		}
	}
	return nil, false
}

// IsReady 任务处于 WAITING_FOR_DEPENDENCIES 且所有依赖均为 DONE
func (s *BuildSetTask) IsReady(t *BuildTask) bool {
	if t.Status() != types.StatusWaitingForDependencies {
		return false
	}
	for _, depID := range t.dependencies {
		dep, ok := s.graph.Get(depID)
		if !ok || dep.Status() != types.StatusDone {
			return false
		}
	}
	return true
}

// FailedDependency 返回第一个已失败的终态依赖
func (s *BuildSetTask) FailedDependency(t *BuildTask) (*BuildTask, bool) {
	for _, depID := range t.dependencies {
		dep, ok := s.graph.Get(depID)
		if !ok {
			continue
		}
		st := dep.Status()
		if st.IsCompleted() && st.HasFailed() {
			return dep, true
		}
	}
	return nil, false
}

// VisitDependents 遍历传递依赖本任务的所有任务
func (s *BuildSetTask) VisitDependents(id types.TaskID, visit func(*BuildTask) bool) error {
	return s.graph.VisitAncestors(id, func(_ types.TaskID, t *BuildTask) bool {
		return visit(t)
	})
}

// RejectReason 拒绝原因
func (s *BuildSetTask) RejectReason() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.rejectReason
}

// Status 由成员状态推导的组状态，每次调用都重新计算
func (s *BuildSetTask) Status() types.BuildSetStatus {
	s.stateMu.RLock()
	rejected := s.rejected
	s.stateMu.RUnlock()
	if rejected {
		return types.SetStatusRejected
	}
	tasks := s.Tasks()
	statuses := make([]types.BuildCoordinationStatus, 0, len(tasks))
	for _, t := range tasks {
		statuses = append(statuses, t.Status())
	}
	return types.DeriveSetStatus(statuses)
}

// MarkFinished 记录组完成时间
func (s *BuildSetTask) MarkFinished() {
	s.stateMu.Lock()
	if s.finishTime.IsZero() {
		s.finishTime = time.Now()
	}
	s.stateMu.Unlock()
}

// FinishTime 完成时间（未完成为零值）
func (s *BuildSetTask) FinishTime() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.finishTime
}

// Progress 成员进度统计
func (s *BuildSetTask) Progress() types.ProgressSnapshot {
	p := types.ProgressSnapshot{
		RunningTaskIDs: make([]types.TaskID, 0),
		PendingTaskIDs: make([]types.TaskID, 0),
	}
	for _, t := range s.Tasks() {
		p.Total++
		st := t.Status()
		switch {
		case st == types.StatusDone:
			p.Completed++
			if t.Reused() {
				p.Reused++
			}
		case st.IsCompleted():
			p.Failed++
		case st == types.StatusNew || st == types.StatusWaitingForDependencies:
			p.Pending++
			p.PendingTaskIDs = append(p.PendingTaskIDs, t.id)
		default:
			p.Running++
			p.RunningTaskIDs = append(p.RunningTaskIDs, t.id)
		}
	}
	return p
}

// SetSnapshot 组构建的不可变快照
type SetSnapshot struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name,omitempty"`
	RecordID     string                 `json:"record_id,omitempty"`
	Mode         rebuild.Mode           `json:"mode"`
	Cause        string                 `json:"cause,omitempty"`
	Standalone   bool                   `json:"standalone,omitempty"`
	Status       types.BuildSetStatus   `json:"status"`
	RejectReason string                 `json:"reject_reason,omitempty"`
	Progress     types.ProgressSnapshot `json:"progress"`
	Tasks        []TaskSnapshot         `json:"tasks"`
	CreateTime   time.Time              `json:"create_time"`
	FinishTime   time.Time              `json:"finish_time"`
}

// Snapshot 返回当前状态的快照
func (s *BuildSetTask) Snapshot() SetSnapshot {
	s.stateMu.RLock()
	rejectReason, finishTime := s.rejectReason, s.finishTime
	s.stateMu.RUnlock()

	tasks := s.Tasks()
	snaps := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		snaps = append(snaps, t.Snapshot())
	}
	return SetSnapshot{
		ID:           s.id,
		Name:         s.opts.Name,
		RecordID:     s.opts.RecordID,
		Mode:         s.opts.Mode,
		Cause:        s.opts.Cause,
		Standalone:   s.opts.Standalone,
		Status:       s.Status(),
		RejectReason: rejectReason,
		Progress:     s.Progress(),
		Tasks:        snaps,
		CreateTime:   s.createTime,
		FinishTime:   finishTime,
	}
}
