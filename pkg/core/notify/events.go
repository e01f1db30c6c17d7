// Package notify 提供状态变更事件的发布与订阅（NotificationHub）
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// EventKind 事件主体类型
type EventKind string

const (
	// KindTask 构建任务状态变更
	KindTask EventKind = "task"
	// KindSet 组构建状态变更
	KindSet EventKind = "set"
)

// StatusChangedEvent 状态变更事件，每次状态转换恰好产生一个
type StatusChangedEvent struct {
	ID        string       `json:"id"`  // 事件ID（UUID）
	Seq       uint64       `json:"seq"` // 发布时分配的全局序号
	Kind      EventKind    `json:"kind"`
	TaskID    types.TaskID `json:"task_id,omitempty"`
	SetID     string       `json:"set_id,omitempty"`
	ConfigID  string       `json:"config_id,omitempty"`
	OldStatus string       `json:"old_status"`
	NewStatus string       `json:"new_status"`
	Reason    string       `json:"reason,omitempty"`
	Terminal  bool         `json:"terminal"` // 主体进入终态，订阅随后自动移除
	Timestamp time.Time    `json:"timestamp"`
}

// NewTaskEvent 创建任务状态变更事件
func NewTaskEvent(taskID types.TaskID, setID, configID string, from, to types.BuildCoordinationStatus, reason string) *StatusChangedEvent {
	return &StatusChangedEvent{
		ID:        uuid.NewString(),
		Kind:      KindTask,
		TaskID:    taskID,
		SetID:     setID,
		ConfigID:  configID,
		OldStatus: string(from),
		NewStatus: string(to),
		Reason:    reason,
		Terminal:  to.IsCompleted(),
		Timestamp: time.Now(),
	}
}

// NewSetEvent 创建组构建状态变更事件
func NewSetEvent(setID string, from, to types.BuildSetStatus, reason string) *StatusChangedEvent {
	return &StatusChangedEvent{
		ID:        uuid.NewString(),
		Kind:      KindSet,
		SetID:     setID,
		OldStatus: string(from),
		NewStatus: string(to),
		Reason:    reason,
		Terminal:  to.IsCompleted(),
		Timestamp: time.Now(),
	}
}

// Subject 事件主体
func (e *StatusChangedEvent) Subject() Subject {
	if e.Kind == KindSet {
		return SetSubject(e.SetID)
	}
	return TaskSubject(e.TaskID)
}

// Subject 订阅主体（任务或组构建）
type Subject struct {
	Kind EventKind
	ID   string
}

// TaskSubject 任务主体
func TaskSubject(id types.TaskID) Subject {
	return Subject{Kind: KindTask, ID: id.String()}
}

// SetSubject 组构建主体
func SetSubject(setID string) Subject {
	return Subject{Kind: KindSet, ID: setID}
}

func (s Subject) String() string {
	return string(s.Kind) + ":" + s.ID
}
