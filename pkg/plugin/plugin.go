// Package plugin 构建事件插件：组构建或任务进入关注的状态时触发（邮件、Webhook）
package plugin

import (
	"fmt"
	"time"

	"github.com/LENAX/build-coordinator/pkg/core/notify"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// Plugin 插件基础接口（对外导出）
type Plugin interface {
	// Name 插件名称（对外导出）
	Name() string
	// Init 初始化插件（对外导出）
	Init(params map[string]string) error
	// Execute 执行插件逻辑（对外导出）
	Execute(data PluginData) error
}

// TriggerEvent 插件触发事件类型（对外导出）
type TriggerEvent string

const (
	// 组构建事件
	EventSetDone     TriggerEvent = "set.done"     // 组构建全部成功
	EventSetFailed   TriggerEvent = "set.failed"   // 组构建完成但存在失败任务
	EventSetRejected TriggerEvent = "set.rejected" // 组构建被拒绝

	// 任务事件
	EventTaskStarted   TriggerEvent = "task.started"   // 任务开始构建
	EventTaskDone      TriggerEvent = "task.done"      // 任务成功（含复用）
	EventTaskFailed    TriggerEvent = "task.failed"    // 任务失败（构建失败、系统错误、依赖失败）
	EventTaskCancelled TriggerEvent = "task.cancelled" // 任务被取消
)

// KnownEvents 所有可绑定的事件
var KnownEvents = []TriggerEvent{
	EventSetDone, EventSetFailed, EventSetRejected,
	EventTaskStarted, EventTaskDone, EventTaskFailed, EventTaskCancelled,
}

// ParseTriggerEvent 解析事件名
func ParseTriggerEvent(s string) (TriggerEvent, error) {
	for _, e := range KnownEvents {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("未知的插件事件: %s", s)
}

// PluginData 传递给插件的数据（对外导出）
type PluginData struct {
	Event     TriggerEvent `json:"event"`
	SetID     string       `json:"set_id,omitempty"`
	TaskID    types.TaskID `json:"task_id,omitempty"`
	ConfigID  string       `json:"config_id,omitempty"`
	OldStatus string       `json:"old_status"`
	Status    string       `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventFor 状态变更对应的插件事件，不关注的转换返回 false
func EventFor(ev notify.StatusChangedEvent) (TriggerEvent, bool) {
	switch ev.Kind {
	case notify.KindSet:
		switch types.BuildSetStatus(ev.NewStatus) {
		case types.SetStatusDone:
			return EventSetDone, true
		case types.SetStatusDoneWithErrors:
			return EventSetFailed, true
		case types.SetStatusRejected:
			return EventSetRejected, true
		}
	case notify.KindTask:
		switch types.BuildCoordinationStatus(ev.NewStatus) {
		case types.StatusBuilding:
			return EventTaskStarted, true
		case types.StatusDone:
			return EventTaskDone, true
		case types.StatusCancelled:
			return EventTaskCancelled, true
		case types.StatusDoneWithErrors, types.StatusSystemError, types.StatusRejected:
			return EventTaskFailed, true
		}
	}
	return "", false
}

// NewPluginData 由状态变更事件生成插件数据
func NewPluginData(event TriggerEvent, ev notify.StatusChangedEvent) PluginData {
	return PluginData{
		Event:     event,
		SetID:     ev.SetID,
		TaskID:    ev.TaskID,
		ConfigID:  ev.ConfigID,
		OldStatus: ev.OldStatus,
		Status:    ev.NewStatus,
		Reason:    ev.Reason,
		Timestamp: ev.Timestamp,
	}
}

// NewByName 按名称创建内置插件
func NewByName(name string) (Plugin, error) {
	switch name {
	case "email":
		return NewEmailPlugin(), nil
	case "webhook":
		return NewWebhookPlugin(), nil
	default:
		return nil, fmt.Errorf("未知的插件: %s", name)
	}
}
