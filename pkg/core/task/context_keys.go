package task

import (
	"context"

	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// context key类型，用于类型安全的context.Value访问
type contextKey string

const (
	// TaskIDKey 构建任务ID在context中的key
	TaskIDKey contextKey = "build.task.id"
	// SetIDKey 组构建ID在context中的key
	SetIDKey contextKey = "build.set.id"
	// ConfigIDKey 构建配置ID在context中的key
	ConfigIDKey contextKey = "build.config.id"
)

// WithTaskID 将任务ID添加到context中
func WithTaskID(ctx context.Context, id types.TaskID) context.Context {
	return context.WithValue(ctx, TaskIDKey, id)
}

// TaskIDFrom 从context中获取任务ID
func TaskIDFrom(ctx context.Context) (types.TaskID, bool) {
	id, ok := ctx.Value(TaskIDKey).(types.TaskID)
	return id, ok
}

// WithSetID 将组构建ID添加到context中
func WithSetID(ctx context.Context, setID string) context.Context {
	return context.WithValue(ctx, SetIDKey, setID)
}

// SetIDFrom 从context中获取组构建ID
func SetIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(SetIDKey).(string); ok {
		return id
	}
	return ""
}

// WithConfigID 将构建配置ID添加到context中
func WithConfigID(ctx context.Context, configID string) context.Context {
	return context.WithValue(ctx, ConfigIDKey, configID)
}

// ConfigIDFrom 从context中获取构建配置ID
func ConfigIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ConfigIDKey).(string); ok {
		return id
	}
	return ""
}

// WithBuildTask 一次性写入任务的全部标识
func WithBuildTask(ctx context.Context, t *BuildTask) context.Context {
	ctx = WithTaskID(ctx, t.ID())
	ctx = WithSetID(ctx, t.SetID())
	return WithConfigID(ctx, t.Config().ID)
}
