// Package executor 定义构建执行器接口，并提供本地进程内的执行器实现
package executor

import (
	"context"

	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// BuildRequest 派发给执行器的构建请求
type BuildRequest struct {
	TaskID   types.TaskID
	SetID    string
	Config   types.BuildConfigRef
	Decision rebuild.Decision
}

// CompletionHandler 执行器的完成回调（由协调器实现）
// 对不同任务ID可以并发调用
type CompletionHandler interface {
	OnExternalCompletion(ctx context.Context, taskID types.TaskID, result types.BuildResult) error
	OnExternalFailure(ctx context.Context, taskID types.TaskID, err error) error
}

// BuildExecutor 外部构建执行器
// StartBuild 返回 false 或错误表示未接受该构建；接受后必须通过 CompletionHandler 回报恰好一次结果
// Cancel 为协作式取消，执行器确认后以 CANCELLED 结果回报
type BuildExecutor interface {
	StartBuild(ctx context.Context, req BuildRequest) (bool, error)
	Cancel(ctx context.Context, taskID types.TaskID) error
}
