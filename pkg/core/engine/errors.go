package engine

import "errors"

var (
	// ErrCoordinatorClosed 协调器已关闭
	ErrCoordinatorClosed = errors.New("协调器已关闭")
	// ErrSetNotFound 组构建不存在
	ErrSetNotFound = errors.New("组构建不存在")
	// ErrSetCompleted 组构建已完成
	ErrSetCompleted = errors.New("组构建已完成")
	// ErrSetAlreadySubmitted 组构建已提交
	ErrSetAlreadySubmitted = errors.New("组构建已提交")
	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = errors.New("构建任务不存在")
	// ErrTaskCompleted 任务已进入终态（重复回调会得到该错误，且不会再次推进状态）
	ErrTaskCompleted = errors.New("构建任务已完成")
	// ErrUnexpectedCompletion 任务不在 BUILDING 状态时收到完成回调
	ErrUnexpectedCompletion = errors.New("任务不在构建中")
	// ErrNotCancellable 构建已结束、正在存储结果，无法取消
	ErrNotCancellable = errors.New("构建任务当前状态不可取消")
)
