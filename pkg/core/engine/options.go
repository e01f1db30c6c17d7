package engine

import (
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// Option 协调器配置选项
type Option func(*coordinatorOptions)

type coordinatorOptions struct {
	dispatchWorkers   int
	dispatchQueueSize int
	retention         int
	onStored          []func(snap task.TaskSnapshot, result types.BuildResult)
}

func defaultCoordinatorOptions() *coordinatorOptions {
	return &coordinatorOptions{
		dispatchWorkers:   4,
		dispatchQueueSize: 1024,
		retention:         256,
	}
}

// WithDispatchWorkers 派发协程数量
func WithDispatchWorkers(n int) Option {
	return func(o *coordinatorOptions) {
		if n > 0 {
			o.dispatchWorkers = n
		}
	}
}

// WithDispatchQueueSize 派发队列长度
func WithDispatchQueueSize(n int) Option {
	return func(o *coordinatorOptions) {
		if n > 0 {
			o.dispatchQueueSize = n
		}
	}
}

// WithRetention 已完成组构建在内存中保留的数量（LRU）
func WithRetention(n int) Option {
	return func(o *coordinatorOptions) {
		if n > 0 {
			o.retention = n
		}
	}
}

// WithOnStored 构建结果成功入库后的回调（如失效指纹缓存）
func WithOnStored(fn func(snap task.TaskSnapshot, result types.BuildResult)) Option {
	return func(o *coordinatorOptions) {
		if fn != nil {
			o.onStored = append(o.onStored, fn)
		}
	}
}
