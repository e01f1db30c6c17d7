package task

import (
	"sync/atomic"

	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// IDSupplier 任务ID分配器，必须在并发提交之间保证唯一且单调
type IDSupplier interface {
	Next() types.TaskID
}

// SequenceIDSupplier 基于原子计数器的ID分配器
type SequenceIDSupplier struct {
	last atomic.Int64
}

// NewSequenceIDSupplier 创建分配器，第一个ID为 start+1
func NewSequenceIDSupplier(start int64) *SequenceIDSupplier {
	s := &SequenceIDSupplier{}
	s.last.Store(start)
	return s
}

// Next 分配下一个ID
func (s *SequenceIDSupplier) Next() types.TaskID {
	return types.TaskID(s.last.Add(1))
}

// Seed 保证后续分配的ID大于 min（进程重启后从已持久化的最大ID继续）
func (s *SequenceIDSupplier) Seed(min int64) {
	for {
		cur := s.last.Load()
		if cur >= min || s.last.CompareAndSwap(cur, min) {
			return
		}
	}
}
