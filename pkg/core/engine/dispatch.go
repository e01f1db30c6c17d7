package engine

import (
	"context"
	"log"
	"time"

	"github.com/LENAX/build-coordinator/pkg/core/executor"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// dispatchItem 等待交给执行器的任务
type dispatchItem struct {
	set  *task.BuildSetTask
	task *task.BuildTask
}

// enqueue 放入派发队列（持有组锁时调用，不阻塞）
func (c *Coordinator) enqueue(item dispatchItem) {
	select {
	case c.dispatchQ <- item:
	default:
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			select {
			case c.dispatchQ <- item:
			case <-c.shutdown:
			}
		}()
	}
}

// dispatchLoop 派发协程
func (c *Coordinator) dispatchLoop() {
	defer c.workers.Done()
	for {
		select {
		case item := <-c.dispatchQ:
			if c.closed.Load() {
				// 关闭后不再派发，未派发的任务由 Shutdown 统一标记
				return
			}
			c.dispatch(item)
		case <-c.shutdown:
			return
		}
	}
}

// abandonPending 关闭时将尚未派发的任务标记为 SYSTEM_ERROR，使组构建进入终态
// 已交给执行器的任务不受影响，其结果仍可回报
func (c *Coordinator) abandonPending() int {
	for drained := false; !drained; {
		select {
		case <-c.dispatchQ:
		default:
			drained = true
		}
	}

	c.mu.RLock()
	sets := make([]*task.BuildSetTask, 0, len(c.sets))
	for _, set := range c.sets {
		sets = append(sets, set)
	}
	c.mu.RUnlock()

	const reason = "协调器已关闭"
	ctx := context.Background()
	abandoned := 0
	for _, set := range sets {
		set.Lock()
		for _, bt := range set.Tasks() {
			switch bt.Status() {
			case types.StatusNew, types.StatusWaitingForDependencies, types.StatusEnqueued:
			default:
				continue
			}
			if c.transition(set, bt, types.StatusSystemError, reason) {
				abandoned++
				c.storeBestEffort(ctx, bt, types.BuildResult{Status: types.CompletionSystemError, Error: reason, EndTime: time.Now()})
			}
		}
		c.checkSetCompletion(set)
		set.Unlock()
	}
	return abandoned
}

// dispatch ENQUEUED -> BUILDING，然后在组锁外交给执行器
func (c *Coordinator) dispatch(item dispatchItem) {
	set, bt := item.set, item.task
	ctx := task.WithBuildTask(context.Background(), bt)

	set.Lock()
	if bt.Status() != types.StatusEnqueued {
		// 入队后已被取消或拒绝
		set.Unlock()
		return
	}
	if !c.transition(set, bt, types.StatusBuilding, "已派发到执行器") {
		set.Unlock()
		return
	}
	req := executor.BuildRequest{
		TaskID:   bt.ID(),
		SetID:    set.ID(),
		Config:   bt.Config(),
		Decision: bt.Decision(),
	}
	set.Unlock()

	accepted, err := c.exec.StartBuild(ctx, req)
	if err == nil && accepted {
		if bt.CancelRequested() {
			if err := c.exec.Cancel(ctx, bt.ID()); err != nil {
				log.Printf("⚠️ 派发后补发取消失败: TaskID=%s, Error=%v", bt.ID(), err)
			}
		}
		return
	}

	reason := "执行器拒绝构建"
	if err != nil {
		reason = "执行器拒绝构建: " + err.Error()
	}
	log.Printf("❌ %s: TaskID=%s", reason, bt.ID())

	set.Lock()
	defer set.Unlock()
	if bt.Status() != types.StatusBuilding {
		return
	}
	c.transition(set, bt, types.StatusSystemError, reason)
	c.storeBestEffort(ctx, bt, types.BuildResult{Status: types.CompletionSystemError, Error: reason})
	c.afterTerminal(ctx, set, bt)
}
