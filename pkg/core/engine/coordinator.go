package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/LENAX/build-coordinator/pkg/core/executor"
	"github.com/LENAX/build-coordinator/pkg/core/notify"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// ResultStore 构建结果持久化
type ResultStore interface {
	Store(ctx context.Context, snap task.TaskSnapshot, result types.BuildResult) error
}

// Publisher 状态变更事件发布者
type Publisher interface {
	Publish(event *notify.StatusChangedEvent) error
}

// Coordinator 推送式构建协调器
// 同一组构建内的状态变更在组锁内串行完成；派发与结果存储在组锁外执行
type Coordinator struct {
	exec  executor.BuildExecutor
	store ResultStore
	hub   Publisher
	opts  *coordinatorOptions

	mu       sync.RWMutex
	sets     map[string]*task.BuildSetTask       // 进行中的组构建
	tasks    map[types.TaskID]*task.BuildSetTask // 进行中的任务 -> 所属组
	done     map[string]chan struct{}
	finished *lru.Cache[string, *task.BuildSetTask]
	taskSets *lru.Cache[types.TaskID, string]

	dispatchQ chan dispatchItem
	closed    atomic.Bool
	shutdown  chan struct{}
	workers   sync.WaitGroup
	bg        sync.WaitGroup
}

// NewCoordinator 创建协调器并启动派发协程
func NewCoordinator(exec executor.BuildExecutor, store ResultStore, hub Publisher, opts ...Option) (*Coordinator, error) {
	if exec == nil {
		return nil, errors.New("执行器不能为空")
	}
	if store == nil {
		return nil, errors.New("结果存储不能为空")
	}
	o := defaultCoordinatorOptions()
	for _, opt := range opts {
		opt(o)
	}
	finished, err := lru.New[string, *task.BuildSetTask](o.retention)
	if err != nil {
		return nil, fmt.Errorf("创建已完成组构建缓存失败: %w", err)
	}
	taskSets, err := lru.New[types.TaskID, string](o.retention * 64)
	if err != nil {
		return nil, fmt.Errorf("创建任务索引缓存失败: %w", err)
	}

	c := &Coordinator{
		exec:      exec,
		store:     store,
		hub:       hub,
		opts:      o,
		sets:      make(map[string]*task.BuildSetTask),
		tasks:     make(map[types.TaskID]*task.BuildSetTask),
		done:      make(map[string]chan struct{}),
		finished:  finished,
		taskSets:  taskSets,
		dispatchQ: make(chan dispatchItem, o.dispatchQueueSize),
		shutdown:  make(chan struct{}),
	}
	for i := 0; i < o.dispatchWorkers; i++ {
		c.workers.Add(1)
		go c.dispatchLoop()
	}
	log.Printf("✅ 构建协调器已启动: DispatchWorkers=%d, QueueSize=%d, Retention=%d",
		o.dispatchWorkers, o.dispatchQueueSize, o.retention)
	return c, nil
}

// Submit 提交组构建，立即返回
// 非复用任务 NEW -> WAITING_FOR_DEPENDENCIES，已就绪的任务进入派发队列
func (c *Coordinator) Submit(ctx context.Context, set *task.BuildSetTask) error {
	if set == nil {
		return errors.New("组构建不能为空")
	}
	if c.closed.Load() {
		return ErrCoordinatorClosed
	}

	if set.Status() == types.SetStatusRejected {
		c.retain(set)
		if !set.Standalone() {
			c.publish(notify.NewSetEvent(set.ID(), types.SetStatusNew, types.SetStatusRejected, set.RejectReason()))
		}
		log.Printf("❌ 组构建被拒绝: SetID=%s, Name=%s, Reason=%s", set.ID(), set.Name(), set.RejectReason())
		return nil
	}

	if err := c.register(set); err != nil {
		return err
	}

	set.Lock()
	defer set.Unlock()

	tasks := set.Tasks()
	for _, bt := range tasks {
		switch bt.Status() {
		case types.StatusNew:
			c.transition(set, bt, types.StatusWaitingForDependencies, "等待依赖完成")
		case types.StatusDone:
			// 复用任务在构建阶段已短路为 DONE，这里补发其状态事件
			c.publish(notify.NewTaskEvent(bt.ID(), set.ID(), bt.Config().ID, types.StatusNew, types.StatusDone, bt.Description()))
		}
	}
	for _, bt := range tasks {
		c.advance(ctx, set, bt)
	}
	c.checkSetCompletion(set)

	log.Printf("✅ 组构建已提交: SetID=%s, Name=%s, Tasks=%d", set.ID(), set.Name(), len(tasks))
	return nil
}

func (c *Coordinator) register(set *task.BuildSetTask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sets[set.ID()]; ok {
		return fmt.Errorf("%w: SetID=%s", ErrSetAlreadySubmitted, set.ID())
	}
	if c.finished.Contains(set.ID()) {
		return fmt.Errorf("%w: SetID=%s", ErrSetAlreadySubmitted, set.ID())
	}
	c.sets[set.ID()] = set
	c.done[set.ID()] = make(chan struct{})
	for _, bt := range set.Tasks() {
		c.tasks[bt.ID()] = set
	}
	return nil
}

// advance 推进一个等待中的任务：依赖失败则拒绝，依赖全部完成则入队（需持有组锁）
func (c *Coordinator) advance(ctx context.Context, set *task.BuildSetTask, bt *task.BuildTask) {
	if bt.Status() != types.StatusWaitingForDependencies {
		return
	}
	if dep, failed := set.FailedDependency(bt); failed {
		c.reject(ctx, set, bt, dep)
		return
	}
	if set.IsReady(bt) {
		if c.transition(set, bt, types.StatusEnqueued, "依赖已就绪") {
			c.enqueue(dispatchItem{set: set, task: bt})
		}
	}
}

// reject 因依赖失败拒绝任务，并沿依赖方向向下游传递（需持有组锁）
func (c *Coordinator) reject(ctx context.Context, set *task.BuildSetTask, bt *task.BuildTask, cause *task.BuildTask) {
	reason := fmt.Sprintf("依赖构建失败: %s(%s)", cause.Config().DisplayName(), cause.Status())
	if !c.transition(set, bt, types.StatusRejected, reason) {
		return
	}
	c.storeBestEffort(ctx, bt, types.BuildResult{Status: types.CompletionFailed, Error: reason})
	c.propagateFailure(ctx, set, bt)
}

// propagateFailure 拒绝失败任务的所有未完成下游（需持有组锁）
// 已完成的下游（如复用任务）不再继续向下传递
func (c *Coordinator) propagateFailure(ctx context.Context, set *task.BuildSetTask, failed *task.BuildTask) {
	for _, id := range failed.Dependents() {
		dep, ok := set.Task(id)
		if !ok || dep.Status().IsCompleted() {
			continue
		}
		c.reject(ctx, set, dep, failed)
	}
}

// afterTerminal 任务进入终态后的后续处理（需持有组锁）
func (c *Coordinator) afterTerminal(ctx context.Context, set *task.BuildSetTask, bt *task.BuildTask) {
	if bt.Status().HasFailed() {
		c.propagateFailure(ctx, set, bt)
	} else {
		for _, id := range bt.Dependents() {
			if dep, ok := set.Task(id); ok {
				c.advance(ctx, set, dep)
			}
		}
	}
	c.checkSetCompletion(set)
}

// checkSetCompletion 组内全部任务进入终态时发布组事件并移出活动集合（需持有组锁）
func (c *Coordinator) checkSetCompletion(set *task.BuildSetTask) {
	status := set.Status()
	if !status.IsCompleted() || !set.FinishTime().IsZero() {
		return
	}
	set.MarkFinished()
	if !set.Standalone() {
		c.publish(notify.NewSetEvent(set.ID(), types.SetStatusNew, status, ""))
	}
	c.release(set)

	p := set.Progress()
	if status.HasFailed() {
		log.Printf("⚠️ 组构建完成(有失败): SetID=%s, Status=%s, Completed=%d, Failed=%d",
			set.ID(), status, p.Completed, p.Failed)
	} else {
		log.Printf("✅ 组构建完成: SetID=%s, Completed=%d, Reused=%d", set.ID(), p.Completed, p.Reused)
	}
}

// release 将已完成的组构建移入 LRU
func (c *Coordinator) release(set *task.BuildSetTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets, set.ID())
	for _, bt := range set.Tasks() {
		delete(c.tasks, bt.ID())
		c.taskSets.Add(bt.ID(), set.ID())
	}
	c.finished.Add(set.ID(), set)
	if ch, ok := c.done[set.ID()]; ok {
		close(ch)
		delete(c.done, set.ID())
	}
}

// retain 直接保留一个已完成（被拒绝）的组构建
func (c *Coordinator) retain(set *task.BuildSetTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished.Add(set.ID(), set)
	for _, bt := range set.Tasks() {
		c.taskSets.Add(bt.ID(), set.ID())
	}
}

// transition 状态转换并发布事件（需持有组锁）
func (c *Coordinator) transition(set *task.BuildSetTask, bt *task.BuildTask, to types.BuildCoordinationStatus, reason string) bool {
	from, err := bt.Transition(to, reason)
	if err != nil {
		log.Printf("⚠️ 忽略非法状态转换: %v", err)
		return false
	}
	c.publish(notify.NewTaskEvent(bt.ID(), set.ID(), bt.Config().ID, from, to, reason))
	return true
}

func (c *Coordinator) publish(event *notify.StatusChangedEvent) {
	if c.hub == nil {
		return
	}
	if err := c.hub.Publish(event); err != nil {
		log.Printf("⚠️ 发布状态事件失败: Subject=%s, Status=%s, Error=%v", event.Subject(), event.NewStatus, err)
	}
}

// storeBestEffort 异步记录非正常结束的任务，失败只记录日志
func (c *Coordinator) storeBestEffort(ctx context.Context, bt *task.BuildTask, result types.BuildResult) {
	if bt.Reused() {
		return
	}
	if bt.Result() == nil {
		bt.SetResult(result)
	}
	snap := bt.Snapshot()
	stored := *snap.Result
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if err := c.store.Store(context.WithoutCancel(ctx), snap, stored); err != nil {
			log.Printf("⚠️ 记录构建结果失败: TaskID=%s, Status=%s, Error=%v", snap.ID, snap.Status, err)
		}
	}()
}

// lookup 查找任务所在的组构建
func (c *Coordinator) lookup(id types.TaskID) (*task.BuildSetTask, *task.BuildTask, error) {
	c.mu.RLock()
	set, active := c.tasks[id]
	c.mu.RUnlock()
	if !active {
		if _, ok := c.finishedSet(id); ok {
			return nil, nil, fmt.Errorf("%w: TaskID=%s", ErrTaskCompleted, id)
		}
		return nil, nil, fmt.Errorf("%w: TaskID=%s", ErrTaskNotFound, id)
	}
	bt, ok := set.Task(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: TaskID=%s", ErrTaskNotFound, id)
	}
	return set, bt, nil
}

func (c *Coordinator) finishedSet(id types.TaskID) (*task.BuildSetTask, bool) {
	setID, ok := c.taskSets.Get(id)
	if !ok {
		return nil, false
	}
	return c.finished.Get(setID)
}

// OnExternalCompletion 执行器回报构建结果
// 对已完成任务的重复回报返回 ErrTaskCompleted，不改变任何状态
func (c *Coordinator) OnExternalCompletion(ctx context.Context, id types.TaskID, result types.BuildResult) error {
	set, bt, err := c.lookup(id)
	if err != nil {
		return err
	}

	set.Lock()
	st := bt.Status()
	if st.IsCompleted() {
		set.Unlock()
		return fmt.Errorf("%w: TaskID=%s, Status=%s", ErrTaskCompleted, id, st)
	}
	if st != types.StatusBuilding {
		set.Unlock()
		return fmt.Errorf("%w: TaskID=%s, Status=%s", ErrUnexpectedCompletion, id, st)
	}
	bt.SetResult(result)

	switch result.Status {
	case types.CompletionCancelled:
		c.transition(set, bt, types.StatusCancelled, "执行器已取消构建")
		c.storeBestEffort(ctx, bt, result)
		c.afterTerminal(ctx, set, bt)
		set.Unlock()
		return nil
	case types.CompletionSystemError:
		c.transition(set, bt, types.StatusSystemError, "执行器系统错误: "+result.Error)
		c.storeBestEffort(ctx, bt, result)
		c.afterTerminal(ctx, set, bt)
		set.Unlock()
		return nil
	}

	success := result.IsSuccess()
	if success {
		c.transition(set, bt, types.StatusBuildCompletedSuccess, "构建成功")
	} else {
		c.transition(set, bt, types.StatusBuildCompletedWithError, fmt.Sprintf("构建失败(%s): %s", result.Status, result.Error))
	}
	c.transition(set, bt, types.StatusStoringResults, "存储构建结果")
	snap := bt.Snapshot()
	set.Unlock()

	// STORING_RESULTS 不可取消，也不会被重复回报推进，存储期间释放组锁
	storeErr := c.store.Store(ctx, snap, result)

	set.Lock()
	defer set.Unlock()
	switch {
	case storeErr != nil:
		log.Printf("❌ 存储构建结果失败: TaskID=%s, Error=%v", id, storeErr)
		c.transition(set, bt, types.StatusSystemError, "存储构建结果失败: "+storeErr.Error())
	case success:
		c.transition(set, bt, types.StatusDone, "构建结果已存储")
		stored := bt.Snapshot()
		for _, fn := range c.opts.onStored {
			fn(stored, result)
		}
	default:
		c.transition(set, bt, types.StatusDoneWithErrors, "失败结果已存储")
	}
	c.afterTerminal(ctx, set, bt)
	return nil
}

// OnExternalFailure 执行器无法给出构建结果（崩溃、panic 等）
func (c *Coordinator) OnExternalFailure(ctx context.Context, id types.TaskID, cause error) error {
	set, bt, err := c.lookup(id)
	if err != nil {
		return err
	}
	set.Lock()
	defer set.Unlock()

	st := bt.Status()
	if st.IsCompleted() {
		return fmt.Errorf("%w: TaskID=%s, Status=%s", ErrTaskCompleted, id, st)
	}
	if st != types.StatusBuilding {
		return fmt.Errorf("%w: TaskID=%s, Status=%s", ErrUnexpectedCompletion, id, st)
	}
	msg := "执行器异常"
	if cause != nil {
		msg = cause.Error()
	}
	c.transition(set, bt, types.StatusSystemError, "执行器异常: "+msg)
	c.storeBestEffort(ctx, bt, types.BuildResult{Status: types.CompletionSystemError, Error: msg, EndTime: time.Now()})
	c.afterTerminal(ctx, set, bt)
	return nil
}

// Cancel 取消任务
// 尚未派发的任务立即 CANCELLED；构建中的任务请求执行器取消，由执行器回报 CANCELLED 结果
func (c *Coordinator) Cancel(ctx context.Context, id types.TaskID) error {
	set, bt, err := c.lookup(id)
	if err != nil {
		return err
	}

	set.Lock()
	switch st := bt.Status(); st {
	case types.StatusNew, types.StatusWaitingForDependencies, types.StatusEnqueued:
		bt.RequestCancel()
		affected := 0
		_ = set.VisitDependents(id, func(dep *task.BuildTask) bool {
			if !dep.Status().IsCompleted() {
				affected++
			}
			return true
		})
		c.transition(set, bt, types.StatusCancelled, "用户取消")
		c.storeBestEffort(ctx, bt, types.BuildResult{Status: types.CompletionCancelled, EndTime: time.Now()})
		c.afterTerminal(ctx, set, bt)
		set.Unlock()
		log.Printf("⚠️ 任务已取消: TaskID=%s, 受影响的下游任务=%d", id, affected)
		return nil
	case types.StatusBuilding:
		first := bt.RequestCancel()
		set.Unlock()
		if !first {
			return nil
		}
		if err := c.exec.Cancel(ctx, id); err != nil {
			// 派发协程尚未交给执行器时，交付后会再次发起取消
			if errors.Is(err, executor.ErrBuildNotFound) {
				return nil
			}
			return fmt.Errorf("请求执行器取消失败: TaskID=%s: %w", id, err)
		}
		log.Printf("⚠️ 已请求执行器取消构建: TaskID=%s", id)
		return nil
	default:
		set.Unlock()
		if st.IsCompleted() {
			return fmt.Errorf("%w: TaskID=%s, Status=%s", ErrTaskCompleted, id, st)
		}
		return fmt.Errorf("%w: TaskID=%s, Status=%s", ErrNotCancellable, id, st)
	}
}

// CancelSet 取消组构建内所有未完成的任务
func (c *Coordinator) CancelSet(ctx context.Context, setID string) error {
	c.mu.RLock()
	set, ok := c.sets[setID]
	c.mu.RUnlock()
	if !ok {
		if _, done := c.finished.Peek(setID); done {
			return fmt.Errorf("%w: SetID=%s", ErrSetCompleted, setID)
		}
		return fmt.Errorf("%w: SetID=%s", ErrSetNotFound, setID)
	}

	var errs []error
	for _, bt := range set.Tasks() {
		if bt.Status().IsCompleted() {
			continue
		}
		err := c.Cancel(ctx, bt.ID())
		if err == nil || errors.Is(err, ErrTaskCompleted) || errors.Is(err, ErrNotCancellable) {
			continue
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GetSet 查询组构建（进行中或最近完成的）
func (c *Coordinator) GetSet(setID string) (*task.BuildSetTask, bool) {
	c.mu.RLock()
	set, ok := c.sets[setID]
	c.mu.RUnlock()
	if ok {
		return set, true
	}
	return c.finished.Get(setID)
}

// GetTask 查询任务（进行中或最近完成的）
func (c *Coordinator) GetTask(id types.TaskID) (*task.BuildTask, bool) {
	c.mu.RLock()
	set, ok := c.tasks[id]
	c.mu.RUnlock()
	if !ok {
		if set, ok = c.finishedSet(id); !ok {
			return nil, false
		}
	}
	return set.Task(id)
}

// ActiveSets 进行中的组构建（不含独立任务）
func (c *Coordinator) ActiveSets() []*task.BuildSetTask {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sets := make([]*task.BuildSetTask, 0, len(c.sets))
	for _, set := range c.sets {
		if !set.Standalone() {
			sets = append(sets, set)
		}
	}
	return sets
}

// RecentSets 最近完成的组构建（不含独立任务）
func (c *Coordinator) RecentSets() []*task.BuildSetTask {
	keys := c.finished.Keys()
	sets := make([]*task.BuildSetTask, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if set, ok := c.finished.Peek(keys[i]); ok && !set.Standalone() {
			sets = append(sets, set)
		}
	}
	return sets
}

// Wait 阻塞直到组构建进入终态或 ctx 结束
func (c *Coordinator) Wait(ctx context.Context, setID string) (types.BuildSetStatus, error) {
	c.mu.RLock()
	ch, active := c.done[setID]
	c.mu.RUnlock()
	if !active {
		if set, ok := c.finished.Get(setID); ok {
			return set.Status(), nil
		}
		return "", fmt.Errorf("%w: SetID=%s", ErrSetNotFound, setID)
	}
	select {
	case <-ch:
		set, _ := c.GetSet(setID)
		if set == nil {
			return "", fmt.Errorf("%w: SetID=%s", ErrSetNotFound, setID)
		}
		return set.Status(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stats 协调器统计
type Stats struct {
	ActiveSets   int `json:"active_sets"`
	ActiveTasks  int `json:"active_tasks"`
	RetainedSets int `json:"retained_sets"`
	QueuedTasks  int `json:"queued_tasks"`
}

// Stats 返回当前统计
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		ActiveSets:   len(c.sets),
		ActiveTasks:  len(c.tasks),
		RetainedSets: c.finished.Len(),
		QueuedTasks:  len(c.dispatchQ),
	}
}

// Shutdown 停止派发并等待后台存储完成（最多30秒）
// 尚未派发的任务以 SYSTEM_ERROR 结束；已交给执行器的构建由执行器自身的关闭流程处理
func (c *Coordinator) Shutdown() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.shutdown)

	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		if n := c.abandonPending(); n > 0 {
			log.Printf("⚠️ 协调器关闭，未派发的任务已终止: Count=%d", n)
		}
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("✅ 构建协调器已关闭")
		return nil
	case <-time.After(30 * time.Second):
		log.Println("⚠️ 构建协调器关闭超时")
		return errors.New("构建协调器关闭超时")
	}
}
