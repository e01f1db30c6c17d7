package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

const (
	maxGlobalWorkers = 1000 // 最大并发数上限
	defaultQueueSize = 1024
)

var (
	// ErrExecutorStopped 执行器未运行
	ErrExecutorStopped = errors.New("执行器未运行")
	// ErrBuildNotFound 执行器中没有该任务
	ErrBuildNotFound = errors.New("执行器中不存在该构建")
)

// LocalOptions 本地执行器配置
type LocalOptions struct {
	Workers      int           // 最大并发构建数
	QueueSize    int           // 等待执行的队列长度，队列满时拒绝新构建
	BuildTimeout time.Duration // 单个构建超时，<=0 表示不限制
	BuildFunc    BuildFunc
}

// pendingBuild 已接受、等待或正在执行的构建
type pendingBuild struct {
	req       BuildRequest
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	cancelled bool
}

func (p *pendingBuild) markCancelled() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
	p.cancel()
}

func (p *pendingBuild) isCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// LocalExecutor 进程内执行器：有界队列 + Worker池
type LocalExecutor struct {
	mu         sync.RWMutex
	opts       LocalOptions
	handler    CompletionHandler
	workerPool chan struct{}
	queue      chan *pendingBuild
	builds     sync.Map // TaskID -> *pendingBuild
	wg         sync.WaitGroup
	running    bool
	shutdown   chan struct{}
}

// NewLocalExecutor 创建本地执行器
func NewLocalExecutor(opts LocalOptions) (*LocalExecutor, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Workers > maxGlobalWorkers {
		return nil, fmt.Errorf("最大并发数不能超过 %d", maxGlobalWorkers)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.BuildFunc == nil {
		opts.BuildFunc = ShellBuildFunc("sh")
	}
	return &LocalExecutor{
		opts:       opts,
		workerPool: make(chan struct{}, opts.Workers),
		queue:      make(chan *pendingBuild, opts.QueueSize),
		shutdown:   make(chan struct{}),
	}, nil
}

// SetCompletionHandler 设置完成回调（启动前调用）
func (e *LocalExecutor) SetCompletionHandler(h CompletionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// Start 启动调度协程
func (e *LocalExecutor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	go e.scheduler()
	log.Printf("✅ 本地执行器已启动: Workers=%d, QueueSize=%d", e.opts.Workers, e.opts.QueueSize)
}

// StartBuild 实现 BuildExecutor，队列满时不接受
func (e *LocalExecutor) StartBuild(_ context.Context, req BuildRequest) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return false, ErrExecutorStopped
	}
	if e.handler == nil {
		return false, errors.New("未设置完成回调")
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if e.opts.BuildTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), e.opts.BuildTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	pb := &pendingBuild{req: req, ctx: ctx, cancel: cancel}
	if _, loaded := e.builds.LoadOrStore(req.TaskID, pb); loaded {
		cancel()
		return false, fmt.Errorf("重复的构建请求: TaskID=%s", req.TaskID)
	}

	select {
	case e.queue <- pb:
		return true, nil
	default:
		e.builds.Delete(req.TaskID)
		cancel()
		log.Printf("⚠️ 执行器队列已满，拒绝构建: TaskID=%s", req.TaskID)
		return false, nil
	}
}

// Cancel 实现 BuildExecutor
// 尚未开始的构建直接以 CANCELLED 回报；正在执行的构建取消其 context，由构建函数退出后回报
func (e *LocalExecutor) Cancel(_ context.Context, taskID types.TaskID) error {
	v, ok := e.builds.Load(taskID)
	if !ok {
		return fmt.Errorf("%w: TaskID=%s", ErrBuildNotFound, taskID)
	}
	v.(*pendingBuild).markCancelled()
	return nil
}

// Running 当前已接受但未完成的构建数
func (e *LocalExecutor) Running() int {
	n := 0
	e.builds.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// scheduler 从队列取出构建并分配Worker
func (e *LocalExecutor) scheduler() {
	for {
		select {
		case pb := <-e.queue:
			select {
			case e.workerPool <- struct{}{}:
				e.wg.Add(1)
				go e.execute(pb)
			case <-e.shutdown:
				e.report(pb, types.BuildResult{Status: types.CompletionSystemError, Error: ErrExecutorStopped.Error()})
				return
			}
		case <-e.shutdown:
			return
		}
	}
}

// execute 执行单个构建
func (e *LocalExecutor) execute(pb *pendingBuild) {
	defer func() {
		<-e.workerPool
		e.wg.Done()
	}()

	start := time.Now()
	if pb.isCancelled() {
		e.report(pb, types.BuildResult{Status: types.CompletionCancelled, StartTime: start, EndTime: time.Now()})
		return
	}

	result, err := e.runBuildFunc(pb)
	if err != nil {
		e.fail(pb, err)
		return
	}
	if result.StartTime.IsZero() {
		result.StartTime = start
	}
	if result.EndTime.IsZero() {
		result.EndTime = time.Now()
	}

	// 构建已成功完成时以真实结果为准，之后到达的取消或超时不再改写
	switch {
	case result.IsSuccess():
	case pb.isCancelled():
		result.Status = types.CompletionCancelled
	case errors.Is(pb.ctx.Err(), context.DeadlineExceeded):
		result.Status = types.CompletionTimedOut
		if result.Error == "" {
			result.Error = fmt.Sprintf("构建超时: %s", e.opts.BuildTimeout)
		}
	}
	e.report(pb, result)
}

// runBuildFunc 调用构建函数，panic 转为错误
func (e *LocalExecutor) runBuildFunc(pb *pendingBuild) (result types.BuildResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("构建函数 panic: %v", r)
		}
	}()
	ctx := task.WithTaskID(pb.ctx, pb.req.TaskID)
	ctx = task.WithSetID(ctx, pb.req.SetID)
	ctx = task.WithConfigID(ctx, pb.req.Config.ID)
	return e.opts.BuildFunc(ctx, pb.req), nil
}

func (e *LocalExecutor) report(pb *pendingBuild, result types.BuildResult) {
	e.builds.Delete(pb.req.TaskID)
	pb.cancel()
	if err := e.handler.OnExternalCompletion(context.Background(), pb.req.TaskID, result); err != nil {
		log.Printf("⚠️ 回报构建结果失败: TaskID=%s, Status=%s, Error=%v", pb.req.TaskID, result.Status, err)
	}
}

func (e *LocalExecutor) fail(pb *pendingBuild, cause error) {
	e.builds.Delete(pb.req.TaskID)
	pb.cancel()
	log.Printf("❌ 构建执行异常: TaskID=%s, Error=%v", pb.req.TaskID, cause)
	if err := e.handler.OnExternalFailure(context.Background(), pb.req.TaskID, cause); err != nil {
		log.Printf("⚠️ 回报构建异常失败: TaskID=%s, Error=%v", pb.req.TaskID, err)
	}
}

// Shutdown 停止接受新构建，取消正在执行的构建并等待其回报（最多30秒）
func (e *LocalExecutor) Shutdown() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.shutdown)
	e.mu.Unlock()

	e.builds.Range(func(_, v any) bool {
		v.(*pendingBuild).markCancelled()
		return true
	})
	// 队列中尚未分配Worker的构建
	for {
		select {
		case pb := <-e.queue:
			e.report(pb, types.BuildResult{Status: types.CompletionCancelled})
			continue
		default:
		}
		break
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("⚠️ 本地执行器关闭超时")
	}
	log.Println("✅ 本地执行器已关闭")
	return nil
}
