package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LENAX/build-coordinator/pkg/config"
	"github.com/LENAX/build-coordinator/pkg/core/builder"
	"github.com/LENAX/build-coordinator/pkg/core/executor"
	"github.com/LENAX/build-coordinator/pkg/core/notify"
	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
	"github.com/LENAX/build-coordinator/pkg/plugin"
	"github.com/LENAX/build-coordinator/pkg/storage"
)

// ErrEngineNotRunning 引擎未启动
var ErrEngineNotRunning = errors.New("构建引擎未运行")

// Options 引擎参数（由 EngineBuilder 根据配置文件填充）
type Options struct {
	InstanceName        string
	DefaultMode         rebuild.Mode  // 提交未指定模式时使用
	FingerprintCacheTTL time.Duration // 0 表示不缓存指纹查询
	CacheCleanInterval  time.Duration
	DispatchWorkers     int
	DispatchQueueSize   int
	Retention           int
	Local               executor.LocalOptions // Executor 为nil时用于创建本地执行器
	Executor            executor.BuildExecutor
	Policy              rebuild.Policy
	HubOptions          []notify.Option
	Schedules           []config.ScheduleConfig
	Plugins             plugin.PluginManager // 非nil时订阅通知中心，引擎停止时关闭
}

// Engine 构建协调引擎（对外导出）
// 组合依赖图构造、重建策略、协调器、通知中心、执行器和定时调度
type Engine struct {
	opts        Options
	repo        storage.BuildRecordRepository
	oracle      rebuild.Oracle
	cached      *rebuild.CachedOracle
	ids         *task.SequenceIDSupplier
	builder     *builder.GraphBuilder
	hub         *notify.Hub
	coordinator *Coordinator
	exec        executor.BuildExecutor
	local       *executor.LocalExecutor
	cron        *CronScheduler
	plugins     plugin.PluginManager
	closers     []func() error

	mu      sync.RWMutex
	running bool
	stopped bool
}

// NewEngine 创建Engine实例（对外导出的工厂方法）
// repo 同时作为结果存储和指纹来源
func NewEngine(repo storage.BuildRecordRepository, opts Options) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("构建记录存储不能为空")
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = rebuild.ModeImplicit
	}
	if !opts.DefaultMode.IsValid() {
		return nil, fmt.Errorf("%w: %s", rebuild.ErrUnknownMode, opts.DefaultMode)
	}

	eng := &Engine{
		opts:   opts,
		repo:   repo,
		oracle: repo,
		ids:    task.NewSequenceIDSupplier(0),
	}
	if opts.FingerprintCacheTTL > 0 {
		eng.cached = rebuild.NewCachedOracleWithCleanup(repo, opts.FingerprintCacheTTL, opts.CacheCleanInterval)
		eng.oracle = eng.cached
	}
	eng.builder = builder.NewGraphBuilder(eng.ids, opts.Policy, eng.oracle)

	hubOpts := append([]notify.Option{notify.WithTerminalLookup(eng.subjectTerminal)}, opts.HubOptions...)
	hub, err := notify.NewHub(hubOpts...)
	if err != nil {
		eng.closeOracle()
		return nil, fmt.Errorf("创建通知中心失败: %w", err)
	}
	eng.hub = hub

	if opts.Plugins != nil {
		if err := opts.Plugins.Attach(hub); err != nil {
			eng.abortInit()
			return nil, fmt.Errorf("挂载插件失败: %w", err)
		}
		eng.plugins = opts.Plugins
	}

	eng.exec = opts.Executor
	if eng.exec == nil {
		local, err := executor.NewLocalExecutor(opts.Local)
		if err != nil {
			eng.abortInit()
			return nil, fmt.Errorf("创建本地执行器失败: %w", err)
		}
		eng.local = local
		eng.exec = local
	}

	coordOpts := []Option{
		WithDispatchWorkers(opts.DispatchWorkers),
		WithDispatchQueueSize(opts.DispatchQueueSize),
		WithRetention(opts.Retention),
	}
	if eng.cached != nil {
		coordOpts = append(coordOpts, WithOnStored(func(snap task.TaskSnapshot, _ types.BuildResult) {
			eng.cached.Invalidate(snap.Config.ID)
		}))
	}
	coord, err := NewCoordinator(eng.exec, repo, hub, coordOpts...)
	if err != nil {
		eng.abortInit()
		return nil, fmt.Errorf("创建协调器失败: %w", err)
	}
	eng.coordinator = coord
	if eng.local != nil {
		eng.local.SetCompletionHandler(coord)
	}

	eng.cron = NewCronScheduler(eng)
	for _, s := range opts.Schedules {
		if s.Disabled {
			continue
		}
		if err := eng.cron.RegisterSchedule(s); err != nil {
			_ = coord.Shutdown()
			eng.abortInit()
			return nil, err
		}
	}
	return eng, nil
}

// addCloser 引擎停止时需要释放的资源（如数据库工厂）
func (e *Engine) addCloser(fn func() error) {
	e.closers = append(e.closers, fn)
}

// Plugins 构建事件插件管理器，未配置插件时为nil
func (e *Engine) Plugins() plugin.PluginManager {
	return e.plugins
}

// Start 启动引擎：恢复任务ID序列、启动执行器和定时调度器
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	if e.stopped {
		return errors.New("构建引擎已停止，不能再次启动")
	}

	maxID, err := e.repo.MaxTaskID(ctx)
	if err != nil {
		return fmt.Errorf("读取最大任务ID失败: %w", err)
	}
	e.ids.Seed(int64(maxID))

	if e.local != nil {
		e.local.Start()
	}
	e.cron.Start()

	e.running = true
	log.Printf("✅ 构建协调引擎已启动: Instance=%s, DefaultMode=%s, NextTaskID>%d",
		e.opts.InstanceName, e.opts.DefaultMode, maxID)
	return nil
}

// Stop 停止引擎并释放资源（未启动过的引擎同样需要调用以释放存储连接）
// 1. 停止定时调度
// 2. 关闭本地执行器（正在执行的构建以 CANCELLED 回报）
// 3. 关闭协调器、通知中心和存储
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	wasRunning := e.running
	e.running = false
	e.stopped = true
	e.mu.Unlock()

	if wasRunning {
		e.cron.Stop()
		if e.local != nil {
			if err := e.local.Shutdown(); err != nil {
				log.Printf("⚠️ 关闭本地执行器失败: %v", err)
			}
		}
	}
	if err := e.coordinator.Shutdown(); err != nil {
		log.Printf("⚠️ 关闭协调器失败: %v", err)
	}
	if err := e.hub.Close(); err != nil {
		log.Printf("⚠️ 关闭通知中心失败: %v", err)
	}
	if e.plugins != nil {
		if err := e.plugins.Close(); err != nil {
			log.Printf("⚠️ 关闭插件管理器失败: %v", err)
		}
	}
	e.closeOracle()
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			log.Printf("⚠️ 释放资源失败: %v", err)
		}
	}
	log.Println("✅ 构建协调引擎已停止")
}

// abortInit 创建失败时释放已创建的组件
func (e *Engine) abortInit() {
	e.closeOracle()
	_ = e.hub.Close()
	if e.plugins != nil {
		_ = e.plugins.Close()
	}
}

func (e *Engine) closeOracle() {
	if e.cached != nil {
		e.cached.Close()
	}
}

// IsRunning 引擎是否运行中
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) checkRunning() error {
	if !e.IsRunning() {
		return ErrEngineNotRunning
	}
	return nil
}

// SubmitConfigurationSet 提交一组构建配置
// 配置错误（重复ID、缺失依赖、依赖环、未知模式）不返回错误，而是返回一个 REJECTED 的组构建并发布其事件
// 指纹查询等存储错误直接返回
func (e *Engine) SubmitConfigurationSet(ctx context.Context, sub builder.Submission) (*task.BuildSetTask, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	if sub.Mode == "" {
		sub.Mode = e.opts.DefaultMode
	}

	set, err := e.builder.Build(ctx, sub)
	if err != nil {
		if !builder.IsConfigurationError(err) {
			return nil, fmt.Errorf("构建依赖图失败: %w", err)
		}
		set = task.NewRejectedSet(task.SetOptions{
			Name:     sub.Name,
			RecordID: sub.RecordID,
			Mode:     sub.Mode,
			Cause:    sub.Cause,
		}, err.Error())
	}
	if err := e.coordinator.Submit(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}

// SubmitGraphFile 提交配置集文件，modeOverride 非空时覆盖文件声明的模式
func (e *Engine) SubmitGraphFile(ctx context.Context, g *config.GraphFile, modeOverride, cause string) (*task.BuildSetTask, error) {
	mode, err := e.resolveMode(g, modeOverride)
	if err != nil {
		return nil, err
	}
	return e.SubmitConfigurationSet(ctx, builder.Submission{
		Name:     g.Name,
		RecordID: g.RecordID,
		Configs:  g.Configs,
		Mode:     mode,
		Cause:    cause,
	})
}

func (e *Engine) resolveMode(g *config.GraphFile, modeOverride string) (rebuild.Mode, error) {
	if modeOverride != "" {
		return rebuild.ParseMode(modeOverride)
	}
	return g.RebuildMode(e.opts.DefaultMode)
}

// SubmitStandalone 提交单个独立构建任务（不属于任何对外可见的组构建）
func (e *Engine) SubmitStandalone(ctx context.Context, cfg types.BuildConfigRef, mode rebuild.Mode, cause string) (*task.BuildTask, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = e.opts.DefaultMode
	}
	set, bt, err := e.builder.BuildStandalone(ctx, cfg, mode, cause)
	if err != nil {
		return nil, err
	}
	if err := e.coordinator.Submit(ctx, set); err != nil {
		return nil, err
	}
	return bt, nil
}

// Plan 只构建依赖图并计算重建决策，不分配正式任务ID也不派发
func (e *Engine) Plan(ctx context.Context, sub builder.Submission) (*task.BuildSetTask, error) {
	if sub.Mode == "" {
		sub.Mode = e.opts.DefaultMode
	}
	planner := builder.NewGraphBuilder(task.NewSequenceIDSupplier(0), e.opts.Policy, e.oracle)
	return planner.Build(ctx, sub)
}

// Cancel 取消任务
func (e *Engine) Cancel(ctx context.Context, taskID types.TaskID) error {
	return e.coordinator.Cancel(ctx, taskID)
}

// CancelSet 取消组构建中所有未结束的任务
func (e *Engine) CancelSet(ctx context.Context, setID string) error {
	return e.coordinator.CancelSet(ctx, setID)
}

// GetSet 查询组构建
func (e *Engine) GetSet(setID string) (*task.BuildSetTask, bool) {
	return e.coordinator.GetSet(setID)
}

// GetTask 查询任务
func (e *Engine) GetTask(taskID types.TaskID) (*task.BuildTask, bool) {
	return e.coordinator.GetTask(taskID)
}

// ActiveSets 进行中的组构建
func (e *Engine) ActiveSets() []*task.BuildSetTask {
	return e.coordinator.ActiveSets()
}

// RecentSets 最近完成的组构建
func (e *Engine) RecentSets() []*task.BuildSetTask {
	return e.coordinator.RecentSets()
}

// GetSetProgress 获取组构建的内存进度快照
func (e *Engine) GetSetProgress(setID string) (types.ProgressSnapshot, bool) {
	set, ok := e.coordinator.GetSet(setID)
	if !ok {
		return types.ProgressSnapshot{}, false
	}
	set.Lock()
	defer set.Unlock()
	return set.Progress(), true
}

// Wait 等待组构建结束
func (e *Engine) Wait(ctx context.Context, setID string) (types.BuildSetStatus, error) {
	return e.coordinator.Wait(ctx, setID)
}

// ListRecords 查询构建记录
func (e *Engine) ListRecords(ctx context.Context, filter storage.RecordFilter) ([]*storage.BuildRecord, error) {
	return e.repo.ListRecords(ctx, filter)
}

// GetRecord 查询单个任务的构建记录
func (e *Engine) GetRecord(ctx context.Context, taskID types.TaskID) (*storage.BuildRecord, error) {
	return e.repo.GetRecord(ctx, taskID)
}

// subjectTerminal 通知中心终态缓存未命中时回查协调器保留的状态与构建记录
func (e *Engine) subjectTerminal(subject notify.Subject) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	switch subject.Kind {
	case notify.KindTask:
		id, err := types.ParseTaskID(subject.ID)
		if err != nil {
			return false
		}
		if e.coordinator != nil {
			if bt, ok := e.coordinator.GetTask(id); ok {
				return bt.Status().IsCompleted()
			}
		}
		rec, err := e.repo.GetRecord(ctx, id)
		return err == nil && rec.Status.IsCompleted()
	case notify.KindSet:
		if e.coordinator != nil {
			if set, ok := e.coordinator.GetSet(subject.ID); ok {
				return set.Status().IsCompleted()
			}
		}
		recs, err := e.repo.ListRecords(ctx, storage.RecordFilter{SetID: subject.ID, Limit: 1})
		return err == nil && len(recs) > 0
	}
	return false
}

// Hub 通知中心（用于订阅状态变更）
func (e *Engine) Hub() *notify.Hub {
	return e.hub
}

// CompletionHandler 外部执行器的完成回调入口
func (e *Engine) CompletionHandler() executor.CompletionHandler {
	return e.coordinator
}

// CronScheduler 定时调度器
func (e *Engine) CronScheduler() *CronScheduler {
	return e.cron
}

// EngineStats 引擎统计
type EngineStats struct {
	Instance      string       `json:"instance"`
	Running       bool         `json:"running"`
	Coordinator   Stats        `json:"coordinator"`
	Notifications notify.Stats `json:"notifications"`
	LocalBuilds   int          `json:"local_builds"`
	Schedules     []string     `json:"schedules"`
}

// Stats 返回引擎统计
func (e *Engine) Stats() EngineStats {
	s := EngineStats{
		Instance:      e.opts.InstanceName,
		Running:       e.IsRunning(),
		Coordinator:   e.coordinator.Stats(),
		Notifications: e.hub.Stats(),
		Schedules:     e.cron.GetRegisteredSchedules(),
	}
	if e.local != nil {
		s.LocalBuilds = e.local.Running()
	}
	return s
}
