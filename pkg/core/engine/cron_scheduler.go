package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/LENAX/build-coordinator/pkg/config"
)

// GraphLoader 加载配置集文件
type GraphLoader func(path string) (*config.GraphFile, error)

// CronScheduler 定时调度器（对外导出）
// 按 schedules 配置周期性提交配置集
type CronScheduler struct {
	cron      *cron.Cron
	engine    *Engine
	loader    GraphLoader
	schedules map[string]config.ScheduleConfig // name -> 调度配置
	entries   map[string]cron.EntryID          // name -> cron.EntryID映射
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewCronScheduler 创建定时调度器（对外导出）
func NewCronScheduler(eng *Engine) *CronScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron:      cron.New(cron.WithSeconds()), // 支持秒级精度
		engine:    eng,
		loader:    config.LoadGraphFile,
		schedules: make(map[string]config.ScheduleConfig),
		entries:   make(map[string]cron.EntryID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetGraphLoader 替换配置集加载方式
func (cs *CronScheduler) SetGraphLoader(loader GraphLoader) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if loader != nil {
		cs.loader = loader
	}
}

// RegisterSchedule 注册定时构建（对外导出）
func (cs *CronScheduler) RegisterSchedule(s config.ScheduleConfig) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if s.Name == "" {
		return fmt.Errorf("定时构建名称不能为空")
	}
	if _, exists := cs.schedules[s.Name]; exists {
		return fmt.Errorf("定时构建 %s 已注册到定时调度器", s.Name)
	}
	if s.GraphFile == "" {
		return fmt.Errorf("定时构建 %s 未设置配置集文件", s.Name)
	}
	if s.Cron == "" {
		return fmt.Errorf("定时构建 %s 未设置Cron表达式", s.Name)
	}

	// 验证Cron表达式（使用Parser支持秒级精度）
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(s.Cron); err != nil {
		return fmt.Errorf("定时构建 %s 的Cron表达式无效: %w", s.Name, err)
	}

	entryID, err := cs.cron.AddFunc(s.Cron, func() {
		cs.trigger(s)
	})
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}

	cs.schedules[s.Name] = s
	cs.entries[s.Name] = entryID

	log.Printf("✅ [Cron调度器] 已注册定时构建: Name=%s, GraphFile=%s, CronExpr=%s", s.Name, s.GraphFile, s.Cron)
	return nil
}

// UnregisterSchedule 取消注册定时构建（对外导出）
func (cs *CronScheduler) UnregisterSchedule(name string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entryID, exists := cs.entries[name]
	if !exists {
		return fmt.Errorf("定时构建 %s 未注册到定时调度器", name)
	}

	cs.cron.Remove(entryID)
	delete(cs.schedules, name)
	delete(cs.entries, name)

	log.Printf("✅ [Cron调度器] 已取消注册定时构建: Name=%s", name)
	return nil
}

// Trigger 立即触发一次已注册的定时构建
func (cs *CronScheduler) Trigger(name string) error {
	cs.mu.RLock()
	s, exists := cs.schedules[name]
	cs.mu.RUnlock()
	if !exists {
		return fmt.Errorf("定时构建 %s 未注册到定时调度器", name)
	}
	cs.trigger(s)
	return nil
}

// trigger 加载配置集并提交（内部方法）
// 每次触发都重新读取文件，文件修改后下次触发即生效
func (cs *CronScheduler) trigger(s config.ScheduleConfig) {
	log.Printf("🕐 [Cron调度器] 触发定时构建: Name=%s, GraphFile=%s", s.Name, s.GraphFile)

	cs.mu.RLock()
	loader := cs.loader
	cs.mu.RUnlock()

	g, err := loader(s.GraphFile)
	if err != nil {
		log.Printf("❌ [Cron调度器] 加载配置集失败: Name=%s, Error=%v", s.Name, err)
		return
	}

	set, err := cs.engine.SubmitGraphFile(cs.ctx, g, s.Mode, "cron:"+s.Name)
	if err != nil {
		log.Printf("❌ [Cron调度器] 提交配置集失败: Name=%s, Error=%v", s.Name, err)
		return
	}
	log.Printf("✅ [Cron调度器] 配置集已提交: Name=%s, SetID=%s, Tasks=%d", s.Name, set.ID(), set.Len())
}

// Start 启动定时调度器（对外导出）
func (cs *CronScheduler) Start() {
	cs.cron.Start()
	log.Println("✅ [Cron调度器] 已启动")
}

// Stop 停止定时调度器（对外导出），等待正在执行的触发结束
func (cs *CronScheduler) Stop() {
	<-cs.cron.Stop().Done()
	cs.cancel()
	log.Println("✅ [Cron调度器] 已停止")
}

// GetRegisteredSchedules 获取已注册的定时构建名称（对外导出）
func (cs *CronScheduler) GetRegisteredSchedules() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	names := make([]string, 0, len(cs.schedules))
	for name := range cs.schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
