package plugin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/LENAX/build-coordinator/pkg/core/notify"
)

// defaultQueueSize 异步触发队列长度
const defaultQueueSize = 256

// PluginBinding 插件绑定规则（对外导出）
type PluginBinding struct {
	PluginName string                     // 插件名称
	Event      TriggerEvent               // 触发事件
	Condition  func(data PluginData) bool // 可选：条件函数，满足条件才触发
}

// PluginManager 插件管理器接口（对外导出）
type PluginManager interface {
	// Register 注册插件
	Register(plugin Plugin) error
	// RegisterWithInit 注册并初始化插件
	RegisterWithInit(plugin Plugin, params map[string]string) error
	// Bind 绑定插件到事件
	Bind(binding PluginBinding) error
	// Trigger 同步触发插件
	Trigger(ctx context.Context, event TriggerEvent, data PluginData) error
	// GetPlugin 获取已注册的插件
	GetPlugin(name string) (Plugin, bool)
	// ListPlugins 列出所有已注册的插件
	ListPlugins() []string
	// Unregister 取消注册插件
	Unregister(name string) error
	// Attach 订阅通知中心的全部状态变更，异步触发绑定的插件
	Attach(hub *notify.Hub) error
	// Close 取消订阅并等待已入队的事件处理完成
	Close() error
}

type pluginJob struct {
	event TriggerEvent
	data  PluginData
}

// pluginManagerImpl 插件管理器实现（内部实现）
type pluginManagerImpl struct {
	plugins  map[string]Plugin                // 已注册的插件（插件名称 -> 插件实例）
	bindings map[TriggerEvent][]PluginBinding // 事件绑定（事件类型 -> 绑定列表）
	mu       sync.RWMutex                     // 读写锁

	hub      *notify.Hub
	subID    notify.SubscriptionID
	queue    chan pluginJob
	wg       sync.WaitGroup
	attachMu sync.Mutex
	closed   bool

	queueMu     sync.RWMutex
	queueClosed bool
}

// NewPluginManager 创建插件管理器（对外导出）
func NewPluginManager() PluginManager {
	return &pluginManagerImpl{
		plugins:  make(map[string]Plugin),
		bindings: make(map[TriggerEvent][]PluginBinding),
	}
}

// Register 注册插件（实现PluginManager接口）
func (pm *pluginManagerImpl) Register(plugin Plugin) error {
	if plugin == nil {
		return fmt.Errorf("插件不能为空")
	}

	name := plugin.Name()
	if name == "" {
		return fmt.Errorf("插件名称不能为空")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.plugins[name]; exists {
		return fmt.Errorf("插件 %s 已注册", name)
	}

	pm.plugins[name] = plugin
	return nil
}

// RegisterWithInit 注册并初始化插件（实现PluginManager接口）
func (pm *pluginManagerImpl) RegisterWithInit(plugin Plugin, params map[string]string) error {
	if err := pm.Register(plugin); err != nil {
		return err
	}

	// 初始化插件
	if err := plugin.Init(params); err != nil {
		// 初始化失败，移除已注册的插件
		pm.mu.Lock()
		delete(pm.plugins, plugin.Name())
		pm.mu.Unlock()
		return fmt.Errorf("插件 %s 初始化失败: %w", plugin.Name(), err)
	}

	return nil
}

// Bind 绑定插件到事件（实现PluginManager接口）
func (pm *pluginManagerImpl) Bind(binding PluginBinding) error {
	if binding.PluginName == "" {
		return fmt.Errorf("插件名称不能为空")
	}
	if _, err := ParseTriggerEvent(string(binding.Event)); err != nil {
		return err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.plugins[binding.PluginName]; !exists {
		return fmt.Errorf("插件 %s 未注册", binding.PluginName)
	}
	pm.bindings[binding.Event] = append(pm.bindings[binding.Event], binding)
	return nil
}

// Trigger 触发插件（实现PluginManager接口）
func (pm *pluginManagerImpl) Trigger(ctx context.Context, event TriggerEvent, data PluginData) error {
	pm.mu.RLock()
	bindings := append([]PluginBinding(nil), pm.bindings[event]...)
	pm.mu.RUnlock()

	if len(bindings) == 0 {
		return nil // 没有绑定，直接返回
	}

	var errs []error
	for _, binding := range bindings {
		if err := ctx.Err(); err != nil {
			return err
		}
		// 检查条件
		if binding.Condition != nil && !binding.Condition(data) {
			continue
		}

		pm.mu.RLock()
		plugin, exists := pm.plugins[binding.PluginName]
		pm.mu.RUnlock()
		if !exists {
			continue // 插件已取消注册，跳过
		}

		if err := plugin.Execute(data); err != nil {
			errs = append(errs, fmt.Errorf("插件 %s 执行失败: %w", binding.PluginName, err))
		}
	}
	return errors.Join(errs...)
}

// GetPlugin 获取已注册的插件（实现PluginManager接口）
func (pm *pluginManagerImpl) GetPlugin(name string) (Plugin, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	plugin, exists := pm.plugins[name]
	return plugin, exists
}

// ListPlugins 列出所有已注册的插件（实现PluginManager接口）
func (pm *pluginManagerImpl) ListPlugins() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.plugins))
	for name := range pm.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister 取消注册插件（实现PluginManager接口）
func (pm *pluginManagerImpl) Unregister(name string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.plugins[name]; !exists {
		return fmt.Errorf("插件 %s 未注册", name)
	}

	delete(pm.plugins, name)

	// 移除所有相关的绑定
	for event := range pm.bindings {
		filtered := make([]PluginBinding, 0)
		for _, binding := range pm.bindings[event] {
			if binding.PluginName != name {
				filtered = append(filtered, binding)
			}
		}
		pm.bindings[event] = filtered
	}

	return nil
}

// Attach 订阅通知中心（实现PluginManager接口）
// 监听器只负责入队，插件在独立协程中按事件顺序执行，队列满时丢弃并记录
func (pm *pluginManagerImpl) Attach(hub *notify.Hub) error {
	pm.attachMu.Lock()
	defer pm.attachMu.Unlock()
	if pm.closed {
		return errors.New("插件管理器已关闭")
	}
	if pm.hub != nil {
		return errors.New("插件管理器已订阅通知中心")
	}

	queue := make(chan pluginJob, defaultQueueSize)
	subID, err := hub.SubscribeAll(notify.ListenerFunc(func(ev notify.StatusChangedEvent) error {
		event, ok := EventFor(ev)
		if !ok || !pm.hasBindings(event) {
			return nil
		}
		pm.queueMu.RLock()
		defer pm.queueMu.RUnlock()
		if pm.queueClosed {
			return nil
		}
		select {
		case queue <- pluginJob{event: event, data: NewPluginData(event, ev)}:
		default:
			log.Printf("⚠️ [PluginManager] 触发队列已满，丢弃事件: Event=%s, SetID=%s, TaskID=%s", event, ev.SetID, ev.TaskID)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("订阅通知中心失败: %w", err)
	}

	pm.hub, pm.subID, pm.queue = hub, subID, queue
	pm.wg.Add(1)
	go pm.run(queue)
	log.Printf("✅ [PluginManager] 已订阅构建事件: Plugins=%v", pm.ListPlugins())
	return nil
}

func (pm *pluginManagerImpl) hasBindings(event TriggerEvent) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.bindings[event]) > 0
}

func (pm *pluginManagerImpl) run(queue <-chan pluginJob) {
	defer pm.wg.Done()
	for job := range queue {
		if err := pm.Trigger(context.Background(), job.event, job.data); err != nil {
			log.Printf("❌ [PluginManager] %v", err)
		}
	}
}

// Close 关闭插件管理器（实现PluginManager接口）
func (pm *pluginManagerImpl) Close() error {
	pm.attachMu.Lock()
	if pm.closed {
		pm.attachMu.Unlock()
		return nil
	}
	pm.closed = true
	hub, subID, queue := pm.hub, pm.subID, pm.queue
	pm.attachMu.Unlock()

	if hub == nil {
		return nil
	}
	hub.Unsubscribe(subID)
	// 正在投递的监听器可能晚于取消订阅执行，关闭队列需与入队互斥
	pm.queueMu.Lock()
	pm.queueClosed = true
	close(queue)
	pm.queueMu.Unlock()
	pm.wg.Wait()
	return nil
}
