package engine

import (
	"errors"
	"fmt"
	"log"

	internalstorage "github.com/LENAX/build-coordinator/internal/storage"
	"github.com/LENAX/build-coordinator/pkg/config"
	"github.com/LENAX/build-coordinator/pkg/core/executor"
	"github.com/LENAX/build-coordinator/pkg/core/notify"
	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/plugin"
	"github.com/LENAX/build-coordinator/pkg/storage"
	"github.com/LENAX/build-coordinator/pkg/storage/sqlstore"
)

// EngineBuilder 引擎构建器（链式调用）
type EngineBuilder struct {
	configPath string
	cfg        *config.CoordinatorConfig
	repo       storage.BuildRecordRepository
	exec       executor.BuildExecutor
	buildFunc  executor.BuildFunc
	policy     rebuild.Policy
	schedules  []config.ScheduleConfig
	plugins    plugin.PluginManager
	err        error
}

// NewEngineBuilder 创建引擎构建器（入口）
// configPath 为空或文件不存在时使用默认配置
func NewEngineBuilder(configPath string) *EngineBuilder {
	return &EngineBuilder{configPath: configPath}
}

// WithConfig 直接使用已加载的配置，不再读取 configPath（链式）
func (b *EngineBuilder) WithConfig(cfg *config.CoordinatorConfig) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if cfg == nil {
		b.err = errors.New("config cannot be nil")
		return b
	}
	b.cfg = cfg
	return b
}

// WithRepository 使用外部提供的构建记录存储，跳过数据库工厂（链式）
func (b *EngineBuilder) WithRepository(repo storage.BuildRecordRepository) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if repo == nil {
		b.err = errors.New("repository cannot be nil")
		return b
	}
	b.repo = repo
	return b
}

// WithExecutor 使用外部构建执行器（链式）
// 外部执行器需通过 Engine.CompletionHandler() 回报结果
func (b *EngineBuilder) WithExecutor(exec executor.BuildExecutor) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if exec == nil {
		b.err = errors.New("executor cannot be nil")
		return b
	}
	b.exec = exec
	return b
}

// WithBuildFunc 替换本地执行器的构建函数（链式）
func (b *EngineBuilder) WithBuildFunc(fn executor.BuildFunc) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if fn == nil {
		b.err = errors.New("build func cannot be nil")
		return b
	}
	b.buildFunc = fn
	return b
}

// WithPolicy 替换重建策略（链式）
func (b *EngineBuilder) WithPolicy(policy rebuild.Policy) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if policy == nil {
		b.err = errors.New("rebuild policy cannot be nil")
		return b
	}
	b.policy = policy
	return b
}

// WithSchedule 追加定时构建（链式）
func (b *EngineBuilder) WithSchedule(s config.ScheduleConfig) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if s.Name == "" {
		b.err = errors.New("schedule name cannot be empty")
		return b
	}
	b.schedules = append(b.schedules, s)
	return b
}

// WithPluginManager 使用外部插件管理器，配置文件中的插件追加注册到其中（链式）
func (b *EngineBuilder) WithPluginManager(pm plugin.PluginManager) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if pm == nil {
		b.err = errors.New("plugin manager cannot be nil")
		return b
	}
	b.plugins = pm
	return b
}

// Build 构建引擎实例（最终步骤）
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.err != nil {
		return nil, b.err
	}

	// 1. 加载配置
	cfg := b.cfg
	if cfg == nil {
		loaded, err := config.LoadCoordinatorConfig(b.configPath)
		if err != nil {
			return nil, fmt.Errorf("load coordinator config failed: %w", err)
		}
		cfg = loaded
	} else {
		cfg.ApplyDefaults()
	}

	// 2. 校验配置
	if err := config.ValidateCoordinatorConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate coordinator config failed: %w", err)
	}

	// 3. 初始化存储层
	repo := b.repo
	var closeStorage func() error
	if repo == nil {
		factory, err := b.initStorage(cfg)
		if err != nil {
			return nil, fmt.Errorf("init storage failed: %w", err)
		}
		if repo, err = factory.CreateBuildRecordRepo(); err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("create build record repository failed: %w", err)
		}
		closeStorage = factory.Close
	}

	// 4. 组装参数
	opts, err := b.engineOptions(cfg)
	if err != nil {
		if closeStorage != nil {
			_ = closeStorage()
		}
		return nil, err
	}

	// 5. 创建Engine实例
	eng, err := NewEngine(repo, opts)
	if err != nil {
		if closeStorage != nil {
			_ = closeStorage()
		}
		return nil, fmt.Errorf("create engine failed: %w", err)
	}
	if closeStorage != nil {
		eng.addCloser(closeStorage)
	}

	log.Printf("📝 [EngineBuilder] 引擎已创建: Instance=%s, Storage=%s, Driver=%s, Schedules=%d",
		opts.InstanceName, cfg.GetDatabaseType(), cfg.Coordinator.Execution.BuildDriver, len(opts.Schedules))
	return eng, nil
}

func (b *EngineBuilder) engineOptions(cfg *config.CoordinatorConfig) (Options, error) {
	co := cfg.Coordinator

	mode, err := rebuild.ParseMode(co.Rebuild.DefaultMode)
	if err != nil {
		return Options{}, err
	}

	buildFunc := b.buildFunc
	if buildFunc == nil {
		if buildFunc, err = executor.BuildFuncByName(co.Execution.BuildDriver); err != nil {
			return Options{}, err
		}
	}

	plugins, err := b.initPlugins(cfg)
	if err != nil {
		return Options{}, fmt.Errorf("init plugins failed: %w", err)
	}

	return Options{
		InstanceName:        co.General.InstanceName,
		DefaultMode:         mode,
		FingerprintCacheTTL: cfg.GetFingerprintCacheTTL(),
		CacheCleanInterval:  co.Storage.Cache.CleanInterval,
		DispatchWorkers:     co.Execution.DispatchWorkers,
		DispatchQueueSize:   co.Execution.DispatchQueueSize,
		Retention:           co.Retention.FinishedSets,
		Local: executor.LocalOptions{
			Workers:      cfg.GetExecutorWorkers(),
			QueueSize:    co.Execution.ExecutorQueueSize,
			BuildTimeout: co.Execution.BuildTimeout,
			BuildFunc:    buildFunc,
		},
		Executor: b.exec,
		Policy:   b.policy,
		HubOptions: []notify.Option{
			notify.WithBufferSize(int(co.Notification.BufferSize)),
			notify.WithTerminalMemory(co.Notification.TerminalMemory),
			notify.WithLogging(co.Notification.Debug, false),
		},
		Schedules: append(append([]config.ScheduleConfig(nil), co.Schedules...), b.schedules...),
		Plugins:   plugins,
	}, nil
}

// initPlugins 按配置注册并绑定插件，未配置任何插件时返回nil
func (b *EngineBuilder) initPlugins(cfg *config.CoordinatorConfig) (plugin.PluginManager, error) {
	pm := b.plugins
	if pm == nil && len(cfg.Coordinator.Plugins) == 0 {
		return nil, nil
	}
	if pm == nil {
		pm = plugin.NewPluginManager()
	}
	for _, pc := range cfg.Coordinator.Plugins {
		p, err := plugin.NewByName(pc.Name)
		if err != nil {
			return nil, err
		}
		if err := pm.RegisterWithInit(p, pc.Params); err != nil {
			return nil, err
		}
		cond := configFilter(pc.Configs)
		for _, name := range pc.Events {
			event, err := plugin.ParseTriggerEvent(name)
			if err != nil {
				return nil, err
			}
			if err := pm.Bind(plugin.PluginBinding{PluginName: p.Name(), Event: event, Condition: cond}); err != nil {
				return nil, err
			}
		}
		log.Printf("📝 [EngineBuilder] 插件已注册: Name=%s, Events=%v", pc.Name, pc.Events)
	}
	return pm, nil
}

// configFilter 只放行指定配置的任务事件，组构建事件不受限制
func configFilter(configs []string) func(plugin.PluginData) bool {
	if len(configs) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(configs))
	for _, id := range configs {
		allowed[id] = true
	}
	return func(data plugin.PluginData) bool {
		return data.ConfigID == "" || allowed[data.ConfigID]
	}
}

// initStorage 初始化存储层（根据配置创建数据库工厂）
func (b *EngineBuilder) initStorage(cfg *config.CoordinatorConfig) (internalstorage.DatabaseFactory, error) {
	db := cfg.Coordinator.Storage.Database
	factory, err := internalstorage.NewDatabaseFactory(db.Type, db.DSN, sqlstore.PoolOptions{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		ConnMaxIdleTime: db.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("create database factory failed: %w", err)
	}
	return factory, nil
}
