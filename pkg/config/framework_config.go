package config

import (
	"time"
)

// CoordinatorConfig 构建协调器框架配置（对外导出）
type CoordinatorConfig struct {
	Coordinator struct {
		General struct {
			InstanceName string `yaml:"instance_name"`
			LogLevel     string `yaml:"log_level"`
			Env          string `yaml:"env"`
		} `yaml:"general"`
		Storage struct {
			Database DatabaseConfig `yaml:"database"`
			Cache    struct {
				Enabled       bool          `yaml:"enabled"`
				DefaultTTL    time.Duration `yaml:"default_ttl"`
				CleanInterval time.Duration `yaml:"clean_interval"`
			} `yaml:"cache"`
		} `yaml:"storage"`
		Execution struct {
			DispatchWorkers   int           `yaml:"dispatch_workers"`
			DispatchQueueSize int           `yaml:"dispatch_queue_size"`
			ExecutorWorkers   int           `yaml:"executor_workers"`
			ExecutorQueueSize int           `yaml:"executor_queue_size"`
			BuildTimeout      time.Duration `yaml:"build_timeout"`
			BuildDriver       string        `yaml:"build_driver"` // shell / noop
		} `yaml:"execution"`
		Rebuild struct {
			DefaultMode string `yaml:"default_mode"`
		} `yaml:"rebuild"`
		Notification struct {
			BufferSize     int64 `yaml:"buffer_size"`
			TerminalMemory int   `yaml:"terminal_memory"`
			Debug          bool  `yaml:"debug"`
		} `yaml:"notification"`
		Retention struct {
			FinishedSets int `yaml:"finished_sets"`
		} `yaml:"retention"`
		Schedules []ScheduleConfig `yaml:"schedules"`
		Plugins   []PluginConfig   `yaml:"plugins"`
	} `yaml:"build-coordinator"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type            string        `yaml:"type"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// ScheduleConfig 定时组构建
type ScheduleConfig struct {
	Name      string `yaml:"name"`
	Cron      string `yaml:"cron"`       // 支持秒级: "0 */5 * * * *"
	GraphFile string `yaml:"graph_file"` // 配置集 YAML 路径
	Mode      string `yaml:"mode"`       // 为空时使用 rebuild.default_mode
	Disabled  bool   `yaml:"disabled"`
}

// PluginConfig 构建事件插件
type PluginConfig struct {
	Name    string            `yaml:"name"`    // email / webhook
	Events  []string          `yaml:"events"`  // 如 set.failed、task.failed
	Configs []string          `yaml:"configs"` // 仅关注这些配置的任务事件，为空表示全部
	Params  map[string]string `yaml:"params"`
}

// GetDatabaseType 获取数据库类型
func (c *CoordinatorConfig) GetDatabaseType() string {
	return c.Coordinator.Storage.Database.Type
}

// GetDatabaseDSN 获取数据库DSN
func (c *CoordinatorConfig) GetDatabaseDSN() string {
	return c.Coordinator.Storage.Database.DSN
}

// GetExecutorWorkers 获取执行器并发数
func (c *CoordinatorConfig) GetExecutorWorkers() int {
	workers := c.Coordinator.Execution.ExecutorWorkers
	if workers <= 0 {
		return 4 // 默认值
	}
	return workers
}

// GetFingerprintCacheTTL 指纹缓存有效期，未启用缓存时为0
func (c *CoordinatorConfig) GetFingerprintCacheTTL() time.Duration {
	if !c.Coordinator.Storage.Cache.Enabled {
		return 0
	}
	return c.Coordinator.Storage.Cache.DefaultTTL
}

// ApplyDefaults 应用默认值
func (c *CoordinatorConfig) ApplyDefaults() {
	co := &c.Coordinator

	// General默认值
	if co.General.InstanceName == "" {
		co.General.InstanceName = "build-coordinator"
	}
	if co.General.LogLevel == "" {
		co.General.LogLevel = "info"
	}
	if co.General.Env == "" {
		co.General.Env = "dev"
	}

	// Database默认值
	if co.Storage.Database.Type == "" {
		co.Storage.Database.Type = "sqlite"
	}
	if co.Storage.Database.DSN == "" && co.Storage.Database.Type == "sqlite" {
		co.Storage.Database.DSN = "./data/build-coordinator.db"
	}
	if co.Storage.Database.MaxOpenConns <= 0 {
		co.Storage.Database.MaxOpenConns = 10
	}
	if co.Storage.Database.MaxIdleConns <= 0 {
		co.Storage.Database.MaxIdleConns = 5
	}
	if co.Storage.Database.ConnMaxLifetime <= 0 {
		co.Storage.Database.ConnMaxLifetime = 2 * time.Hour
	}
	if co.Storage.Database.ConnMaxIdleTime <= 0 {
		co.Storage.Database.ConnMaxIdleTime = 1 * time.Hour
	}

	// Cache默认值
	if co.Storage.Cache.DefaultTTL <= 0 {
		co.Storage.Cache.DefaultTTL = 10 * time.Minute
	}
	if co.Storage.Cache.CleanInterval <= 0 {
		co.Storage.Cache.CleanInterval = 5 * time.Minute
	}

	// Execution默认值
	if co.Execution.DispatchWorkers <= 0 {
		co.Execution.DispatchWorkers = 4
	}
	if co.Execution.DispatchQueueSize <= 0 {
		co.Execution.DispatchQueueSize = 1024
	}
	if co.Execution.ExecutorWorkers <= 0 {
		co.Execution.ExecutorWorkers = 4
	}
	if co.Execution.ExecutorQueueSize <= 0 {
		co.Execution.ExecutorQueueSize = 1024
	}
	if co.Execution.BuildTimeout <= 0 {
		co.Execution.BuildTimeout = 30 * time.Minute
	}
	if co.Execution.BuildDriver == "" {
		co.Execution.BuildDriver = "shell"
	}

	if co.Rebuild.DefaultMode == "" {
		co.Rebuild.DefaultMode = "IMPLICIT_DEPENDENCY_CHECK"
	}

	if co.Notification.BufferSize <= 0 {
		co.Notification.BufferSize = 1024
	}
	if co.Notification.TerminalMemory <= 0 {
		co.Notification.TerminalMemory = 4096
	}

	if co.Retention.FinishedSets <= 0 {
		co.Retention.FinishedSets = 256
	}
}
