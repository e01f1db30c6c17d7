package config

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/plugin"
)

// ValidateCoordinatorConfig 校验框架配置合法性
func ValidateCoordinatorConfig(cfg *CoordinatorConfig) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}
	co := cfg.Coordinator

	// 校验General
	if co.General.InstanceName == "" {
		return fmt.Errorf("instance_name不能为空")
	}
	if co.General.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[co.General.LogLevel] {
			return fmt.Errorf("log_level必须是debug/info/warn/error之一")
		}
	}

	// 校验Storage.Database
	if co.Storage.Database.Type == "" {
		return fmt.Errorf("database.type不能为空")
	}
	validDBTypes := map[string]bool{
		"sqlite":     true,
		"postgres":   true,
		"postgresql": true,
		"mysql":      true,
		"memory":     true,
	}
	if !validDBTypes[co.Storage.Database.Type] {
		return fmt.Errorf("database.type必须是sqlite/postgres/mysql/memory之一")
	}
	if co.Storage.Database.DSN == "" && co.Storage.Database.Type != "memory" {
		return fmt.Errorf("database.dsn不能为空")
	}
	if co.Storage.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns必须大于0")
	}
	if co.Storage.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns不能为负数")
	}

	// 校验Execution
	if co.Execution.DispatchWorkers <= 0 {
		return fmt.Errorf("execution.dispatch_workers必须大于0")
	}
	if co.Execution.ExecutorWorkers <= 0 {
		return fmt.Errorf("execution.executor_workers必须大于0")
	}
	if co.Execution.BuildTimeout < 0 {
		return fmt.Errorf("execution.build_timeout不能为负数")
	}
	switch co.Execution.BuildDriver {
	case "shell", "noop", "dry-run":
	default:
		return fmt.Errorf("execution.build_driver必须是shell/noop之一")
	}

	if _, err := rebuild.ParseMode(co.Rebuild.DefaultMode); err != nil {
		return fmt.Errorf("rebuild.default_mode无效: %w", err)
	}

	// 校验Schedules
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	names := make(map[string]bool)
	for i, s := range co.Schedules {
		if s.Name == "" {
			return fmt.Errorf("schedules[%d].name不能为空", i)
		}
		if names[s.Name] {
			return fmt.Errorf("schedules中存在重复的name: %s", s.Name)
		}
		names[s.Name] = true
		if s.GraphFile == "" {
			return fmt.Errorf("schedules[%d].graph_file不能为空", i)
		}
		if _, err := parser.Parse(s.Cron); err != nil {
			return fmt.Errorf("schedules[%d].cron无效: %w", i, err)
		}
		if s.Mode != "" {
			if _, err := rebuild.ParseMode(s.Mode); err != nil {
				return fmt.Errorf("schedules[%d].mode无效: %w", i, err)
			}
		}
	}

	// 校验Plugins
	pluginNames := make(map[string]bool)
	for i, p := range co.Plugins {
		if p.Name != "email" && p.Name != "webhook" {
			return fmt.Errorf("plugins[%d].name必须是email/webhook之一", i)
		}
		if pluginNames[p.Name] {
			return fmt.Errorf("plugins中存在重复的name: %s", p.Name)
		}
		pluginNames[p.Name] = true
		if len(p.Events) == 0 {
			return fmt.Errorf("plugins[%d].events不能为空", i)
		}
		for _, ev := range p.Events {
			if _, err := plugin.ParseTriggerEvent(ev); err != nil {
				return fmt.Errorf("plugins[%d].events无效: %w", i, err)
			}
		}
	}

	return nil
}
