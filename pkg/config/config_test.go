package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadCoordinatorConfig(t *testing.T) {
	path := writeFile(t, "coordinator.yaml", `
build-coordinator:
  general:
    instance_name: "ci"
    log_level: "debug"
  storage:
    database:
      type: "sqlite"
      dsn: "./ci.db"
      max_open_conns: 5
    cache:
      enabled: true
      default_ttl: "2m"
  execution:
    dispatch_workers: 2
    executor_workers: 8
    build_timeout: "90s"
    build_driver: noop
  rebuild:
    default_mode: explicit
  schedules:
    - name: nightly
      cron: "0 0 2 * * *"
      graph_file: ./graphs/nightly.yaml
  plugins:
    - name: webhook
      events: [set.failed, task.failed]
      configs: [core]
      params:
        url: http://ci.local/hooks/build
`)
	cfg, err := LoadCoordinatorConfig(path)
	require.NoError(t, err)
	require.NoError(t, ValidateCoordinatorConfig(cfg))

	co := cfg.Coordinator
	assert.Equal(t, "ci", co.General.InstanceName)
	assert.Equal(t, "sqlite", cfg.GetDatabaseType())
	assert.Equal(t, "./ci.db", cfg.GetDatabaseDSN())
	assert.Equal(t, 5, co.Storage.Database.MaxOpenConns)
	assert.Equal(t, 2*time.Minute, cfg.GetFingerprintCacheTTL())
	assert.Equal(t, 2, co.Execution.DispatchWorkers)
	assert.Equal(t, 8, cfg.GetExecutorWorkers())
	assert.Equal(t, 90*time.Second, co.Execution.BuildTimeout)
	require.Len(t, co.Schedules, 1)
	assert.Equal(t, "nightly", co.Schedules[0].Name)
	require.Len(t, co.Plugins, 1)
	assert.Equal(t, []string{"set.failed", "task.failed"}, co.Plugins[0].Events)
	assert.Equal(t, []string{"core"}, co.Plugins[0].Configs)
	assert.Equal(t, "http://ci.local/hooks/build", co.Plugins[0].Params["url"])

	// 默认值
	assert.Equal(t, 1024, co.Execution.DispatchQueueSize)
	assert.Equal(t, 256, co.Retention.FinishedSets)
}

func TestLoadCoordinatorConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadCoordinatorConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, ValidateCoordinatorConfig(cfg))
	assert.Equal(t, "build-coordinator", cfg.Coordinator.General.InstanceName)
	assert.Equal(t, "sqlite", cfg.GetDatabaseType())
	assert.NotEmpty(t, cfg.GetDatabaseDSN())
	assert.Equal(t, time.Duration(0), cfg.GetFingerprintCacheTTL(), "缓存默认关闭")
}

func TestLoadCoordinatorConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDBType, "memory")
	t.Setenv(EnvDBDSN, "")
	cfg, err := LoadCoordinatorConfig("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.GetDatabaseType())
	require.NoError(t, ValidateCoordinatorConfig(cfg))
}

func TestLoadCoordinatorConfig_InvalidYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "build-coordinator: [")
	_, err := LoadCoordinatorConfig(path)
	assert.Error(t, err)
}

func TestValidateCoordinatorConfig(t *testing.T) {
	valid := func() *CoordinatorConfig {
		cfg := &CoordinatorConfig{}
		cfg.ApplyDefaults()
		return cfg
	}
	require.NoError(t, ValidateCoordinatorConfig(valid()))
	assert.Error(t, ValidateCoordinatorConfig(nil))

	cases := map[string]func(*CoordinatorConfig){
		"log level":    func(c *CoordinatorConfig) { c.Coordinator.General.LogLevel = "verbose" },
		"db type":      func(c *CoordinatorConfig) { c.Coordinator.Storage.Database.Type = "oracle" },
		"dsn":          func(c *CoordinatorConfig) { c.Coordinator.Storage.Database.DSN = "" },
		"build driver": func(c *CoordinatorConfig) { c.Coordinator.Execution.BuildDriver = "docker" },
		"mode":         func(c *CoordinatorConfig) { c.Coordinator.Rebuild.DefaultMode = "sometimes" },
		"cron": func(c *CoordinatorConfig) {
			c.Coordinator.Schedules = []ScheduleConfig{{Name: "x", Cron: "every day", GraphFile: "g.yaml"}}
		},
		"schedule name": func(c *CoordinatorConfig) {
			c.Coordinator.Schedules = []ScheduleConfig{{Cron: "@daily", GraphFile: "g.yaml"}}
		},
		"plugin name": func(c *CoordinatorConfig) {
			c.Coordinator.Plugins = []PluginConfig{{Name: "sms", Events: []string{"set.done"}}}
		},
		"plugin event": func(c *CoordinatorConfig) {
			c.Coordinator.Plugins = []PluginConfig{{Name: "webhook", Events: []string{"set.exploded"}}}
		},
		"plugin without events": func(c *CoordinatorConfig) {
			c.Coordinator.Plugins = []PluginConfig{{Name: "email"}}
		},
		"duplicate schedule": func(c *CoordinatorConfig) {
			c.Coordinator.Schedules = []ScheduleConfig{
				{Name: "x", Cron: "@daily", GraphFile: "g.yaml"},
				{Name: "x", Cron: "@hourly", GraphFile: "g.yaml"},
			}
		},
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		assert.Error(t, ValidateCoordinatorConfig(cfg), name)
	}
}

func TestParseGraphFile(t *testing.T) {
	g, err := ParseGraphFile([]byte(`
name: product
mode: force
configs:
  - id: core
    build_script: make core
  - id: app
    depends_on: [core]
    fingerprint: v42
    build_script: make app
    attributes:
      target: linux
`))
	require.NoError(t, err)
	require.Len(t, g.Configs, 2)
	assert.Equal(t, []string{"core"}, g.Configs[1].Dependencies)
	assert.Equal(t, "v42", string(g.Configs[1].Fingerprint))
	assert.NotEmpty(t, g.Configs[0].Fingerprint, "未声明指纹时使用内容指纹")
	assert.Equal(t, "linux", g.Configs[1].Attributes["target"])

	mode, err := g.RebuildMode(rebuild.ModeImplicit)
	require.NoError(t, err)
	assert.Equal(t, rebuild.ModeForce, mode)

	g.Mode = ""
	mode, err = g.RebuildMode(rebuild.ModeExplicit)
	require.NoError(t, err)
	assert.Equal(t, rebuild.ModeExplicit, mode)

	_, err = ParseGraphFile([]byte("name: empty\n"))
	assert.Error(t, err)
}

func TestLoadGraphFile(t *testing.T) {
	path := writeFile(t, "graph.yaml", "configs:\n  - id: a\n")
	g, err := LoadGraphFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, g.SourcePath)
	assert.Equal(t, path, g.Name)

	_, err = LoadGraphFile(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestContentFingerprint(t *testing.T) {
	g1, err := ParseGraphFile([]byte("configs:\n  - id: a\n    build_script: make\n    attributes: {x: '1', y: '2'}\n"))
	require.NoError(t, err)
	g2, err := ParseGraphFile([]byte("configs:\n  - id: a\n    build_script: make\n    attributes: {y: '2', x: '1'}\n"))
	require.NoError(t, err)
	g3, err := ParseGraphFile([]byte("configs:\n  - id: a\n    build_script: make all\n"))
	require.NoError(t, err)

	assert.Equal(t, g1.Configs[0].Fingerprint, g2.Configs[0].Fingerprint, "属性顺序不影响指纹")
	assert.NotEqual(t, g1.Configs[0].Fingerprint, g3.Configs[0].Fingerprint)
}
