package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/build-coordinator/pkg/api"
	"github.com/LENAX/build-coordinator/pkg/core/engine"
)

const testCoordinatorYAML = `
build-coordinator:
  storage:
    database:
      type: memory
  execution:
    build_driver: noop
`

const testGraphYAML = `
name: product
configs:
  - id: core
    build_script: make core
  - id: app
    depends_on: [core]
    build_script: make app
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute 以给定参数运行根命令，每次执行前重置全局参数
func execute(t *testing.T, args ...string) error {
	t.Helper()
	serverURL, outputJSON, configPath = "http://localhost:8080", false, ""
	planMode, runMode, runCause = "", "", "cli"
	setMode, setCause, setWatch, setStatus, setConfigID, setLimit = "", "cli", false, "", "", 20
	rootCmd.SetArgs(args)
	rootCmd.SetContext(context.Background())
	return rootCmd.Execute()
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	defer rootCmd.SetOut(nil)

	require.NoError(t, execute(t, "version"))
	assert.Contains(t, buf.String(), "Build Coordinator CLI")
	assert.Contains(t, buf.String(), Version)
}

func TestPlanCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "coordinator.yaml", testCoordinatorYAML)
	graph := writeFile(t, dir, "graph.yaml", testGraphYAML)

	require.NoError(t, execute(t, "plan", graph, "--config", cfg))
	require.NoError(t, execute(t, "plan", graph, "--config", cfg, "--mode", "explicit", "--json"))

	assert.Error(t, execute(t, "plan", graph, "--config", cfg, "--mode", "sometimes"))
	assert.Error(t, execute(t, "plan", filepath.Join(dir, "missing.yaml"), "--config", cfg))

	cyclic := writeFile(t, dir, "cyclic.yaml", "configs:\n  - id: a\n    depends_on: [b]\n  - id: b\n    depends_on: [a]\n")
	assert.Error(t, execute(t, "plan", cyclic, "--config", cfg))
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "coordinator.yaml", testCoordinatorYAML)
	graph := writeFile(t, dir, "graph.yaml", testGraphYAML)

	require.NoError(t, execute(t, "run", graph, "--config", cfg))

	broken := writeFile(t, dir, "broken.yaml", "configs:\n  - id: a\n    depends_on: [missing]\n")
	assert.Error(t, execute(t, "run", broken, "--config", cfg), "被拒绝的组构建返回错误")
}

func TestSetCommands_AgainstServer(t *testing.T) {
	dir := t.TempDir()
	graph := writeFile(t, dir, "graph.yaml", testGraphYAML)

	eng, err := engine.NewEngineBuilder(writeFile(t, dir, "coordinator.yaml", testCoordinatorYAML)).Build()
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()
	srv := httptest.NewServer(api.SetupRouter(eng, Version))
	defer srv.Close()

	require.NoError(t, execute(t, "set", "submit", graph, "--server", srv.URL, "--watch"))
	require.NoError(t, execute(t, "set", "list", "--server", srv.URL))

	require.Eventually(t, func() bool { return len(eng.RecentSets()) == 1 }, 5*time.Second, 10*time.Millisecond)
	setID := eng.RecentSets()[0].ID()
	require.NoError(t, execute(t, "set", "status", setID, "--server", srv.URL))
	require.NoError(t, execute(t, "set", "records", setID, "--server", srv.URL, "--json"))
	assert.Error(t, execute(t, "set", "cancel", setID, "--server", srv.URL), "已完成的组构建不能取消")
	assert.Error(t, execute(t, "set", "status", "missing", "--server", srv.URL))

	cyclic := writeFile(t, dir, "cyclic.yaml", "configs:\n  - id: a\n    depends_on: [b]\n  - id: b\n    depends_on: [a]\n")
	assert.Error(t, execute(t, "set", "submit", cyclic, "--server", srv.URL))
}
