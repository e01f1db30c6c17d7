package cmd

import (
	"fmt"
	"os"

	"github.com/LENAX/build-coordinator/pkg/cli/output"
	"github.com/LENAX/build-coordinator/pkg/core/engine"
)

// defaultConfigPaths 未指定 --config 时依次尝试的配置文件
var defaultConfigPaths = []string{
	"./configs/coordinator.yaml",
	"./config/coordinator.yaml",
	"./coordinator.yaml",
}

// resolveConfigPath 返回要使用的配置文件，找不到时返回空串（使用默认配置）
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// newLocalEngine 按配置文件创建进程内引擎
func newLocalEngine() (*engine.Engine, error) {
	path := resolveConfigPath()
	if path != "" && !outputJSON {
		output.Info("使用配置文件: %s", path)
	}
	eng, err := engine.NewEngineBuilder(path).Build()
	if err != nil {
		return nil, fmt.Errorf("创建Engine失败: %w", err)
	}
	return eng, nil
}
