package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 环境变量覆盖
const (
	EnvDBType = "BUILD_COORDINATOR_DB_TYPE"
	EnvDBDSN  = "BUILD_COORDINATOR_DB_DSN"
)

// LoadCoordinatorConfig 加载框架配置
// 先加载工作目录下的 .env（不存在时忽略），配置文件不存在时使用默认配置，随后应用环境变量覆盖与默认值
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	_ = godotenv.Load()

	cfg := &CoordinatorConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// 使用默认配置
		case err != nil:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件失败: %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()
	return cfg, nil
}

func applyEnvOverrides(cfg *CoordinatorConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvDBType)); v != "" {
		cfg.Coordinator.Storage.Database.Type = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBDSN)); v != "" {
		cfg.Coordinator.Storage.Database.DSN = v
	}
}
