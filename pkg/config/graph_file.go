package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// GraphFile 配置集描述文件（CLI、定时任务和 API 共用）
//
//	name: nightly
//	mode: IMPLICIT_DEPENDENCY_CHECK
//	configs:
//	  - id: core
//	    build_script: make core
//	  - id: app
//	    depends_on: [core]
//	    build_script: make app
type GraphFile struct {
	Name     string                 `yaml:"name" json:"name"`
	RecordID string                 `yaml:"record_id" json:"record_id,omitempty"`
	Mode     string                 `yaml:"mode" json:"mode,omitempty"`
	Configs  []types.BuildConfigRef `yaml:"configs" json:"configs"`

	SourcePath string `yaml:"-" json:"-"`
}

// LoadGraphFile 从文件加载配置集
func LoadGraphFile(path string) (*GraphFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置集文件失败: %w", err)
	}
	g, err := ParseGraphFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	g.SourcePath = path
	if g.Name == "" {
		g.Name = path
	}
	return g, nil
}

// ParseGraphFile 解析配置集 YAML，未声明指纹的配置使用内容指纹
func ParseGraphFile(data []byte) (*GraphFile, error) {
	var g GraphFile
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("解析配置集失败: %w", err)
	}
	if len(g.Configs) == 0 {
		return nil, fmt.Errorf("配置集不能为空")
	}
	g.ResolveFingerprints()
	return &g, nil
}

// ResolveFingerprints 为未声明指纹的配置填充内容指纹
func (g *GraphFile) ResolveFingerprints() {
	for i := range g.Configs {
		if g.Configs[i].Fingerprint == "" {
			g.Configs[i].Fingerprint = ContentFingerprint(g.Configs[i])
		}
	}
}

// RebuildMode 配置集声明的重建模式，未声明时使用 fallback
func (g *GraphFile) RebuildMode(fallback rebuild.Mode) (rebuild.Mode, error) {
	if g.Mode == "" {
		return fallback, nil
	}
	return rebuild.ParseMode(g.Mode)
}

// ContentFingerprint 由构建脚本、依赖和属性计算的内容指纹
func ContentFingerprint(cfg types.BuildConfigRef) types.Fingerprint {
	h := sha256.New()
	fmt.Fprintf(h, "script=%s\n", cfg.BuildScript)

	deps := append([]string(nil), cfg.Dependencies...)
	sort.Strings(deps)
	for _, d := range deps {
		fmt.Fprintf(h, "dep=%s\n", d)
	}

	keys := make([]string, 0, len(cfg.Attributes))
	for k := range cfg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "attr=%s=%s\n", k, cfg.Attributes[k])
	}
	return types.Fingerprint(hex.EncodeToString(h.Sum(nil))[:16])
}
