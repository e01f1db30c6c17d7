// Package rebuild 决定每个构建配置在本次提交中是否需要重新构建
package rebuild

import (
	"errors"
	"fmt"
	"strings"
)

// Mode 重建模式
type Mode string

const (
	// ModeForce 总是重建
	ModeForce Mode = "FORCE"
	// ModeImplicit 仅当自身或任一依赖发生变化时重建
	ModeImplicit Mode = "IMPLICIT_DEPENDENCY_CHECK"
	// ModeExplicit 同 ModeImplicit，且任一依赖在本次提交中被重建时也重建
	ModeExplicit Mode = "EXPLICIT_DEPENDENCY_CHECK"
	// ModeNoRebuild 从不重建，复用上次成功的结果（即使已过期）
	ModeNoRebuild Mode = "NO_REBUILD"
)

// ErrUnknownMode 未知的重建模式
var ErrUnknownMode = errors.New("未知的重建模式")

// IsValid 检查模式是否有效
func (m Mode) IsValid() bool {
	switch m {
	case ModeForce, ModeImplicit, ModeExplicit, ModeNoRebuild:
		return true
	}
	return false
}

// ParseMode 解析重建模式，忽略大小写，支持简写（force/implicit/explicit/none）
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FORCE":
		return ModeForce, nil
	case "IMPLICIT", "IMPLICIT_DEPENDENCY_CHECK":
		return ModeImplicit, nil
	case "EXPLICIT", "EXPLICIT_DEPENDENCY_CHECK":
		return ModeExplicit, nil
	case "NONE", "NO_REBUILD":
		return ModeNoRebuild, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}
