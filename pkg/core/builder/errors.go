package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LENAX/build-coordinator/pkg/core/dag"
	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
)

var (
	// ErrEmptySubmission 提交中没有任何构建配置
	ErrEmptySubmission = errors.New("提交中没有任何构建配置")
	// ErrEmptyConfigID 构建配置ID为空
	ErrEmptyConfigID = errors.New("构建配置ID为空")
)

// DuplicateConfigError 同一提交中出现重复的配置ID
type DuplicateConfigError struct {
	ConfigID string
}

func (e *DuplicateConfigError) Error() string {
	return fmt.Sprintf("重复的构建配置: %s", e.ConfigID)
}

// MissingDependencyError 配置引用了提交中不存在的依赖
type MissingDependencyError struct {
	ConfigID string
	Missing  []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("构建配置 %s 引用了不存在的依赖: %s", e.ConfigID, strings.Join(e.Missing, ", "))
}

// IsConfigurationError 是否为配置错误（构图阶段发现，不应自动重试）
// 指纹查询等存储错误不属于配置错误
func IsConfigurationError(err error) bool {
	if err == nil {
		return false
	}
	var dup *DuplicateConfigError
	var missing *MissingDependencyError
	return errors.Is(err, ErrEmptySubmission) ||
		errors.Is(err, ErrEmptyConfigID) ||
		errors.Is(err, rebuild.ErrUnknownMode) ||
		errors.Is(err, dag.ErrCycleDetected) ||
		errors.As(err, &dup) ||
		errors.As(err, &missing)
}
