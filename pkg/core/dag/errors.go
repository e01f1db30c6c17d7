package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNodeNotFound 节点不存在
	ErrNodeNotFound = errors.New("节点不存在")
	// ErrCycleDetected 检测到循环依赖
	ErrCycleDetected = errors.New("检测到循环依赖")
)

// CycleError 循环依赖错误，Path 为闭合的环路径（首尾相同）
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Path) == 0 {
		return ErrCycleDetected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycleDetected.Error(), strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

func nodeNotFound(id any) error {
	return fmt.Errorf("%w: %v", ErrNodeNotFound, id)
}
