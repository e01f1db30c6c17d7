package types

import (
	"strconv"
	"time"
)

// TaskID 构建任务ID（全局唯一、单调递增）
type TaskID int64

// String 返回十进制字符串
func (id TaskID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseTaskID 解析任务ID
func ParseTaskID(s string) (TaskID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TaskID(v), nil
}

// Fingerprint 构建指纹（"构建了什么"的不透明标记，用于判断是否过期）
type Fingerprint string

// BuildConfigRef 构建配置引用（调用方提供，不可变）
type BuildConfigRef struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name,omitempty" yaml:"name"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"depends_on"`
	Fingerprint  Fingerprint       `json:"fingerprint,omitempty" yaml:"fingerprint"`   // 当前修订的指纹
	BuildScript  string            `json:"build_script,omitempty" yaml:"build_script"` // 交给执行器的构建脚本
	RebuildMode  string            `json:"rebuild_mode,omitempty" yaml:"rebuild_mode"` // 可选，覆盖提交级别的重建模式
	Attributes   map[string]string `json:"attributes,omitempty" yaml:"attributes"`
}

// DisplayName 返回名称，未设置时返回ID
func (c BuildConfigRef) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// CompletionStatus 执行器侧的构建结果状态
type CompletionStatus string

const (
	CompletionSuccess     CompletionStatus = "SUCCESS"
	CompletionFailed      CompletionStatus = "FAILED"
	CompletionTimedOut    CompletionStatus = "TIMED_OUT"
	CompletionCancelled   CompletionStatus = "CANCELLED"
	CompletionSystemError CompletionStatus = "SYSTEM_ERROR"
)

// BuildResult 执行器返回的构建结果
type BuildResult struct {
	Status      CompletionStatus  `json:"status"`
	Fingerprint Fingerprint       `json:"fingerprint,omitempty"`
	Log         string            `json:"log,omitempty"`
	Error       string            `json:"error,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
}

// IsSuccess 是否构建成功
func (r BuildResult) IsSuccess() bool {
	return r.Status == CompletionSuccess
}

// Duration 构建耗时
func (r BuildResult) Duration() time.Duration {
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
