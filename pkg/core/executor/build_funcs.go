package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// maxLogBytes 保留的构建日志上限（保留尾部）
const maxLogBytes = 64 * 1024

// BuildFunc 实际执行构建的函数
// ctx 在超时或取消时结束，执行器据此把结果改写为 TIMED_OUT / CANCELLED
type BuildFunc func(ctx context.Context, req BuildRequest) types.BuildResult

// NoopBuildFunc 模拟构建（演练模式），等待 delay 后成功
func NoopBuildFunc(delay time.Duration) BuildFunc {
	return func(ctx context.Context, req BuildRequest) types.BuildResult {
		start := time.Now()
		if delay > 0 {
			select {
			case <-ctx.Done():
				return types.BuildResult{Status: types.CompletionFailed, Error: ctx.Err().Error(), StartTime: start, EndTime: time.Now()}
			case <-time.After(delay):
			}
		}
		return types.BuildResult{
			Status:      types.CompletionSuccess,
			Fingerprint: req.Config.Fingerprint,
			Log:         fmt.Sprintf("dry run: %s", req.Config.DisplayName()),
			StartTime:   start,
			EndTime:     time.Now(),
		}
	}
}

// ShellBuildFunc 使用 shell 执行配置中的构建脚本
// 构建属性以 BUILD_ATTR_<KEY> 环境变量传入
func ShellBuildFunc(shell string) BuildFunc {
	if shell == "" {
		shell = "sh"
	}
	return func(ctx context.Context, req BuildRequest) types.BuildResult {
		start := time.Now()
		script := strings.TrimSpace(req.Config.BuildScript)
		if script == "" {
			return types.BuildResult{
				Status:      types.CompletionSuccess,
				Fingerprint: req.Config.Fingerprint,
				Log:         "构建脚本为空，跳过",
				StartTime:   start,
				EndTime:     time.Now(),
			}
		}

		cmd := exec.CommandContext(ctx, shell, "-c", script)
		cmd.Env = append(cmd.Environ(), buildEnv(req)...)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		err := cmd.Run()
		result := types.BuildResult{
			Fingerprint: req.Config.Fingerprint,
			Log:         tail(out.String(), maxLogBytes),
			StartTime:   start,
			EndTime:     time.Now(),
		}
		if err != nil {
			result.Status = types.CompletionFailed
			result.Error = err.Error()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				result.Attributes = map[string]string{"exit_code": fmt.Sprint(exitErr.ExitCode())}
			}
			return result
		}
		result.Status = types.CompletionSuccess
		return result
	}
}

// BuildFuncByName 根据驱动名称选择构建函数（shell / noop）
func BuildFuncByName(name string) (BuildFunc, error) {
	switch strings.ToLower(name) {
	case "", "shell":
		return ShellBuildFunc("sh"), nil
	case "noop", "dry-run":
		return NoopBuildFunc(0), nil
	}
	return nil, fmt.Errorf("未知的构建驱动: %s", name)
}

func buildEnv(req BuildRequest) []string {
	env := []string{
		"BUILD_TASK_ID=" + req.TaskID.String(),
		"BUILD_SET_ID=" + req.SetID,
		"BUILD_CONFIG_ID=" + req.Config.ID,
		"BUILD_FINGERPRINT=" + string(req.Config.Fingerprint),
	}
	keys := make([]string, 0, len(req.Config.Attributes))
	for k := range req.Config.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, "BUILD_ATTR_"+strings.ToUpper(k)+"="+req.Config.Attributes[k])
	}
	return env
}

// tail 保留末尾至多 n 字节，起点对齐到 UTF-8 字符边界
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
