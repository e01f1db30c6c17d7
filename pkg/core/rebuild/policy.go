package rebuild

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// Reason 重建决策原因
type Reason string

const (
	ReasonForced             Reason = "FORCED"
	ReasonNeverBuilt         Reason = "NEVER_BUILT"
	ReasonFingerprintChanged Reason = "FINGERPRINT_CHANGED"
	ReasonDependencyChanged  Reason = "DEPENDENCY_CHANGED"
	ReasonDependencyRebuilt  Reason = "DEPENDENCY_REBUILT"
	ReasonUpToDate           Reason = "UP_TO_DATE"
	ReasonNoRebuild          Reason = "NO_REBUILD"
)

// Decision 单个配置的重建决策，在构图阶段一次性计算，运行期间不再重新评估
type Decision struct {
	MustBuild bool   `json:"must_build"`
	Forced    bool   `json:"forced"`  // 因 FORCE 模式而构建
	Changed   bool   `json:"changed"` // 自身或传递依赖的内容相对上次成功构建发生了变化
	Reason    Reason `json:"reason"`
	// Fingerprint 有效指纹：下游构建时实际使用的产物版本
	// 需要构建时为本次将产生的有效指纹，复用时为上次成功构建记录的有效指纹
	Fingerprint types.Fingerprint `json:"fingerprint,omitempty"`
}

// Input 决策输入
// Dependencies 为直接依赖的决策，调用方必须按依赖顺序计算（依赖先于被依赖方）
// LastFingerprint 为上次成功构建记录的有效指纹
type Input struct {
	Config          types.BuildConfigRef
	Mode            Mode
	LastFingerprint types.Fingerprint
	HasLastSuccess  bool
	Dependencies    []Decision
}

// Policy 可插拔的重建策略
type Policy interface {
	Decide(in Input) Decision
}

// PolicyFunc 函数适配器
type PolicyFunc func(in Input) Decision

// Decide 实现 Policy
func (f PolicyFunc) Decide(in Input) Decision {
	return f(in)
}

// DefaultPolicy 默认的四种模式实现
type DefaultPolicy struct{}

// EffectiveMode 配置级别的 RebuildMode 覆盖提交级别的模式，无法解析时忽略
func EffectiveMode(cfg types.BuildConfigRef, submission Mode) Mode {
	if cfg.RebuildMode != "" {
		if m, err := ParseMode(cfg.RebuildMode); err == nil {
			return m
		}
	}
	return submission
}

// depSeparator 有效指纹中自身指纹与依赖摘要的分隔符
const depSeparator = "+deps:"

// EffectiveFingerprint 将直接依赖的有效指纹折叠进配置自身的指纹
// 没有依赖时即为自身指纹；依赖的有效指纹已递归包含其传递依赖
func EffectiveFingerprint(own types.Fingerprint, deps []types.Fingerprint) types.Fingerprint {
	if len(deps) == 0 {
		return own
	}
	sorted := make([]string, len(deps))
	for i, d := range deps {
		sorted[i] = string(d)
	}
	slices.Sort(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return own + depSeparator + types.Fingerprint(hex.EncodeToString(sum[:])[:16])
}

// OwnFingerprint 有效指纹中配置自身的部分
func OwnFingerprint(effective types.Fingerprint) types.Fingerprint {
	if i := strings.LastIndex(string(effective), depSeparator); i >= 0 {
		return effective[:i]
	}
	return effective
}

// Decide 实现 Policy
func (DefaultPolicy) Decide(in Input) Decision {
	deps := make([]types.Fingerprint, 0, len(in.Dependencies))
	depChanged, depRebuilt := false, false
	for _, d := range in.Dependencies {
		deps = append(deps, d.Fingerprint)
		depChanged = depChanged || d.Changed
		depRebuilt = depRebuilt || d.MustBuild
	}
	effective := EffectiveFingerprint(in.Config.Fingerprint, deps)

	neverBuilt := !in.HasLastSuccess
	fpChanged := in.HasLastSuccess && OwnFingerprint(in.LastFingerprint) != in.Config.Fingerprint
	// 依赖产物与上次成功构建时不同（含上次本配置构建失败、依赖已在之前的提交中重建的情况）
	depChanged = depChanged || (in.HasLastSuccess && !fpChanged && in.LastFingerprint != effective)
	changed := neverBuilt || fpChanged || depChanged

	var d Decision
	switch EffectiveMode(in.Config, in.Mode) {
	case ModeNoRebuild:
		d = Decision{Reason: ReasonNoRebuild}
	case ModeImplicit:
		d = implicit(neverBuilt, fpChanged, depChanged)
	case ModeExplicit:
		d = implicit(neverBuilt, fpChanged, depChanged)
		if !d.MustBuild && depRebuilt {
			d = Decision{MustBuild: true, Reason: ReasonDependencyRebuilt}
		}
	default:
		d = Decision{MustBuild: true, Forced: true, Changed: changed, Reason: ReasonForced}
	}

	d.Fingerprint = effective
	if !d.MustBuild && in.HasLastSuccess {
		d.Fingerprint = in.LastFingerprint
	}
	return d
}

func implicit(neverBuilt, fpChanged, depChanged bool) Decision {
	switch {
	case neverBuilt:
		return Decision{MustBuild: true, Changed: true, Reason: ReasonNeverBuilt}
	case fpChanged:
		return Decision{MustBuild: true, Changed: true, Reason: ReasonFingerprintChanged}
	case depChanged:
		return Decision{MustBuild: true, Changed: true, Reason: ReasonDependencyChanged}
	default:
		return Decision{Reason: ReasonUpToDate}
	}
}
