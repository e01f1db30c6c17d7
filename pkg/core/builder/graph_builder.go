// Package builder 将一次提交的构建配置转换为带依赖图的组构建
package builder

import (
	"context"
	"fmt"
	"log"

	"github.com/LENAX/build-coordinator/pkg/core/dag"
	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// Submission 一次提交
type Submission struct {
	Name     string
	RecordID string
	Configs  []types.BuildConfigRef
	Mode     rebuild.Mode // 为空时使用 rebuild.ModeImplicit
	Cause    string
}

// GraphBuilder 组构建构造器
type GraphBuilder struct {
	ids    task.IDSupplier
	policy rebuild.Policy
	oracle rebuild.Oracle
}

// NewGraphBuilder 创建构造器，policy 为nil时使用 rebuild.DefaultPolicy
func NewGraphBuilder(ids task.IDSupplier, policy rebuild.Policy, oracle rebuild.Oracle) *GraphBuilder {
	if policy == nil {
		policy = rebuild.DefaultPolicy{}
	}
	return &GraphBuilder{ids: ids, policy: policy, oracle: oracle}
}

// Build 构建组构建
// 1. 由配置声明的依赖构建依赖图
// 2. 循环检测，存在环时整体拒绝，不创建任何任务
// 3. 按依赖顺序逐个决策是否需要重建，无需重建的任务直接为 DONE
// 4. 通过 IDSupplier 分配任务ID
// 任一步骤失败都不会返回部分构建的结果
func (b *GraphBuilder) Build(ctx context.Context, sub Submission) (*task.BuildSetTask, error) {
	return b.build(ctx, sub, false)
}

// BuildStandalone 为单个配置构建独立任务
// 独立任务不在提交内解析依赖，声明的依赖视为已由调用方保证
// 返回承载该任务的隐藏组构建，供协调器提交
func (b *GraphBuilder) BuildStandalone(ctx context.Context, cfg types.BuildConfigRef, mode rebuild.Mode, cause string) (*task.BuildSetTask, *task.BuildTask, error) {
	standalone := cfg
	standalone.Dependencies = nil
	set, err := b.build(ctx, Submission{
		Name:    cfg.DisplayName(),
		Configs: []types.BuildConfigRef{standalone},
		Mode:    mode,
		Cause:   cause,
	}, true)
	if err != nil {
		return nil, nil, err
	}
	return set, set.Tasks()[0], nil
}

func (b *GraphBuilder) build(ctx context.Context, sub Submission, standalone bool) (*task.BuildSetTask, error) {
	if len(sub.Configs) == 0 {
		return nil, ErrEmptySubmission
	}
	mode := sub.Mode
	if mode == "" {
		mode = rebuild.ModeImplicit
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: %q", rebuild.ErrUnknownMode, mode)
	}

	// 1. 配置级依赖图
	graph := dag.NewGraph[string, types.BuildConfigRef]()
	for _, cfg := range sub.Configs {
		if cfg.ID == "" {
			return nil, ErrEmptyConfigID
		}
		if _, added := graph.AddNode(cfg.ID, cfg); !added {
			return nil, &DuplicateConfigError{ConfigID: cfg.ID}
		}
	}
	for _, cfg := range sub.Configs {
		var missing []string
		for _, dep := range cfg.Dependencies {
			if !graph.Has(dep) {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			return nil, &MissingDependencyError{ConfigID: cfg.ID, Missing: missing}
		}
		for _, dep := range cfg.Dependencies {
			if err := graph.AddEdge(cfg.ID, dep); err != nil {
				return nil, fmt.Errorf("添加依赖失败: %s -> %s: %w", cfg.ID, dep, err)
			}
		}
	}

	// 2. 循环检测 + 拓扑分层
	compiled, err := graph.Compile()
	if err != nil {
		return nil, err
	}
	order, err := compiled.TopologicalSort()
	if err != nil {
		return nil, err
	}

	// 3. 按依赖顺序决策
	decisions := make(map[string]rebuild.Decision, graph.Len())
	for _, level := range order.Levels {
		for _, configID := range level {
			cfg, _ := graph.Get(configID)
			d, err := b.decide(ctx, cfg, mode, graph.Dependencies(configID), decisions)
			if err != nil {
				return nil, err
			}
			decisions[configID] = d
		}
	}

	// 4. 创建任务（按依赖顺序分配ID）
	set := task.NewBuildSetTask(task.SetOptions{
		Name:       sub.Name,
		RecordID:   sub.RecordID,
		Mode:       mode,
		Cause:      sub.Cause,
		Standalone: standalone,
	})
	taskIDs := make(map[string]types.TaskID, graph.Len())
	for _, level := range order.Levels {
		for _, configID := range level {
			cfg, _ := graph.Get(configID)
			bt := task.NewBuildTask(b.ids.Next(), cfg, decisions[configID])
			set.AddTask(bt)
			taskIDs[configID] = bt.ID()
		}
	}
	for _, configID := range graph.Nodes() {
		for _, dep := range graph.Dependencies(configID) {
			if err := set.AddDependency(taskIDs[configID], taskIDs[dep]); err != nil {
				return nil, fmt.Errorf("添加任务依赖失败: %w", err)
			}
		}
	}

	// 无需重建的任务短路为 DONE，下游就绪判断统一处理
	reused := 0
	for _, bt := range set.Tasks() {
		if bt.Reused() {
			if _, err := bt.Transition(types.StatusDone, "复用上次构建结果: "+string(bt.Decision().Reason)); err != nil {
				return nil, err
			}
			reused++
		}
	}

	log.Printf("✅ 组构建已创建: SetID=%s, Name=%s, Tasks=%d, Reused=%d, Mode=%s",
		set.ID(), sub.Name, set.Len(), reused, mode)
	return set, nil
}

func (b *GraphBuilder) decide(ctx context.Context, cfg types.BuildConfigRef, mode rebuild.Mode, deps []string, decided map[string]rebuild.Decision) (rebuild.Decision, error) {
	in := rebuild.Input{Config: cfg, Mode: mode}
	if b.oracle != nil {
		fp, ok, err := b.oracle.LastSuccessfulFingerprint(ctx, cfg.ID)
		if err != nil {
			return rebuild.Decision{}, fmt.Errorf("查询构建指纹失败: ConfigID=%s: %w", cfg.ID, err)
		}
		in.LastFingerprint, in.HasLastSuccess = fp, ok
	}
	for _, dep := range deps {
		in.Dependencies = append(in.Dependencies, decided[dep])
	}
	return b.policy.Decide(in), nil
}
