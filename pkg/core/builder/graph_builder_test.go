package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/build-coordinator/pkg/core/dag"
	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

func ref(id, fp string, deps ...string) types.BuildConfigRef {
	return types.BuildConfigRef{ID: id, Fingerprint: types.Fingerprint(fp), Dependencies: deps}
}

func newBuilder(oracle rebuild.Oracle) (*GraphBuilder, *task.SequenceIDSupplier) {
	ids := task.NewSequenceIDSupplier(0)
	return NewGraphBuilder(ids, nil, oracle), ids
}

func TestBuild_FanOut(t *testing.T) {
	b, _ := newBuilder(rebuild.StaticOracle{})
	set, err := b.Build(context.Background(), Submission{
		Name:    "fan-out",
		Configs: []types.BuildConfigRef{ref("b", "1", "a"), ref("c", "1", "a"), ref("a", "1")},
		Mode:    rebuild.ModeForce,
	})
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())

	a, ok := set.TaskByConfig("a")
	require.True(t, ok)
	bTask, _ := set.TaskByConfig("b")
	cTask, _ := set.TaskByConfig("c")

	assert.Equal(t, types.TaskID(1), a.ID(), "依赖先分配ID")
	assert.ElementsMatch(t, []types.TaskID{bTask.ID(), cTask.ID()}, a.Dependents())
	assert.Equal(t, []types.TaskID{a.ID()}, bTask.Dependencies())
	for _, bt := range set.Tasks() {
		assert.Equal(t, types.StatusNew, bt.Status())
		assert.True(t, bt.Decision().Forced)
	}
	assert.Equal(t, rebuild.ModeForce, set.Mode())
	assert.False(t, set.Standalone())
}

func TestBuild_CycleCreatesNoTasks(t *testing.T) {
	b, ids := newBuilder(nil)
	set, err := b.Build(context.Background(), Submission{
		Configs: []types.BuildConfigRef{ref("a", "", "c"), ref("b", "", "a"), ref("c", "", "b")},
	})
	require.Error(t, err)
	assert.Nil(t, set)
	assert.True(t, errors.Is(err, dag.ErrCycleDetected))
	assert.True(t, IsConfigurationError(err))

	var cycle *dag.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, cycle.Path[0], cycle.Path[len(cycle.Path)-1])
	assert.Equal(t, types.TaskID(1), ids.Next(), "拒绝的提交不应消耗任务ID")
}

func TestBuild_ConfigurationErrors(t *testing.T) {
	b, _ := newBuilder(nil)
	ctx := context.Background()

	_, err := b.Build(ctx, Submission{})
	assert.ErrorIs(t, err, ErrEmptySubmission)
	assert.True(t, IsConfigurationError(err))

	_, err = b.Build(ctx, Submission{Configs: []types.BuildConfigRef{ref("a", ""), ref("a", "")}})
	var dup *DuplicateConfigError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "a", dup.ConfigID)

	_, err = b.Build(ctx, Submission{Configs: []types.BuildConfigRef{ref("app", "", "lib", "core"), ref("core", "")}})
	var missing *MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "app", missing.ConfigID)
	assert.Equal(t, []string{"lib"}, missing.Missing)
	assert.True(t, IsConfigurationError(err))

	_, err = b.Build(ctx, Submission{Configs: []types.BuildConfigRef{ref("", "")}})
	assert.ErrorIs(t, err, ErrEmptyConfigID)

	_, err = b.Build(ctx, Submission{Configs: []types.BuildConfigRef{ref("a", "")}, Mode: "SOMETIMES"})
	assert.ErrorIs(t, err, rebuild.ErrUnknownMode)
	assert.True(t, IsConfigurationError(err))
}

func TestBuild_OracleFailureIsNotConfigurationError(t *testing.T) {
	oracle := rebuild.OracleFunc(func(context.Context, string) (types.Fingerprint, bool, error) {
		return "", false, errors.New("db down")
	})
	b, _ := newBuilder(oracle)
	_, err := b.Build(context.Background(), Submission{Configs: []types.BuildConfigRef{ref("a", "1")}})
	require.Error(t, err)
	assert.False(t, IsConfigurationError(err))
}

func TestBuild_ImplicitReusesUpToDateConfigs(t *testing.T) {
	oracle := rebuild.StaticOracle{
		"core": "1",
		"lib":  rebuild.EffectiveFingerprint("1", []types.Fingerprint{"1"}),
		"app":  rebuild.EffectiveFingerprint("1", []types.Fingerprint{rebuild.EffectiveFingerprint("1", []types.Fingerprint{"1"})}),
	}
	b, _ := newBuilder(oracle)
	set, err := b.Build(context.Background(), Submission{
		Configs: []types.BuildConfigRef{ref("core", "2"), ref("lib", "1", "core"), ref("app", "1", "lib"), ref("tool", "1")},
		Mode:    rebuild.ModeImplicit,
	})
	require.NoError(t, err)

	core, _ := set.TaskByConfig("core")
	lib, _ := set.TaskByConfig("lib")
	app, _ := set.TaskByConfig("app")
	tool, _ := set.TaskByConfig("tool")

	assert.Equal(t, rebuild.ReasonFingerprintChanged, core.Decision().Reason)
	assert.Equal(t, rebuild.ReasonDependencyChanged, lib.Decision().Reason)
	assert.Equal(t, rebuild.ReasonDependencyChanged, app.Decision().Reason, "变化沿依赖链传递")
	assert.Equal(t, rebuild.ReasonNeverBuilt, tool.Decision().Reason)

	for _, bt := range []*task.BuildTask{core, lib, app, tool} {
		assert.Equal(t, types.StatusNew, bt.Status())
	}
}

func TestBuild_ReusedTasksAreDone(t *testing.T) {
	oracle := rebuild.StaticOracle{"core": "1", "app": rebuild.EffectiveFingerprint("1", []types.Fingerprint{"1"})}
	b, _ := newBuilder(oracle)
	set, err := b.Build(context.Background(), Submission{
		Configs: []types.BuildConfigRef{ref("core", "1"), ref("app", "1", "core")},
		Mode:    rebuild.ModeImplicit,
	})
	require.NoError(t, err)
	for _, bt := range set.Tasks() {
		assert.True(t, bt.Reused())
		assert.Equal(t, types.StatusDone, bt.Status())
	}
	assert.Equal(t, types.SetStatusDone, set.Status())
	assert.Equal(t, 2, set.Progress().Reused)
}

func TestBuild_ExplicitFollowsForcedDependency(t *testing.T) {
	oracle := rebuild.StaticOracle{"core": "1", "app": rebuild.EffectiveFingerprint("1", []types.Fingerprint{"1"})}
	b, _ := newBuilder(oracle)
	core := ref("core", "1")
	core.RebuildMode = string(rebuild.ModeForce)

	set, err := b.Build(context.Background(), Submission{
		Configs: []types.BuildConfigRef{core, ref("app", "1", "core")},
		Mode:    rebuild.ModeExplicit,
	})
	require.NoError(t, err)
	app, _ := set.TaskByConfig("app")
	assert.True(t, app.Decision().MustBuild)
	assert.Equal(t, rebuild.ReasonDependencyRebuilt, app.Decision().Reason)

	set, err = b.Build(context.Background(), Submission{
		Configs: []types.BuildConfigRef{core, ref("app", "1", "core")},
		Mode:    rebuild.ModeImplicit,
	})
	require.NoError(t, err)
	app, _ = set.TaskByConfig("app")
	assert.False(t, app.Decision().MustBuild)
}

func TestBuildStandalone(t *testing.T) {
	b, _ := newBuilder(nil)
	set, bt, err := b.BuildStandalone(context.Background(), ref("app", "1", "lib"), rebuild.ModeForce, "manual")
	require.NoError(t, err)
	assert.True(t, set.Standalone())
	assert.Equal(t, set.ID(), bt.SetID())
	assert.Empty(t, bt.Dependencies(), "独立任务不在提交内解析依赖")
	assert.NotEmpty(t, bt.SetID())
	assert.Equal(t, types.StatusNew, bt.Status())
}

func TestBuild_UniqueIDsAcrossSubmissions(t *testing.T) {
	b, _ := newBuilder(nil)
	seen := make(map[types.TaskID]bool)
	for i := 0; i < 3; i++ {
		set, err := b.Build(context.Background(), Submission{
			Configs: []types.BuildConfigRef{ref("a", ""), ref("b", "", "a")},
			Mode:    rebuild.ModeForce,
		})
		require.NoError(t, err)
		for _, bt := range set.Tasks() {
			assert.False(t, seen[bt.ID()])
			seen[bt.ID()] = true
		}
	}
	assert.Len(t, seen, 6)
}
