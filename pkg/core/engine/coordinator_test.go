package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/build-coordinator/pkg/core/builder"
	"github.com/LENAX/build-coordinator/pkg/core/executor"
	"github.com/LENAX/build-coordinator/pkg/core/notify"
	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// fakeExecutor 记录派发请求，由测试手动回报结果
type fakeExecutor struct {
	mu        sync.Mutex
	started   chan executor.BuildRequest
	cancelled []types.TaskID
	accept    bool
	startErr  error
	gate      chan struct{} // 非空时 StartBuild 阻塞到关闭
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{started: make(chan executor.BuildRequest, 256), accept: true}
}

func (f *fakeExecutor) StartBuild(_ context.Context, req executor.BuildRequest) (bool, error) {
	f.mu.Lock()
	accept, err, gate := f.accept, f.startErr, f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil || !accept {
		return false, err
	}
	f.started <- req
	return true, nil
}

func (f *fakeExecutor) Cancel(_ context.Context, id types.TaskID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeExecutor) cancelCalls() []types.TaskID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.TaskID(nil), f.cancelled...)
}

// fakeStore 内存结果存储
type fakeStore struct {
	mu      sync.Mutex
	records map[types.TaskID]task.TaskSnapshot
	fail    map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[types.TaskID]task.TaskSnapshot), fail: make(map[string]error)}
}

func (s *fakeStore) Store(_ context.Context, snap task.TaskSnapshot, _ types.BuildResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[snap.Config.ID]; err != nil {
		return err
	}
	s.records[snap.ID] = snap
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeStore) get(id types.TaskID) (task.TaskSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.records[id]
	return snap, ok
}

// eventLog 同步记录发布的事件
type eventLog struct {
	mu     sync.Mutex
	events []notify.StatusChangedEvent
}

func (l *eventLog) Publish(e *notify.StatusChangedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *e)
	return nil
}

func (l *eventLog) forTask(id types.TaskID) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.Kind == notify.KindTask && e.TaskID == id {
			out = append(out, e.OldStatus+"->"+e.NewStatus)
		}
	}
	return out
}

func (l *eventLog) forSet(id string) []notify.StatusChangedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []notify.StatusChangedEvent
	for _, e := range l.events {
		if e.Kind == notify.KindSet && e.SetID == id {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	coord  *Coordinator
	exec   *fakeExecutor
	store  *fakeStore
	events *eventLog
	build  *builder.GraphBuilder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{exec: newFakeExecutor(), store: newFakeStore(), events: &eventLog{}}
	coord, err := NewCoordinator(h.exec, h.store, h.events, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Shutdown() })
	h.coord = coord
	h.build = builder.NewGraphBuilder(task.NewSequenceIDSupplier(0), nil, nil)
	return h
}

func cfg(id string, deps ...string) types.BuildConfigRef {
	return types.BuildConfigRef{ID: id, Fingerprint: types.Fingerprint("fp-" + id), Dependencies: deps}
}

func (h *harness) submit(t *testing.T, configs ...types.BuildConfigRef) *task.BuildSetTask {
	t.Helper()
	set, err := h.build.Build(context.Background(), builder.Submission{Name: "test", Configs: configs, Mode: rebuild.ModeForce})
	require.NoError(t, err)
	require.NoError(t, h.coord.Submit(context.Background(), set))
	return set
}

// nextStarted 等待下一个派发请求
func (h *harness) nextStarted(t *testing.T) executor.BuildRequest {
	t.Helper()
	select {
	case req := <-h.exec.started:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("等待派发超时")
		return executor.BuildRequest{}
	}
}

func (h *harness) startedConfigs(t *testing.T, n int) map[string]types.TaskID {
	t.Helper()
	out := make(map[string]types.TaskID, n)
	for i := 0; i < n; i++ {
		req := h.nextStarted(t)
		out[req.Config.ID] = req.TaskID
	}
	return out
}

func (h *harness) assertNothingStarted(t *testing.T) {
	t.Helper()
	select {
	case req := <-h.exec.started:
		t.Fatalf("不应派发: %s", req.Config.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func success() types.BuildResult {
	return types.BuildResult{Status: types.CompletionSuccess}
}

func waitSet(t *testing.T, h *harness, set *task.BuildSetTask) types.BuildSetStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := h.coord.Wait(ctx, set.ID())
	require.NoError(t, err)
	return status
}

func statusOf(t *testing.T, set *task.BuildSetTask, configID string) types.BuildCoordinationStatus {
	t.Helper()
	bt, ok := set.TaskByConfig(configID)
	require.True(t, ok)
	return bt.Status()
}

func TestCoordinator_FanOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	set := h.submit(t, cfg("a"), cfg("b", "a"), cfg("c", "a"))

	a := h.nextStarted(t)
	assert.Equal(t, "a", a.Config.ID)
	h.assertNothingStarted(t)
	assert.Equal(t, types.StatusWaitingForDependencies, statusOf(t, set, "b"))

	require.NoError(t, h.coord.OnExternalCompletion(ctx, a.TaskID, success()))

	started := h.startedConfigs(t, 2)
	assert.Contains(t, started, "b")
	assert.Contains(t, started, "c")
	for _, id := range started {
		require.NoError(t, h.coord.OnExternalCompletion(ctx, id, success()))
	}

	assert.Equal(t, types.SetStatusDone, waitSet(t, h, set))
	assert.Equal(t, 3, h.store.count())
	assert.Empty(t, h.coord.ActiveSets())

	got, ok := h.coord.GetSet(set.ID())
	require.True(t, ok, "完成的组构建保留在 LRU 中")
	assert.Equal(t, set, got)
	bt, ok := h.coord.GetTask(a.TaskID)
	require.True(t, ok)
	assert.Equal(t, types.StatusDone, bt.Status())
}

func TestCoordinator_TaskEventSequence(t *testing.T) {
	h := newHarness(t)
	set := h.submit(t, cfg("a"))
	a := h.nextStarted(t)
	require.NoError(t, h.coord.OnExternalCompletion(context.Background(), a.TaskID, success()))
	waitSet(t, h, set)

	assert.Equal(t, []string{
		"NEW->WAITING_FOR_DEPENDENCIES",
		"WAITING_FOR_DEPENDENCIES->ENQUEUED",
		"ENQUEUED->BUILDING",
		"BUILDING->BUILD_COMPLETED_SUCCESS",
		"BUILD_COMPLETED_SUCCESS->STORING_RESULTS",
		"STORING_RESULTS->DONE",
	}, h.events.forTask(a.TaskID))

	setEvents := h.events.forSet(set.ID())
	require.Len(t, setEvents, 1, "组构建只发布一次终态事件")
	assert.Equal(t, string(types.SetStatusDone), setEvents[0].NewStatus)
	assert.True(t, setEvents[0].Terminal)
}

func TestCoordinator_FailurePropagatesToDependents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	set := h.submit(t, cfg("a"), cfg("b", "a"), cfg("c", "b"), cfg("d"))

	started := h.startedConfigs(t, 2)
	require.NoError(t, h.coord.OnExternalCompletion(ctx, started["a"], types.BuildResult{Status: types.CompletionFailed, Error: "compile error"}))
	require.NoError(t, h.coord.OnExternalCompletion(ctx, started["d"], success()))

	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h, set))
	assert.Equal(t, types.StatusDoneWithErrors, statusOf(t, set, "a"))
	assert.Equal(t, types.StatusRejected, statusOf(t, set, "b"))
	assert.Equal(t, types.StatusRejected, statusOf(t, set, "c"))
	assert.Equal(t, types.StatusDone, statusOf(t, set, "d"))
	h.assertNothingStarted(t)

	// 被拒绝的任务也会尽力记录
	require.Eventually(t, func() bool { return h.store.count() == 4 }, 5*time.Second, 5*time.Millisecond)
	c, _ := set.TaskByConfig("c")
	snap, ok := h.store.get(c.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusRejected, snap.Status)
}

func TestCoordinator_TimedOutBuildIsFailure(t *testing.T) {
	h := newHarness(t)
	set := h.submit(t, cfg("a"), cfg("b", "a"))
	a := h.nextStarted(t)
	require.NoError(t, h.coord.OnExternalCompletion(context.Background(), a.TaskID, types.BuildResult{Status: types.CompletionTimedOut}))
	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h, set))
	assert.Equal(t, types.StatusDoneWithErrors, statusOf(t, set, "a"))
	assert.Equal(t, types.StatusRejected, statusOf(t, set, "b"))
}

func TestCoordinator_StoreFailureIsSystemError(t *testing.T) {
	h := newHarness(t)
	h.store.fail["a"] = errors.New("disk full")
	set := h.submit(t, cfg("a"), cfg("b", "a"))

	a := h.nextStarted(t)
	require.NoError(t, h.coord.OnExternalCompletion(context.Background(), a.TaskID, success()))

	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h, set))
	bt, _ := set.TaskByConfig("a")
	assert.Equal(t, types.StatusSystemError, bt.Status())
	assert.Contains(t, bt.Description(), "disk full")
	assert.Equal(t, types.StatusRejected, statusOf(t, set, "b"))
}

func TestCoordinator_ExecutorRejectsBuild(t *testing.T) {
	h := newHarness(t)
	h.exec.accept = false
	set := h.submit(t, cfg("a"), cfg("b", "a"))

	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h, set))
	assert.Equal(t, types.StatusSystemError, statusOf(t, set, "a"))
	assert.Equal(t, types.StatusRejected, statusOf(t, set, "b"))

	h2 := newHarness(t)
	h2.exec.startErr = errors.New("executor offline")
	set2 := h2.submit(t, cfg("x"))
	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h2, set2))
	x, _ := set2.TaskByConfig("x")
	assert.Contains(t, x.Description(), "executor offline")
}

func TestCoordinator_ExecutorFailure(t *testing.T) {
	h := newHarness(t)
	set := h.submit(t, cfg("a"))
	a := h.nextStarted(t)
	require.NoError(t, h.coord.OnExternalFailure(context.Background(), a.TaskID, errors.New("worker crashed")))
	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h, set))
	assert.Equal(t, types.StatusSystemError, statusOf(t, set, "a"))
}

func TestCoordinator_DuplicateCompletionIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	set := h.submit(t, cfg("a"), cfg("b"))
	started := h.startedConfigs(t, 2)

	require.NoError(t, h.coord.OnExternalCompletion(ctx, started["a"], success()))
	err := h.coord.OnExternalCompletion(ctx, started["a"], types.BuildResult{Status: types.CompletionFailed})
	assert.ErrorIs(t, err, ErrTaskCompleted)
	assert.Equal(t, types.StatusDone, statusOf(t, set, "a"))

	require.NoError(t, h.coord.OnExternalCompletion(ctx, started["b"], success()))
	waitSet(t, h, set)

	// 组完成后仍能识别为已完成
	err = h.coord.OnExternalCompletion(ctx, started["b"], success())
	assert.ErrorIs(t, err, ErrTaskCompleted)
	assert.Len(t, h.events.forTask(started["a"]), 6)
}

func TestCoordinator_UnknownTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assert.ErrorIs(t, h.coord.OnExternalCompletion(ctx, 999, success()), ErrTaskNotFound)
	assert.ErrorIs(t, h.coord.Cancel(ctx, 999), ErrTaskNotFound)
	assert.ErrorIs(t, h.coord.CancelSet(ctx, "nope"), ErrSetNotFound)
	_, ok := h.coord.GetTask(999)
	assert.False(t, ok)
}

func TestCoordinator_CancelWaitingTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	set := h.submit(t, cfg("a"), cfg("b", "a"), cfg("c", "b"))
	a := h.nextStarted(t)

	b, _ := set.TaskByConfig("b")
	require.NoError(t, h.coord.Cancel(ctx, b.ID()))
	assert.Equal(t, types.StatusCancelled, b.Status())
	assert.Equal(t, types.StatusRejected, statusOf(t, set, "c"))

	require.NoError(t, h.coord.OnExternalCompletion(ctx, a.TaskID, success()))
	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h, set))
	assert.Equal(t, types.StatusDone, statusOf(t, set, "a"))
	assert.Empty(t, h.exec.cancelCalls(), "未派发的任务不需要通知执行器")
	assert.ErrorIs(t, h.coord.Cancel(ctx, b.ID()), ErrTaskCompleted)
}

func TestCoordinator_CancelBuildingTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	set := h.submit(t, cfg("a"), cfg("b", "a"))
	a := h.nextStarted(t)

	require.NoError(t, h.coord.Cancel(ctx, a.TaskID))
	assert.Equal(t, []types.TaskID{a.TaskID}, h.exec.cancelCalls())
	assert.Equal(t, types.StatusBuilding, statusOf(t, set, "a"), "等待执行器确认")

	// 重复取消不再通知执行器
	require.NoError(t, h.coord.Cancel(ctx, a.TaskID))
	assert.Len(t, h.exec.cancelCalls(), 1)

	require.NoError(t, h.coord.OnExternalCompletion(ctx, a.TaskID, types.BuildResult{Status: types.CompletionCancelled}))
	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h, set))
	assert.Equal(t, types.StatusCancelled, statusOf(t, set, "a"))
	assert.Equal(t, types.StatusRejected, statusOf(t, set, "b"))
}

func TestCoordinator_CompletionWinsOverLateCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	set := h.submit(t, cfg("a"))
	a := h.nextStarted(t)

	require.NoError(t, h.coord.Cancel(ctx, a.TaskID))
	require.NoError(t, h.coord.OnExternalCompletion(ctx, a.TaskID, success()))
	assert.Equal(t, types.SetStatusDone, waitSet(t, h, set))
	bt, _ := set.TaskByConfig("a")
	assert.True(t, bt.CancelRequested())
	assert.Equal(t, types.StatusDone, bt.Status())
}

func TestCoordinator_CancelSet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	set := h.submit(t, cfg("a"), cfg("b", "a"), cfg("c"))
	started := h.startedConfigs(t, 2)

	require.NoError(t, h.coord.CancelSet(ctx, set.ID()))
	assert.ElementsMatch(t, []types.TaskID{started["a"], started["c"]}, h.exec.cancelCalls())
	for _, id := range started {
		require.NoError(t, h.coord.OnExternalCompletion(ctx, id, types.BuildResult{Status: types.CompletionCancelled}))
	}
	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h, set))
	assert.Equal(t, types.StatusCancelled, statusOf(t, set, "b"))
	assert.ErrorIs(t, h.coord.CancelSet(ctx, set.ID()), ErrSetCompleted)
}

func TestCoordinator_ConcurrentCompletions(t *testing.T) {
	h := newHarness(t, WithDispatchWorkers(8))
	ctx := context.Background()

	const n = 60
	configs := []types.BuildConfigRef{cfg("root")}
	for i := 0; i < n; i++ {
		configs = append(configs, cfg(fmt.Sprintf("leaf-%02d", i), "root"))
	}
	configs = append(configs, cfg("sink", func() []string {
		deps := make([]string, 0, n)
		for i := 0; i < n; i++ {
			deps = append(deps, fmt.Sprintf("leaf-%02d", i))
		}
		return deps
	}()...))
	set := h.submit(t, configs...)

	root := h.nextStarted(t)
	require.NoError(t, h.coord.OnExternalCompletion(ctx, root.TaskID, success()))

	leaves := h.startedConfigs(t, n)
	var wg sync.WaitGroup
	for _, id := range leaves {
		wg.Add(1)
		go func(id types.TaskID) {
			defer wg.Done()
			assert.NoError(t, h.coord.OnExternalCompletion(ctx, id, success()))
		}(id)
	}
	wg.Wait()

	sink := h.nextStarted(t)
	assert.Equal(t, "sink", sink.Config.ID, "汇聚任务只派发一次")
	h.assertNothingStarted(t)
	require.NoError(t, h.coord.OnExternalCompletion(ctx, sink.TaskID, success()))

	assert.Equal(t, types.SetStatusDone, waitSet(t, h, set))
	assert.Equal(t, n+2, h.store.count())
}

func TestCoordinator_IndependentSetsProgressSeparately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s1 := h.submit(t, cfg("a"))
	s2 := h.submit(t, cfg("a"))
	started := []executor.BuildRequest{h.nextStarted(t), h.nextStarted(t)}
	sort.Slice(started, func(i, j int) bool { return started[i].TaskID < started[j].TaskID })

	require.NoError(t, h.coord.OnExternalCompletion(ctx, started[0].TaskID, types.BuildResult{Status: types.CompletionFailed}))
	require.NoError(t, h.coord.OnExternalCompletion(ctx, started[1].TaskID, success()))
	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h, s1))
	assert.Equal(t, types.SetStatusDone, waitSet(t, h, s2))
}

func TestCoordinator_AllReusedSetCompletesImmediately(t *testing.T) {
	h := newHarness(t)
	h.build = builder.NewGraphBuilder(task.NewSequenceIDSupplier(0), nil, rebuild.StaticOracle{
		"a": "fp-a",
		"b": rebuild.EffectiveFingerprint("fp-b", []types.Fingerprint{"fp-a"}),
	})
	set, err := h.build.Build(context.Background(), builder.Submission{
		Configs: []types.BuildConfigRef{cfg("a"), cfg("b", "a")},
		Mode:    rebuild.ModeImplicit,
	})
	require.NoError(t, err)
	require.NoError(t, h.coord.Submit(context.Background(), set))

	assert.Equal(t, types.SetStatusDone, waitSet(t, h, set))
	h.assertNothingStarted(t)
	assert.Equal(t, 0, h.store.count(), "复用任务不重复记录")
	a, _ := set.TaskByConfig("a")
	assert.Equal(t, []string{"NEW->DONE"}, h.events.forTask(a.ID()))
}

func TestCoordinator_PartialReuse(t *testing.T) {
	h := newHarness(t)
	h.build = builder.NewGraphBuilder(task.NewSequenceIDSupplier(0), nil, rebuild.StaticOracle{"core": "fp-core", "app": "old"})
	set, err := h.build.Build(context.Background(), builder.Submission{
		Configs: []types.BuildConfigRef{cfg("core"), cfg("app", "core")},
		Mode:    rebuild.ModeImplicit,
	})
	require.NoError(t, err)
	require.NoError(t, h.coord.Submit(context.Background(), set))

	app := h.nextStarted(t)
	assert.Equal(t, "app", app.Config.ID, "复用的依赖视为已完成")
	require.NoError(t, h.coord.OnExternalCompletion(context.Background(), app.TaskID, success()))
	assert.Equal(t, types.SetStatusDone, waitSet(t, h, set))
}

func TestCoordinator_RejectedSet(t *testing.T) {
	h := newHarness(t)
	set := task.NewRejectedSet(task.SetOptions{Name: "broken"}, "循环依赖: a -> b -> a")
	require.NoError(t, h.coord.Submit(context.Background(), set))

	got, ok := h.coord.GetSet(set.ID())
	require.True(t, ok)
	assert.Equal(t, types.SetStatusRejected, got.Status())
	events := h.events.forSet(set.ID())
	require.Len(t, events, 1)
	assert.Equal(t, string(types.SetStatusRejected), events[0].NewStatus)
	assert.Contains(t, events[0].Reason, "循环依赖")
}

func TestCoordinator_StandaloneSetHasNoSetEvents(t *testing.T) {
	h := newHarness(t)
	set, bt, err := h.build.BuildStandalone(context.Background(), cfg("tool", "ignored"), rebuild.ModeForce, "manual")
	require.NoError(t, err)
	require.NoError(t, h.coord.Submit(context.Background(), set))
	assert.Empty(t, h.coord.ActiveSets())

	req := h.nextStarted(t)
	assert.Equal(t, bt.ID(), req.TaskID)
	require.NoError(t, h.coord.OnExternalCompletion(context.Background(), req.TaskID, success()))
	waitSet(t, h, set)
	assert.Empty(t, h.events.forSet(set.ID()))
	assert.Empty(t, h.coord.RecentSets())
}

func TestCoordinator_OnStoredHook(t *testing.T) {
	var mu sync.Mutex
	var stored []string
	h := newHarness(t, WithOnStored(func(snap task.TaskSnapshot, _ types.BuildResult) {
		mu.Lock()
		defer mu.Unlock()
		stored = append(stored, snap.Config.ID)
	}))
	set := h.submit(t, cfg("a"))
	a := h.nextStarted(t)
	require.NoError(t, h.coord.OnExternalCompletion(context.Background(), a.TaskID, success()))
	waitSet(t, h, set)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a"}, stored)
}

func TestCoordinator_SubmitAfterShutdown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.coord.Shutdown())
	set, err := h.build.Build(context.Background(), builder.Submission{Configs: []types.BuildConfigRef{cfg("a")}})
	require.NoError(t, err)
	assert.ErrorIs(t, h.coord.Submit(context.Background(), set), ErrCoordinatorClosed)
}

func TestCoordinator_DuplicateSubmit(t *testing.T) {
	h := newHarness(t)
	set := h.submit(t, cfg("a"))
	assert.ErrorIs(t, h.coord.Submit(context.Background(), set), ErrSetAlreadySubmitted)
}

func TestCoordinator_WithRealHub(t *testing.T) {
	hub, err := notify.NewHub()
	require.NoError(t, err)
	t.Cleanup(func() { _ = hub.Close() })

	exec := newFakeExecutor()
	coord, err := NewCoordinator(exec, newFakeStore(), hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Shutdown() })

	b := builder.NewGraphBuilder(task.NewSequenceIDSupplier(0), nil, nil)
	set, err := b.Build(context.Background(), builder.Submission{Configs: []types.BuildConfigRef{cfg("a")}, Mode: rebuild.ModeForce})
	require.NoError(t, err)

	var mu sync.Mutex
	var statuses []string
	_, err = hub.SubscribeSet(set.ID(), notify.ListenerFunc(func(e notify.StatusChangedEvent) error {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, e.NewStatus)
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, coord.Submit(context.Background(), set))

	req := <-exec.started
	require.NoError(t, coord.OnExternalCompletion(context.Background(), req.TaskID, success()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = coord.Wait(ctx, set.ID())
	require.NoError(t, err)
	require.NoError(t, hub.Drain(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, statuses)
	assert.Equal(t, string(types.SetStatusDone), statuses[len(statuses)-1])
	assert.Len(t, statuses, 7)
}

func TestCoordinator_ShutdownTerminatesUndispatchedTasks(t *testing.T) {
	h := newHarness(t, WithDispatchWorkers(1))
	gate := make(chan struct{})
	h.exec.mu.Lock()
	h.exec.gate = gate
	h.exec.mu.Unlock()

	set := h.submit(t, cfg("a"), cfg("b"), cfg("c", "a"))
	// 唯一的派发协程阻塞在第一个任务上，另一个就绪任务停留在队列中
	require.Eventually(t, func() bool { return h.coord.Stats().QueuedTasks == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- h.coord.Shutdown() }()
	require.Eventually(t, h.coord.closed.Load, time.Second, 5*time.Millisecond)
	close(gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("关闭超时")
	}

	building := h.nextStarted(t)
	queued := "b"
	if building.Config.ID == "b" {
		queued = "a"
	}
	q, _ := set.TaskByConfig(queued)
	c, _ := set.TaskByConfig("c")
	assert.Equal(t, types.StatusSystemError, q.Status())
	assert.Equal(t, types.StatusSystemError, c.Status())
	assert.Contains(t, h.events.forTask(q.ID()), "ENQUEUED->SYSTEM_ERROR")
	assert.Contains(t, h.events.forTask(c.ID()), "WAITING_FOR_DEPENDENCIES->SYSTEM_ERROR")
	assert.Equal(t, types.SetStatusNew, set.Status(), "已派发的任务仍在构建")

	// 已交给执行器的构建仍可回报结果，之后组构建进入终态
	require.NoError(t, h.coord.OnExternalCompletion(context.Background(), building.TaskID, success()))
	assert.Equal(t, types.SetStatusDoneWithErrors, waitSet(t, h, set))
}
