package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// recorder 记录收到的事件
type recorder struct {
	mu     sync.Mutex
	events []StatusChangedEvent
}

func (r *recorder) OnStatusChanged(e StatusChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) snapshot() []StatusChangedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusChangedEvent(nil), r.events...)
}

func newHub(t *testing.T) *Hub {
	t.Helper()
	h, err := NewHub(WithTerminalMemory(16))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func drain(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Drain(ctx))
}

func taskEvent(id types.TaskID, from, to types.BuildCoordinationStatus) *StatusChangedEvent {
	return NewTaskEvent(id, "set-1", "core", from, to, "")
}

func TestHub_DeliversInPublishOrder(t *testing.T) {
	h := newHub(t)
	rec := &recorder{}
	_, err := h.SubscribeAll(rec)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		require.NoError(t, h.Publish(taskEvent(types.TaskID(i%5+1), types.StatusNew, types.StatusWaitingForDependencies)))
	}
	drain(t, h)

	events := rec.snapshot()
	require.Len(t, events, 200)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.NotEmpty(t, e.ID)
	}
}

func TestHub_TaskSubscriptionLifecycle(t *testing.T) {
	h := newHub(t)

	// 订阅前的事件不投递
	require.NoError(t, h.Publish(taskEvent(1, types.StatusNew, types.StatusWaitingForDependencies)))

	rec := &recorder{}
	id, err := h.SubscribeTask(1, rec)
	require.NoError(t, err)

	require.NoError(t, h.Publish(taskEvent(1, types.StatusWaitingForDependencies, types.StatusEnqueued)))
	require.NoError(t, h.Publish(taskEvent(2, types.StatusNew, types.StatusWaitingForDependencies)))
	require.NoError(t, h.Publish(taskEvent(1, types.StatusEnqueued, types.StatusCancelled)))
	drain(t, h)

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, string(types.StatusEnqueued), events[0].NewStatus)
	assert.Equal(t, string(types.StatusCancelled), events[1].NewStatus)
	assert.True(t, events[1].Terminal)

	// 终态后自动取消订阅
	assert.False(t, h.Unsubscribe(id))
	assert.True(t, h.IsTerminal(TaskSubject(1)))

	_, err = h.SubscribeTask(1, rec)
	assert.ErrorIs(t, err, ErrSubjectTerminal)
	assert.Equal(t, 0, h.Stats().Subscriptions)
}

func TestHub_EvictedTerminalSubjectFallsBackToLookup(t *testing.T) {
	finished := map[Subject]bool{TaskSubject(1): true, TaskSubject(2): true}
	h, err := NewHub(WithTerminalMemory(1), WithTerminalLookup(func(s Subject) bool { return finished[s] }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	require.NoError(t, h.Publish(taskEvent(1, types.StatusBuilding, types.StatusSystemError)))
	require.NoError(t, h.Publish(taskEvent(2, types.StatusBuilding, types.StatusSystemError)))
	drain(t, h)

	// 任务1 已被挤出终态缓存，由回查确认终态
	_, err = h.SubscribeTask(1, &recorder{})
	assert.ErrorIs(t, err, ErrSubjectTerminal)
	assert.True(t, h.IsTerminal(TaskSubject(1)))
	assert.Equal(t, 0, h.Stats().Subscriptions)

	_, err = h.SubscribeTask(3, &recorder{})
	require.NoError(t, err)
}

func TestHub_EvictedTerminalSubjectWithoutLookup(t *testing.T) {
	h, err := NewHub(WithTerminalMemory(1))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	require.NoError(t, h.Publish(taskEvent(1, types.StatusBuilding, types.StatusSystemError)))
	require.NoError(t, h.Publish(taskEvent(2, types.StatusBuilding, types.StatusSystemError)))
	assert.False(t, h.IsTerminal(TaskSubject(1)), "超出缓存上限后不再记得")
	assert.True(t, h.IsTerminal(TaskSubject(2)))
}

func TestHub_SetSubscriptionReceivesMemberEvents(t *testing.T) {
	h := newHub(t)
	rec := &recorder{}
	_, err := h.SubscribeSet("set-1", rec)
	require.NoError(t, err)

	require.NoError(t, h.Publish(taskEvent(1, types.StatusNew, types.StatusWaitingForDependencies)))
	require.NoError(t, h.Publish(NewTaskEvent(9, "other-set", "x", types.StatusNew, types.StatusWaitingForDependencies, "")))
	require.NoError(t, h.Publish(taskEvent(1, types.StatusWaitingForDependencies, types.StatusRejected)))
	require.NoError(t, h.Publish(NewSetEvent("set-1", types.SetStatusNew, types.SetStatusDoneWithErrors, "")))
	require.NoError(t, h.Publish(NewSetEvent("set-1", types.SetStatusNew, types.SetStatusDone, "late")))
	drain(t, h)

	events := rec.snapshot()
	require.Len(t, events, 3, "成员任务终态不结束组订阅，组终态后不再投递")
	assert.Equal(t, KindSet, events[2].Kind)
	assert.Equal(t, string(types.SetStatusDoneWithErrors), events[2].NewStatus)
}

func TestHub_ListenerFailuresAreIsolated(t *testing.T) {
	h := newHub(t)
	rec := &recorder{}

	_, err := h.SubscribeTask(1, ListenerFunc(func(StatusChangedEvent) error {
		return errors.New("boom")
	}))
	require.NoError(t, err)
	_, err = h.SubscribeTask(1, ListenerFunc(func(StatusChangedEvent) error {
		panic("listener bug")
	}))
	require.NoError(t, err)
	_, err = h.SubscribeTask(1, rec)
	require.NoError(t, err)

	require.NoError(t, h.Publish(taskEvent(1, types.StatusNew, types.StatusWaitingForDependencies)))
	drain(t, h)

	assert.Len(t, rec.snapshot(), 1)
	stats := h.Stats()
	assert.Equal(t, uint64(1), stats.ListenerErrors)
	assert.Equal(t, uint64(1), stats.ListenerPanics)
	assert.Equal(t, uint64(3), stats.Delivered)
	assert.Equal(t, uint64(1), stats.Published)
}

func TestHub_ExplicitUnsubscribe(t *testing.T) {
	h := newHub(t)
	rec := &recorder{}
	id, err := h.SubscribeTask(1, rec)
	require.NoError(t, err)
	assert.True(t, h.Unsubscribe(id))

	require.NoError(t, h.Publish(taskEvent(1, types.StatusNew, types.StatusWaitingForDependencies)))
	drain(t, h)
	assert.Empty(t, rec.snapshot())
}

func TestHub_Close(t *testing.T) {
	h, err := NewHub()
	require.NoError(t, err)
	rec := &recorder{}
	_, err = h.SubscribeAll(rec)
	require.NoError(t, err)

	require.NoError(t, h.Publish(taskEvent(1, types.StatusNew, types.StatusWaitingForDependencies)))
	require.NoError(t, h.Close())
	assert.Len(t, rec.snapshot(), 1, "关闭前投递剩余事件")

	assert.ErrorIs(t, h.Publish(taskEvent(1, types.StatusWaitingForDependencies, types.StatusEnqueued)), ErrHubClosed)
	_, err = h.SubscribeAll(rec)
	assert.ErrorIs(t, err, ErrHubClosed)
	require.NoError(t, h.Close())
}

func TestHub_NilListener(t *testing.T) {
	h := newHub(t)
	_, err := h.SubscribeTask(1, nil)
	assert.Error(t, err)
}
