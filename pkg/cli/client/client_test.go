package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/build-coordinator/pkg/api"
	"github.com/LENAX/build-coordinator/pkg/api/dto"
	"github.com/LENAX/build-coordinator/pkg/config"
	"github.com/LENAX/build-coordinator/pkg/core/engine"
	"github.com/LENAX/build-coordinator/pkg/core/types"
	"github.com/LENAX/build-coordinator/pkg/storage/memory"
)

func newTestServer(t *testing.T) (*engine.Engine, *Client) {
	t.Helper()
	cfg := &config.CoordinatorConfig{}
	cfg.Coordinator.Storage.Database.Type = "memory"
	cfg.Coordinator.Execution.BuildDriver = "noop"

	eng, err := engine.NewEngineBuilder("").WithConfig(cfg).WithRepository(memory.NewRepo()).Build()
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)

	srv := httptest.NewServer(api.SetupRouter(eng, "test"))
	t.Cleanup(srv.Close)
	return eng, New(srv.URL + "/")
}

func TestClient_BuildSetLifecycle(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	submitted, err := c.SubmitBuildSet(ctx, dto.SubmitBuildSetRequest{
		Name: "product",
		Configs: []types.BuildConfigRef{
			{ID: "core", BuildScript: "make core"},
			{ID: "app", BuildScript: "make app", Dependencies: []string{"core"}},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, submitted.SetID)

	var kinds []string
	watchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = c.WatchBuildSet(watchCtx, submitted.SetID, func(msg dto.StreamMessage) error {
		kinds = append(kinds, msg.Type)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, kinds)
	assert.Equal(t, "snapshot", kinds[0])
	assert.Equal(t, "closed", kinds[len(kinds)-1])

	detail, err := c.GetBuildSet(ctx, submitted.SetID)
	require.NoError(t, err)
	assert.Equal(t, string(types.SetStatusDone), detail.Status)
	assert.Len(t, detail.Tasks, 2)

	list, err := c.ListBuildSets(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	records, err := c.ListRecords(ctx, submitted.SetID, "core", "", 0)
	require.NoError(t, err)
	require.Len(t, records.Items, 1)
	assert.Equal(t, "core", records.Items[0].ConfigID)

	task, err := c.GetTask(ctx, detail.Tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, submitted.SetID, task.SetID)
}

func TestClient_Errors(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	resp, err := c.SubmitBuildSet(ctx, dto.SubmitBuildSetRequest{
		Configs: []types.BuildConfigRef{{ID: "a", Dependencies: []string{"missing"}}},
	})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.NotNil(t, resp)
	assert.Equal(t, string(types.SetStatusRejected), resp.Status)

	_, err = c.GetBuildSet(ctx, "nope")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	err = c.WatchBuildSet(ctx, "nope", func(dto.StreamMessage) error { return nil })
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	err = c.CancelTask(ctx, 12345)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_TaskAndHealth(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	submitted, err := c.SubmitTask(ctx, dto.SubmitTaskRequest{
		Config: types.BuildConfigRef{ID: "tool", BuildScript: "make tool"},
	})
	require.NoError(t, err)
	require.NotZero(t, submitted.TaskID)

	require.Eventually(t, func() bool {
		task, err := c.GetTask(ctx, submitted.TaskID)
		return err == nil && task.Status == string(types.StatusDone)
	}, 5*time.Second, 10*time.Millisecond)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Running)
}
