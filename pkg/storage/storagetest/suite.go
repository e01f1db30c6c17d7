// Package storagetest 构建记录仓库的通用行为测试，各实现共用
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
	"github.com/LENAX/build-coordinator/pkg/storage"
)

// Snapshot 构造一个任务快照
func Snapshot(id types.TaskID, setID, configID string, status types.BuildCoordinationStatus, fp types.Fingerprint) task.TaskSnapshot {
	now := time.Now()
	return task.TaskSnapshot{
		ID:          id,
		SetID:       setID,
		Config:      types.BuildConfigRef{ID: configID, Name: configID + "-name", Fingerprint: fp},
		Status:      status,
		Description: "test",
		Decision:    rebuild.Decision{MustBuild: true, Reason: rebuild.ReasonNeverBuilt},
		CreateTime:  now,
		StartTime:   now.Add(-time.Second),
		EndTime:     now,
	}
}

// RunRepositorySuite 对仓库实现执行通用行为测试
func RunRepositorySuite(t *testing.T, newRepo func(t *testing.T) storage.BuildRecordRepository) {
	t.Run("StoreAndGet", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		result := types.BuildResult{
			Status:      types.CompletionSuccess,
			Fingerprint: "built-fp",
			Log:         "ok",
			Attributes:  map[string]string{"exit_code": "0"},
			StartTime:   time.Now().Add(-2 * time.Second),
			EndTime:     time.Now(),
		}
		require.NoError(t, repo.Store(ctx, Snapshot(7, "set-1", "core", types.StatusDone, "cfg-fp"), result))

		rec, err := repo.GetRecord(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "set-1", rec.SetID)
		assert.Equal(t, "core", rec.ConfigID)
		assert.Equal(t, "core-name", rec.ConfigName)
		assert.Equal(t, types.StatusDone, rec.Status)
		assert.Equal(t, types.CompletionSuccess, rec.ResultStatus)
		assert.Equal(t, types.Fingerprint("built-fp"), rec.Fingerprint, "优先记录实际构建指纹")
		assert.Equal(t, string(rebuild.ReasonNeverBuilt), rec.DecisionReason)
		assert.Equal(t, "ok", rec.Log)
		assert.Equal(t, "0", rec.Attributes["exit_code"])
		assert.False(t, rec.StartTime.IsZero())
		assert.WithinDuration(t, result.EndTime, rec.EndTime, time.Second)

		_, err = repo.GetRecord(ctx, 999)
		assert.True(t, errors.Is(err, storage.ErrRecordNotFound))
	})

	t.Run("StoresEffectiveFingerprint", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		snap := Snapshot(5, "s", "app", types.StatusDone, "a1")
		snap.Decision.Fingerprint = rebuild.EffectiveFingerprint("a1", []types.Fingerprint{"core-v2"})
		require.NoError(t, repo.Store(ctx, snap, types.BuildResult{Status: types.CompletionSuccess, Fingerprint: "a1"}))

		fp, ok, err := repo.LastSuccessfulFingerprint(ctx, "app")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, snap.Decision.Fingerprint, fp, "记录包含依赖版本的有效指纹")
	})

	t.Run("StoreOverwrites", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Store(ctx, Snapshot(1, "s", "a", types.StatusRejected, "fp"), types.BuildResult{Status: types.CompletionFailed, Error: "dep failed"}))
		require.NoError(t, repo.Store(ctx, Snapshot(1, "s", "a", types.StatusSystemError, "fp"), types.BuildResult{Status: types.CompletionSystemError}))

		rec, err := repo.GetRecord(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, types.StatusSystemError, rec.Status)
		assert.Empty(t, rec.ErrorMessage)
	})

	t.Run("LastSuccessfulFingerprint", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, ok, err := repo.LastSuccessfulFingerprint(ctx, "core")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.Store(ctx, Snapshot(1, "s1", "core", types.StatusDone, "v1"), types.BuildResult{Status: types.CompletionSuccess}))
		// 协调器在 STORING_RESULTS 阶段入库，记录按入库后的终态保存
		require.NoError(t, repo.Store(ctx, Snapshot(2, "s2", "core", types.StatusStoringResults, "v2"), types.BuildResult{Status: types.CompletionSuccess}))
		require.NoError(t, repo.Store(ctx, Snapshot(3, "s3", "core", types.StatusStoringResults, "v3"), types.BuildResult{Status: types.CompletionFailed}))
		require.NoError(t, repo.Store(ctx, Snapshot(4, "s3", "app", types.StatusDone, "a1"), types.BuildResult{Status: types.CompletionSuccess}))

		fp, ok, err := repo.LastSuccessfulFingerprint(ctx, "core")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, types.Fingerprint("v2"), fp, "失败的构建不作为基准")

		rec, err := repo.GetRecord(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDoneWithErrors, rec.Status)
	})

	t.Run("ListRecordsAndMaxTaskID", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		maxID, err := repo.MaxTaskID(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.TaskID(0), maxID)

		for i, cfg := range []string{"a", "b", "c"} {
			require.NoError(t, repo.Store(ctx, Snapshot(types.TaskID(10+i), "set-x", cfg, types.StatusDone, "fp"), types.BuildResult{Status: types.CompletionSuccess}))
		}
		require.NoError(t, repo.Store(ctx, Snapshot(20, "set-y", "a", types.StatusCancelled, "fp"), types.BuildResult{Status: types.CompletionCancelled}))

		bySet, err := repo.ListRecords(ctx, storage.RecordFilter{SetID: "set-x"})
		require.NoError(t, err)
		require.Len(t, bySet, 3)
		assert.Equal(t, types.TaskID(12), bySet[0].TaskID, "按任务ID倒序")

		byConfig, err := repo.ListRecords(ctx, storage.RecordFilter{ConfigID: "a", Limit: 1})
		require.NoError(t, err)
		require.Len(t, byConfig, 1)
		assert.Equal(t, types.TaskID(20), byConfig[0].TaskID)

		cancelled, err := repo.ListRecords(ctx, storage.RecordFilter{Status: types.StatusCancelled})
		require.NoError(t, err)
		assert.Len(t, cancelled, 1)

		maxID, err = repo.MaxTaskID(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.TaskID(20), maxID)
	})
}
