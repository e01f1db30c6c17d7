// Package memory 进程内构建记录仓库，用于测试与单机试运行
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
	"github.com/LENAX/build-coordinator/pkg/storage"
)

// Repo 内存构建记录仓库
type Repo struct {
	mu      sync.RWMutex
	records map[types.TaskID]*storage.BuildRecord
}

// NewRepo 创建内存仓库
func NewRepo() *Repo {
	return &Repo{records: make(map[types.TaskID]*storage.BuildRecord)}
}

// Store 保存（或覆盖）记录
func (r *Repo) Store(_ context.Context, snap task.TaskSnapshot, result types.BuildResult) error {
	rec := storage.NewBuildRecord(snap, result)
	rec.Attributes = maps.Clone(rec.Attributes)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.TaskID] = rec
	return nil
}

// LastSuccessfulFingerprint 最近一次成功构建的指纹
func (r *Repo) LastSuccessfulFingerprint(_ context.Context, configID string) (types.Fingerprint, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *storage.BuildRecord
	for _, rec := range r.records {
		if rec.ConfigID != configID || !rec.Succeeded() {
			continue
		}
		if latest == nil || rec.TaskID > latest.TaskID {
			latest = rec
		}
	}
	if latest == nil {
		return "", false, nil
	}
	return latest.Fingerprint, true, nil
}

// GetRecord 按任务ID查询
func (r *Repo) GetRecord(_ context.Context, taskID types.TaskID) (*storage.BuildRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: TaskID=%s", storage.ErrRecordNotFound, taskID)
	}
	cp := *rec
	return &cp, nil
}

// ListRecords 按条件查询，按任务ID倒序
func (r *Repo) ListRecords(_ context.Context, filter storage.RecordFilter) ([]*storage.BuildRecord, error) {
	r.mu.RLock()
	out := make([]*storage.BuildRecord, 0)
	for _, rec := range r.records {
		if filter.SetID != "" && rec.SetID != filter.SetID {
			continue
		}
		if filter.ConfigID != "" && rec.ConfigID != filter.ConfigID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TaskID > out[j].TaskID })
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MaxTaskID 已记录的最大任务ID
func (r *Repo) MaxTaskID(_ context.Context) (types.TaskID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var maxID types.TaskID
	for id := range r.records {
		if id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}

// Close 无需释放资源
func (r *Repo) Close() error { return nil }

// 确保实现接口
var _ storage.BuildRecordRepository = (*Repo)(nil)
