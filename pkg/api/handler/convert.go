package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/build-coordinator/pkg/api/dto"
	"github.com/LENAX/build-coordinator/pkg/core/engine"
	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
	"github.com/LENAX/build-coordinator/pkg/storage"
)

// abortWithError 按错误类型返回对应的HTTP状态码
func abortWithError(c *gin.Context, prefix string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrSetNotFound), errors.Is(err, engine.ErrTaskNotFound), errors.Is(err, storage.ErrRecordNotFound):
		code = http.StatusNotFound
	case errors.Is(err, engine.ErrSetCompleted), errors.Is(err, engine.ErrTaskCompleted), errors.Is(err, engine.ErrNotCancellable):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrEngineNotRunning), errors.Is(err, engine.ErrCoordinatorClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, rebuild.ErrUnknownMode):
		code = http.StatusBadRequest
	}
	c.JSON(code, dto.NewErrorResponse(code, fmt.Sprintf("%s: %v", prefix, err)))
}

func toProgressInfo(p types.ProgressSnapshot) dto.ProgressInfo {
	return dto.ProgressInfo{
		Total:          p.Total,
		Completed:      p.Completed,
		Reused:         p.Reused,
		Running:        p.Running,
		Failed:         p.Failed,
		Pending:        p.Pending,
		Percent:        p.Percent(),
		RunningTaskIDs: toInt64s(p.RunningTaskIDs),
		PendingTaskIDs: toInt64s(p.PendingTaskIDs),
	}
}

func toSetSummary(s task.SetSnapshot) dto.BuildSetSummary {
	summary := dto.BuildSetSummary{
		ID:           s.ID,
		Name:         s.Name,
		RecordID:     s.RecordID,
		Mode:         string(s.Mode),
		Cause:        s.Cause,
		Status:       string(s.Status),
		RejectReason: s.RejectReason,
		Progress:     toProgressInfo(s.Progress),
		CreatedAt:    s.CreateTime,
	}
	if !s.FinishTime.IsZero() {
		finished := s.FinishTime
		summary.FinishedAt = &finished
		summary.Duration = formatDuration(finished.Sub(s.CreateTime))
	}
	return summary
}

func toSetDetail(s task.SetSnapshot) dto.BuildSetDetail {
	detail := dto.BuildSetDetail{
		BuildSetSummary: toSetSummary(s),
		Tasks:           make([]dto.TaskDetail, 0, len(s.Tasks)),
	}
	for _, t := range s.Tasks {
		detail.Tasks = append(detail.Tasks, toTaskDetail(t))
	}
	return detail
}

func toTaskDetail(t task.TaskSnapshot) dto.TaskDetail {
	detail := dto.TaskDetail{
		ID:              int64(t.ID),
		SetID:           t.SetID,
		ConfigID:        t.Config.ID,
		ConfigName:      t.Config.Name,
		Fingerprint:     string(t.Config.Fingerprint),
		Status:          string(t.Status),
		Reused:          t.Reused,
		DecisionReason:  string(t.Decision.Reason),
		Dependencies:    toInt64s(t.Dependencies),
		Description:     t.Description,
		CancelRequested: t.CancelRequested,
		Attributes:      t.Config.Attributes,
		StartedAt:       timePtr(t.StartTime),
		FinishedAt:      timePtr(t.EndTime),
	}
	if t.Result != nil {
		detail.ResultStatus = string(t.Result.Status)
		detail.ErrorMessage = t.Result.Error
	}
	if !t.StartTime.IsZero() && !t.EndTime.IsZero() {
		detail.Duration = formatDuration(t.EndTime.Sub(t.StartTime))
	}
	return detail
}

func toRecordItem(r *storage.BuildRecord) dto.BuildRecordItem {
	item := dto.BuildRecordItem{
		TaskID:         int64(r.TaskID),
		SetID:          r.SetID,
		ConfigID:       r.ConfigID,
		ConfigName:     r.ConfigName,
		Status:         string(r.Status),
		ResultStatus:   string(r.ResultStatus),
		Fingerprint:    string(r.Fingerprint),
		DecisionReason: r.DecisionReason,
		ErrorMessage:   r.ErrorMessage,
		Log:            r.Log,
		Attributes:     r.Attributes,
		StartedAt:      timePtr(r.StartTime),
		FinishedAt:     timePtr(r.EndTime),
		RecordedAt:     r.RecordTime,
	}
	if !r.StartTime.IsZero() && !r.EndTime.IsZero() {
		item.Duration = formatDuration(r.EndTime.Sub(r.StartTime))
	}
	return item
}

// recordToTaskDetail 已移出内存的任务按构建记录返回
func recordToTaskDetail(r *storage.BuildRecord) dto.TaskDetail {
	item := toRecordItem(r)
	return dto.TaskDetail{
		ID:             item.TaskID,
		SetID:          item.SetID,
		ConfigID:       item.ConfigID,
		ConfigName:     item.ConfigName,
		Fingerprint:    item.Fingerprint,
		Status:         item.Status,
		DecisionReason: item.DecisionReason,
		Description:    r.Description,
		ResultStatus:   item.ResultStatus,
		ErrorMessage:   item.ErrorMessage,
		Attributes:     item.Attributes,
		StartedAt:      item.StartedAt,
		FinishedAt:     item.FinishedAt,
		Duration:       item.Duration,
	}
}

func toInt64s(ids []types.TaskID) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// formatDuration 格式化时间间隔
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
