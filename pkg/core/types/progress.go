package types

// ProgressSnapshot 组构建的内存进度快照（与入库数据无关）
// Running = len(RunningTaskIDs)，Pending 为尚未就绪或尚未派发的任务
type ProgressSnapshot struct {
	Total          int      `json:"total"`            // 成员总数
	Completed      int      `json:"completed"`        // 成功完成数（含无需重建的复用任务）
	Reused         int      `json:"reused"`           // 无需重建直接复用的任务数
	Running        int      `json:"running"`          // 已派发、尚未结束的任务数
	Failed         int      `json:"failed"`           // 失败终态数
	Pending        int      `json:"pending"`          // 等待依赖或等待派发的任务数
	RunningTaskIDs []TaskID `json:"running_task_ids"` // 正在执行的任务ID
	PendingTaskIDs []TaskID `json:"pending_task_ids"` // 等待中的任务ID
}

// Percent 完成百分比（终态任务占比）
func (p ProgressSnapshot) Percent() int {
	if p.Total == 0 {
		return 100
	}
	return (p.Completed + p.Failed) * 100 / p.Total
}
