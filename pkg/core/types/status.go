package types

// BuildCoordinationStatus 单个构建任务的协调状态（对外导出）
type BuildCoordinationStatus string

const (
	// StatusNew 新建，尚未进入调度
	StatusNew BuildCoordinationStatus = "NEW"
	// StatusWaitingForDependencies 等待依赖完成
	StatusWaitingForDependencies BuildCoordinationStatus = "WAITING_FOR_DEPENDENCIES"
	// StatusEnqueued 已就绪，等待派发到执行器
	StatusEnqueued BuildCoordinationStatus = "ENQUEUED"
	// StatusBuilding 执行器正在构建
	StatusBuilding BuildCoordinationStatus = "BUILDING"
	// StatusBuildCompletedSuccess 构建成功，结果尚未存储
	StatusBuildCompletedSuccess BuildCoordinationStatus = "BUILD_COMPLETED_SUCCESS"
	// StatusBuildCompletedWithError 构建失败，结果尚未存储
	StatusBuildCompletedWithError BuildCoordinationStatus = "BUILD_COMPLETED_WITH_ERROR"
	// StatusStoringResults 正在持久化构建结果
	StatusStoringResults BuildCoordinationStatus = "STORING_RESULTS"
	// StatusDone 终态：成功
	StatusDone BuildCoordinationStatus = "DONE"
	// StatusDoneWithErrors 终态：构建失败且结果已存储
	StatusDoneWithErrors BuildCoordinationStatus = "DONE_WITH_ERRORS"
	// StatusRejected 终态：依赖缺失/失败，未构建
	StatusRejected BuildCoordinationStatus = "REJECTED"
	// StatusSystemError 终态：内部错误
	StatusSystemError BuildCoordinationStatus = "SYSTEM_ERROR"
	// StatusCancelled 终态：执行器确认取消
	StatusCancelled BuildCoordinationStatus = "CANCELLED"
)

// AllStatuses 所有合法状态（按状态机顺序）
var AllStatuses = []BuildCoordinationStatus{
	StatusNew,
	StatusWaitingForDependencies,
	StatusEnqueued,
	StatusBuilding,
	StatusBuildCompletedSuccess,
	StatusBuildCompletedWithError,
	StatusStoringResults,
	StatusDone,
	StatusDoneWithErrors,
	StatusRejected,
	StatusSystemError,
	StatusCancelled,
}

// IsValid 检查状态是否有效
func (s BuildCoordinationStatus) IsValid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsCompleted 是否为终态
func (s BuildCoordinationStatus) IsCompleted() bool {
	switch s {
	case StatusDone, StatusDoneWithErrors, StatusRejected, StatusSystemError, StatusCancelled:
		return true
	default:
		return false
	}
}

// HasFailed 是否为失败状态（BUILD_COMPLETED_WITH_ERROR 虽非终态也视为失败）
func (s BuildCoordinationStatus) HasFailed() bool {
	switch s {
	case StatusDoneWithErrors, StatusRejected, StatusSystemError, StatusCancelled, StatusBuildCompletedWithError:
		return true
	default:
		return false
	}
}

// CanTransitionTo 检查是否可以转换到目标状态
// 状态只能前进；任何非终态都可以直接进入 REJECTED / SYSTEM_ERROR / CANCELLED
func (s BuildCoordinationStatus) CanTransitionTo(target BuildCoordinationStatus) bool {
	if s.IsCompleted() || !target.IsValid() {
		return false
	}
	switch target {
	case StatusRejected, StatusSystemError, StatusCancelled:
		return true
	}

	switch s {
	case StatusNew:
		// DONE 用于无需重建的短路任务
		return target == StatusWaitingForDependencies || target == StatusDone
	case StatusWaitingForDependencies:
		return target == StatusEnqueued
	case StatusEnqueued:
		return target == StatusBuilding
	case StatusBuilding:
		return target == StatusBuildCompletedSuccess || target == StatusBuildCompletedWithError
	case StatusBuildCompletedSuccess, StatusBuildCompletedWithError:
		return target == StatusStoringResults
	case StatusStoringResults:
		return target == StatusDone || target == StatusDoneWithErrors
	default:
		return false
	}
}

// BuildSetStatus 组构建（BuildSetTask）的聚合状态
type BuildSetStatus string

const (
	// SetStatusNew 仍有成员未完成
	SetStatusNew BuildSetStatus = "NEW"
	// SetStatusDone 所有成员 DONE
	SetStatusDone BuildSetStatus = "DONE"
	// SetStatusDoneWithErrors 所有成员完成且至少一个失败
	SetStatusDoneWithErrors BuildSetStatus = "DONE_WITH_ERRORS"
	// SetStatusRejected 派发前整体被拒绝（如循环依赖）
	SetStatusRejected BuildSetStatus = "REJECTED"
)

// IsCompleted 是否为终态
func (s BuildSetStatus) IsCompleted() bool {
	return s == SetStatusDone || s == SetStatusDoneWithErrors || s == SetStatusRejected
}

// HasFailed 是否失败
func (s BuildSetStatus) HasFailed() bool {
	return s == SetStatusDoneWithErrors || s == SetStatusRejected
}

// DeriveSetStatus 由成员状态推导组状态（纯函数）
// 空成员集合视为 DONE
func DeriveSetStatus(members []BuildCoordinationStatus) BuildSetStatus {
	failed := false
	for _, st := range members {
		if !st.IsCompleted() {
			return SetStatusNew
		}
		if st.HasFailed() {
			failed = true
		}
	}
	if failed {
		return SetStatusDoneWithErrors
	}
	return SetStatusDone
}
