package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/build-coordinator/pkg/api/dto"
	"github.com/LENAX/build-coordinator/pkg/config"
	"github.com/LENAX/build-coordinator/pkg/core/engine"
	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// TaskHandler 构建任务 API处理器
type TaskHandler struct {
	engine *engine.Engine
}

// NewTaskHandler 创建TaskHandler
func NewTaskHandler(eng *engine.Engine) *TaskHandler {
	return &TaskHandler{engine: eng}
}

// Submit 提交独立构建任务
// POST /api/v1/tasks
func (h *TaskHandler) Submit(c *gin.Context) {
	var req dto.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}
	if req.Config.ID == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "config.id 不能为空"))
		return
	}

	var mode rebuild.Mode
	if req.Mode != "" {
		parsed, err := rebuild.ParseMode(req.Mode)
		if err != nil {
			abortWithError(c, "重建模式无效", err)
			return
		}
		mode = parsed
	}
	cfg := req.Config
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = config.ContentFingerprint(cfg)
	}
	cause := req.Cause
	if cause == "" {
		cause = "api"
	}

	bt, err := h.engine.SubmitStandalone(c.Request.Context(), cfg, mode, cause)
	if err != nil {
		abortWithError(c, "提交失败", err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(dto.SubmitResponse{
		TaskID:  int64(bt.ID()),
		Status:  string(bt.Status()),
		Message: "构建任务已提交",
	}))
}

// Get 获取任务详情（内存中没有时查询构建记录）
// GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	if bt, found := h.engine.GetTask(id); found {
		c.JSON(http.StatusOK, dto.NewSuccessResponse(toTaskDetail(bt.Snapshot())))
		return
	}

	record, err := h.engine.GetRecord(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, "查询任务失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(recordToTaskDetail(record)))
}

// Cancel 取消任务
// POST /api/v1/tasks/:id/cancel
func (h *TaskHandler) Cancel(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	if err := h.engine.Cancel(c.Request.Context(), id); err != nil {
		abortWithError(c, "取消失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"message": "任务已请求取消",
		"id":      id.String(),
	}))
}

func parseTaskID(c *gin.Context) (types.TaskID, bool) {
	id, err := types.ParseTaskID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("任务ID无效: %v", err)))
		return 0, false
	}
	return id, true
}
