package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/build-coordinator/pkg/api/dto"
	"github.com/LENAX/build-coordinator/pkg/config"
	"github.com/LENAX/build-coordinator/pkg/core/engine"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
	"github.com/LENAX/build-coordinator/pkg/storage"
)

// BuildSetHandler 组构建 API处理器
type BuildSetHandler struct {
	engine *engine.Engine
}

// NewBuildSetHandler 创建BuildSetHandler
func NewBuildSetHandler(eng *engine.Engine) *BuildSetHandler {
	return &BuildSetHandler{engine: eng}
}

// Submit 提交配置集
// POST /api/v1/build-sets
func (h *BuildSetHandler) Submit(c *gin.Context) {
	var req dto.SubmitBuildSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	var g *config.GraphFile
	if req.Content != "" {
		parsed, err := config.ParseGraphFile([]byte(req.Content))
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("解析配置集失败: %v", err)))
			return
		}
		g = parsed
	} else {
		if len(req.Configs) == 0 {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "configs 和 content 不能同时为空"))
			return
		}
		g = &config.GraphFile{Configs: req.Configs}
		g.ResolveFingerprints()
	}
	if req.Name != "" {
		g.Name = req.Name
	}
	if req.RecordID != "" {
		g.RecordID = req.RecordID
	}
	cause := req.Cause
	if cause == "" {
		cause = "api"
	}

	set, err := h.engine.SubmitGraphFile(c.Request.Context(), g, req.Mode, cause)
	if err != nil {
		abortWithError(c, "提交失败", err)
		return
	}

	resp := dto.SubmitResponse{SetID: set.ID(), Status: string(set.Status())}
	if set.Status() == types.SetStatusRejected {
		resp.Message = set.RejectReason()
		c.JSON(http.StatusUnprocessableEntity, dto.APIResponse[dto.SubmitResponse]{
			Code:    422,
			Message: "组构建被拒绝",
			Data:    resp,
		})
		return
	}
	resp.Message = fmt.Sprintf("已提交 %d 个构建任务", set.Len())
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(resp))
}

// List 列出进行中和最近完成的组构建
// GET /api/v1/build-sets
func (h *BuildSetHandler) List(c *gin.Context) {
	var query dto.ListQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("查询参数错误: %v", err)))
		return
	}

	active := h.engine.ActiveSets()
	sort.Slice(active, func(i, j int) bool { return active[i].CreateTime().After(active[j].CreateTime()) })
	sets := append(active, h.engine.RecentSets()...)

	items := make([]dto.BuildSetSummary, 0, len(sets))
	for _, set := range sets {
		if query.Status != "" && string(set.Status()) != query.Status {
			continue
		}
		items = append(items, toSetSummary(set.Snapshot()))
	}

	// 分页
	limit := query.GetDefaultLimit()
	offset := query.Offset
	total := len(items)
	if offset >= total {
		items = []dto.BuildSetSummary{}
	} else {
		end := offset + limit
		if end > total {
			end = total
		}
		items = items[offset:end]
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.BuildSetSummary]{
		Total:   total,
		Items:   items,
		HasMore: offset+limit < total,
	}))
}

// Get 获取组构建详情
// GET /api/v1/build-sets/:id
func (h *BuildSetHandler) Get(c *gin.Context) {
	set, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(toSetDetail(set.Snapshot())))
}

// Cancel 取消组构建
// POST /api/v1/build-sets/:id/cancel
func (h *BuildSetHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.CancelSet(c.Request.Context(), id); err != nil {
		abortWithError(c, "取消失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"message": "组构建已请求取消",
		"id":      id,
	}))
}

// Records 查询组构建已入库的构建记录
// GET /api/v1/build-sets/:id/records
func (h *BuildSetHandler) Records(c *gin.Context) {
	var query dto.RecordQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("查询参数错误: %v", err)))
		return
	}

	records, err := h.engine.ListRecords(c.Request.Context(), storage.RecordFilter{
		SetID:    c.Param("id"),
		ConfigID: query.ConfigID,
		Status:   types.BuildCoordinationStatus(query.Status),
		Limit:    query.Limit,
	})
	if err != nil {
		abortWithError(c, "查询构建记录失败", err)
		return
	}

	items := make([]dto.BuildRecordItem, 0, len(records))
	for _, r := range records {
		items = append(items, toRecordItem(r))
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.BuildRecordItem]{
		Total: len(items),
		Items: items,
	}))
}

func (h *BuildSetHandler) lookup(c *gin.Context) (*task.BuildSetTask, bool) {
	id := c.Param("id")
	set, ok := h.engine.GetSet(id)
	if !ok || set.Standalone() {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "组构建不存在"))
		return nil, false
	}
	return set, true
}
