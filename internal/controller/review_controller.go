package controller

import (
	"assessment_engine/internal/service"
	"assessment_engine/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ReviewController struct {
	Service *service.ReviewService
}

func NewReviewController(svc *service.ReviewService) *ReviewController {
	return &ReviewController{Service: svc}
}

// @Summary 待人工评阅列表
// @Tags 人工评阅
// @Produce json
// @Security BearerAuth
// @Param assessmentId query string false "Assessment ID"
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} util.Response
// @Router /api/review/pending [get]
func (c *ReviewController) ListPending(ctx *gin.Context) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	items, total, err := c.Service.ListPending(ctx.Request.Context(), ctx.Query("assessmentId"), page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"items": items, "total": total})
}

// @Summary 提交人工评阅结果
// @Tags 人工评阅
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Result ID"
// @Param body body service.ReviewDecision true "评阅结果"
// @Success 200 {object} util.Response
// @Failure 409 {object} util.Response "已评阅"
// @Router /api/review/results/{id}/resolve [post]
func (c *ReviewController) Resolve(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.ReviewDecision
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	res, err := c.Service.Resolve(ctx.Request.Context(), ctx.Param("id"), user.UserID, req)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, res)
}
