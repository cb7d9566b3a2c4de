package controller

import (
	"assessment_engine/internal/service"
	"assessment_engine/internal/util"

	"github.com/gin-gonic/gin"
)

type ProgressController struct {
	Service *service.ProgressService
}

func NewProgressController(svc *service.ProgressService) *ProgressController {
	return &ProgressController{Service: svc}
}

type MarkViewedRequest struct {
	TimeSpent int `json:"timeSpent"` // seconds
}

// @Summary 获取学习进度
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} util.Response
// @Router /api/enrollments/{id}/progress [get]
func (c *ProgressController) GetProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.Service.GetProgress(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	if owner := ownerFilter(user); owner != "" && view.Enrollment.LearnerID != owner {
		util.Forbidden(ctx)
		return
	}

	util.Success(ctx, view)
}

// @Summary 标记课时已学习
// @Tags 学习进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param moduleId path string true "Module ID"
// @Param body body MarkViewedRequest false "学习时长"
// @Success 200 {object} util.Response
// @Router /api/enrollments/{id}/modules/{moduleId}/viewed [post]
func (c *ProgressController) MarkViewed(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req MarkViewedRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}

	if owner := ownerFilter(user); owner != "" {
		learnerID, err := c.Service.Owner(ctx.Request.Context(), ctx.Param("id"))
		if err != nil {
			util.RespondError(ctx, err)
			return
		}
		if learnerID != owner {
			util.Forbidden(ctx)
			return
		}
	}

	out, err := c.Service.MarkViewed(ctx.Request.Context(), ctx.Param("id"), ctx.Param("moduleId"), req.TimeSpent)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, out)
}
