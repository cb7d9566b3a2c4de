package controller

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/service"
	"assessment_engine/internal/util"

	"github.com/gin-gonic/gin"
)

type AttemptController struct {
	Service *service.AttemptService
}

func NewAttemptController(svc *service.AttemptService) *AttemptController {
	return &AttemptController{Service: svc}
}

type OpenAttemptRequest struct {
	EnrollmentID string `json:"enrollmentId"`
}

// @Summary 开始考试/测验
// @Tags 考试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Param body body OpenAttemptRequest false "报名信息"
// @Success 201 {object} util.Response
// @Failure 403 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /api/assessments/{id}/attempts [post]
func (c *AttemptController) Open(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req OpenAttemptRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}

	view, err := c.Service.Open(ctx.Request.Context(), service.OpenRequest{
		AssessmentID: ctx.Param("id"),
		LearnerID:    user.UserID,
		EnrollmentID: req.EnrollmentID,
		ClientIP:     ctx.ClientIP(),
	})
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Created(ctx, view)
}

// @Summary 获取考试进度（断线恢复）
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attempt ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id} [get]
func (c *AttemptController) Get(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.Service.Get(ctx.Request.Context(), ctx.Param("id"), ownerFilter(user))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, view)
}

// @Summary 保存答案
// @Tags 考试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attempt ID"
// @Param questionId path string true "Question ID"
// @Param body body model.ResponseValue true "答案"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/responses/{questionId} [put]
func (c *AttemptController) RecordResponse(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var value model.ResponseValue
	if err := ctx.ShouldBindJSON(&value); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	err := c.Service.RecordResponse(ctx.Request.Context(), ctx.Param("id"), user.UserID, ctx.Param("questionId"), value)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"questionId": ctx.Param("questionId"), "saved": true})
}

// @Summary 交卷
// @Description 重复提交返回已有状态，不会重复评分
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attempt ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/submit [post]
func (c *AttemptController) Submit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	out, err := c.Service.Submit(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, out)
}

// @Summary 获取考试成绩
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attempt ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/result [get]
func (c *AttemptController) Result(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	res, err := c.Service.Result(ctx.Request.Context(), ctx.Param("id"), ownerFilter(user))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, res)
}

// ownerFilter lets reviewers and admins read any attempt; learners only their own.
func ownerFilter(user *util.Claims) string {
	if user.Role == model.Reviewer || user.Role == model.Admin {
		return ""
	}
	return user.UserID
}
