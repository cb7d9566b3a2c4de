package controller

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/service"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/logger"
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ProctoringController struct {
	Monitor  *service.AntiFraudService
	Attempts *service.AttemptService
	Hub      *service.ProctoringHub
}

func NewProctoringController(monitor *service.AntiFraudService, attempts *service.AttemptService, hub *service.ProctoringHub) *ProctoringController {
	return &ProctoringController{Monitor: monitor, Attempts: attempts, Hub: hub}
}

// @Summary 上报监考事件
// @Tags 监考
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attempt ID"
// @Param body body model.ProctoringEvent true "监考事件"
// @Success 200 {object} util.Response
// @Failure 409 {object} util.Response "会话已结束"
// @Router /api/attempts/{id}/proctoring-events [post]
func (c *ProctoringController) PostEvent(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var ev model.ProctoringEvent
	if err := ctx.ShouldBindJSON(&ev); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	sessionID := ctx.Param("id")
	if err := c.Attempts.CheckOwner(ctx.Request.Context(), sessionID, ownerFilter(user)); err != nil {
		util.RespondError(ctx, err)
		return
	}
	res, err := c.Monitor.ApplyEvent(ctx.Request.Context(), sessionID, ev)
	if errors.Is(err, util.ErrStaleEvent) {
		ctx.JSON(http.StatusConflict, util.Response{Code: http.StatusConflict, Message: err.Error(), Data: res})
		return
	}
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	if res.Outcome == model.OutcomeSuspended {
		c.Hub.Notify(sessionID, service.StreamMessage{Type: "session_ended", Result: res})
	}
	util.Success(ctx, res)
}

// @Summary 监考事件实时通道
// @Description WebSocket，每帧一个 ProctoringEvent JSON
// @Tags 监考
// @Security BearerAuth
// @Param id path string true "Attempt ID"
// @Router /api/attempts/{id}/proctoring/ws [get]
func (c *ProctoringController) Stream(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	sessionID := ctx.Param("id")
	// ownership check before upgrading
	if err := c.Attempts.CheckOwner(ctx.Request.Context(), sessionID, ownerFilter(user)); err != nil {
		util.RespondError(ctx, err)
		return
	}

	conn, err := service.Upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade proctoring stream", zap.Error(err), zap.String("sessionId", sessionID))
		return
	}

	// the hijacked connection is not bound to the request context
	c.Hub.Serve(context.Background(), conn, sessionID)
}
