package controller

import (
	"assessment_engine/internal/service"
	"assessment_engine/internal/util"

	"github.com/gin-gonic/gin"
)

type CertificateController struct {
	Service *service.CertificateService
}

func NewCertificateController(svc *service.CertificateService) *CertificateController {
	return &CertificateController{Service: svc}
}

type RevokeCertificateRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// @Summary 验证证书
// @Description 公开接口，可附带校验码
// @Tags 证书
// @Produce json
// @Param number path string true "证书编号"
// @Param code query string false "校验码"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/certificates/{number}/verify [get]
func (c *CertificateController) Verify(ctx *gin.Context) {
	res, err := c.Service.Verify(ctx.Request.Context(), ctx.Param("number"), ctx.Query("code"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, res)
}

// @Summary 吊销证书
// @Tags 证书
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param number path string true "证书编号"
// @Param body body RevokeCertificateRequest true "吊销原因"
// @Success 200 {object} util.Response
// @Router /api/certificates/{number}/revoke [post]
func (c *CertificateController) Revoke(ctx *gin.Context) {
	var req RevokeCertificateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	cert, err := c.Service.Revoke(ctx.Request.Context(), ctx.Param("number"), req.Reason)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, cert)
}
