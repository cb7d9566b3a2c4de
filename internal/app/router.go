package app

import (
	"assessment_engine/internal/config"
	"assessment_engine/internal/middleware"
	"assessment_engine/internal/model"
	"assessment_engine/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		// 学员接口
		a.registerLearnerRoutes(authGroup, c)

		// 评阅接口
		a.registerReviewRoutes(authGroup, c)

		// 管理员接口
		a.registerAdminRoutes(authGroup, c)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.GET("/certificates/:number/verify", c.certificate.Verify)
	}
}

func (a *App) registerLearnerRoutes(group *gin.RouterGroup, c *controllers) {
	group.POST("/assessments/:id/attempts", c.attempt.Open)

	attempts := group.Group("/attempts/:id")
	{
		attempts.GET("", c.attempt.Get)
		attempts.PUT("/responses/:questionId", c.attempt.RecordResponse)
		attempts.POST("/submit", c.attempt.Submit)
		attempts.GET("/result", c.attempt.Result)
		attempts.POST("/proctoring-events", c.proctoring.PostEvent)
		attempts.GET("/proctoring/ws", c.proctoring.Stream)
	}

	enrollments := group.Group("/enrollments/:id")
	{
		enrollments.GET("/progress", c.progress.GetProgress)
		enrollments.POST("/modules/:moduleId/viewed", c.progress.MarkViewed)
	}
}

func (a *App) registerReviewRoutes(group *gin.RouterGroup, c *controllers) {
	review := group.Group("/review")
	review.Use(middleware.RoleMiddleware(model.Reviewer))
	{
		review.GET("/pending", c.review.ListPending)
		review.POST("/results/:id/resolve", c.review.Resolve)
	}
}

func (a *App) registerAdminRoutes(group *gin.RouterGroup, c *controllers) {
	admin := group.Group("")
	admin.Use(middleware.RoleMiddleware(model.Admin))
	{
		admin.POST("/certificates/:number/revoke", c.certificate.Revoke)
	}
}
