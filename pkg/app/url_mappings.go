package app

import (
	"net/http"

	"github.com/sunagi/homare/internal/controllers"
	"github.com/sunagi/homare/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	v1 := app.Engine.Group("/v1/homare")
	admin := v1.Group("", middleware.AdminAuth(app.Config))
	verifier := v1.Group("", middleware.VerifierAuth(app.Config))
	{
		admin.POST("/tasks", controllers.NewCreateTaskController(app.Registry).Handle)
		admin.PATCH("/tasks/:id/status", controllers.NewSetTaskStatusController(app.Registry).Handle)
		admin.GET("/tasks/:id/stats", controllers.NewTaskStatsController(app.Registry).Handle)
		v1.GET("/tasks", controllers.NewListTasksController(app.Registry).Handle)
		v1.GET("/tasks/:id", controllers.NewGetTaskController(app.Registry).Handle)

		v1.POST("/tasks/:id/completions",
			middleware.RateLimitSubmission(app.RateLimiter, app.Config),
			controllers.NewSubmitCompletionController(app.Registry).Handle)
		v1.GET("/tasks/:id/completions/:participant", controllers.NewGetCompletionController(app.Registry).Handle)

		verifier.POST("/verdicts/:id",
			middleware.RateLimitVerdict(app.RateLimiter, app.Config),
			controllers.NewDeliverVerdictController(app.Gateway).Handle)
		admin.GET("/verifications/:id", controllers.NewGetRequestController(app.Gateway).Handle)
		admin.POST("/verifiers", controllers.NewRegisterVerifierController(app.Gateway).Handle)
		admin.DELETE("/verifiers/:identity", controllers.NewRemoveVerifierController(app.Gateway).Handle)

		v1.POST("/referrals", controllers.NewRegisterReferralController(app.Settlement).Handle)
		v1.POST("/referrals/codes", controllers.NewMintCodeController(app.Settlement).Handle)
		v1.GET("/referrals/:participant", controllers.NewGetReferralController(app.Settlement).Handle)

		v1.GET("/balances/:identity/:asset", controllers.NewBalanceController(app.Settlement).Handle)

		admin.POST("/assets", controllers.NewAddAssetController(app.Registry).Handle)
		admin.POST("/pools/:asset/deposits", controllers.NewDepositController(app.Settlement).Handle)
		admin.GET("/pools/:asset", controllers.NewPoolBalanceController(app.Settlement).Handle)
		admin.GET("/settlements", controllers.NewListSettlementsController(app.Settlement).Handle)
		admin.GET("/owed", controllers.NewListOwedController(app.Settlement).Handle)
		admin.POST("/owed/retries", controllers.NewRetryOwedController(app.Settlement).Handle)
	}

	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	app.Engine.GET("/healthz", func(c *gin.Context) {
		if err := app.Store.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
