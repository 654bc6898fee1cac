package reputation

import (
	"delivery-dispatch/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// Module is the HTTP-facing wiring; WorkerModule is the asynq-facing wiring
// used by cmd/worker. Both share the same service.
var Module = fx.Module("reputation.service",
	fx.Provide(NewLedger, NewService),
	fx.Invoke(RegisterRoutes),
)

var WorkerModule = fx.Module("reputation.worker",
	fx.Provide(NewLedger, NewService),
	fx.Invoke(RegisterTaskHandlers, RegisterScheduler),
)

func RegisterRoutes(engine *gin.Engine, svc *Service) {
	group := engine.Group("/complaints/reputation", middleware.Identity())
	group.GET("/my-status", svc.handleMyStatus)
	group.GET("/my-warnings", svc.handleMyWarnings)
	group.POST("/evaluate-all", middleware.RequireRole(middleware.RoleManagement), svc.handleEvaluateAll)
	group.GET("/verify", middleware.RequireRole(middleware.RoleManagement), svc.handleVerifyChain)
}
