package complaint

import (
	"delivery-dispatch/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("complaint.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(engine *gin.Engine, svc *Service) {
	engine.POST("/complaints", middleware.Identity(), svc.handleFile)
	engine.GET("/complaints",
		middleware.Identity(), middleware.RequireRole(middleware.RoleManagement), svc.handleList)

	cases := engine.Group("/complaints/cases/:id", middleware.Identity())
	cases.POST("/resolve", middleware.RequireRole(middleware.RoleManagement), svc.handleResolve)
	cases.POST("/dispute", middleware.RequireRole(middleware.RoleCustomer, middleware.RoleWorker), svc.handleDispute)
	cases.POST("/resolve-dispute", middleware.RequireRole(middleware.RoleManagement), svc.handleResolveDispute)
}
