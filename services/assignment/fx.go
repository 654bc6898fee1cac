package assignment

import (
	"delivery-dispatch/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("assignment.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(engine *gin.Engine, svc *Service) {
	engine.POST("/orders/:id/assign",
		middleware.Identity(), middleware.RequireRole(middleware.RoleManagement), svc.handleAssign)
}
