package delivery

import (
	"delivery-dispatch/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("delivery.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(engine *gin.Engine, svc *Service) {
	engine.POST("/delivery/orders/:id/mark-delivered",
		middleware.Identity(),
		middleware.RequireRole(middleware.RoleWorker, middleware.RoleManagement),
		svc.handleMarkDelivered)
	engine.POST("/reviews/delivery",
		middleware.Identity(), middleware.RequireRole(middleware.RoleCustomer), svc.handleSubmitReview)
}
