package bidbook

import (
	"delivery-dispatch/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("bidbook.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(engine *gin.Engine, svc *Service) {
	engine.POST("/delivery/orders/:id/bid",
		middleware.Identity(), middleware.RequireRole(middleware.RoleWorker), svc.handlePlaceBid)
	engine.GET("/orders/:id/bids",
		middleware.Identity(), svc.handleListBids)
}
