package main

import (
	"os"
	"strconv"

	"delivery-dispatch/pkg/config"
	"delivery-dispatch/pkg/db"
	"delivery-dispatch/pkg/health"
	"delivery-dispatch/pkg/logger"
	"delivery-dispatch/pkg/redis"
	"delivery-dispatch/pkg/sequence"
	"delivery-dispatch/pkg/server"
	"delivery-dispatch/pkg/task"
	"delivery-dispatch/services/assignment"
	"delivery-dispatch/services/bidbook"
	"delivery-dispatch/services/complaint"
	"delivery-dispatch/services/delivery"
	"delivery-dispatch/services/order"
	"delivery-dispatch/services/reputation"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		fx.NopLogger,

		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		task.Client,
		server.ProvideHTTPServer,
		health.Module,

		fx.Provide(provideSnowflakeNode),
		fx.Invoke(autoMigrate),

		bidbook.Module,
		assignment.Module,
		delivery.Module,
		complaint.Module,
		reputation.Module,
	)

	app.Run()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	return snowflake.NewNode(nodeID)
}

func autoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&order.Order{},
		&bidbook.Bid{},
		&delivery.DeliveryReview{},
		&complaint.Complaint{},
		&reputation.Event{},
		&reputation.Record{},
	)
}
