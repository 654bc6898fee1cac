package main

import (
	"os"
	"strconv"

	"delivery-dispatch/pkg/config"
	"delivery-dispatch/pkg/db"
	"delivery-dispatch/pkg/logger"
	"delivery-dispatch/pkg/task"
	"delivery-dispatch/services/reputation"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// The worker runs the asynq consumer for reputation evaluation plus the
// nightly sweep scheduler. It shares the database with the HTTP binary and
// carries no HTTP surface of its own.
func main() {
	app := fx.New(
		fx.NopLogger,

		config.Module,
		logger.Module,
		db.Module,
		task.Server,

		fx.Provide(provideSnowflakeNode),

		reputation.WorkerModule,
	)

	app.Run()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	nodeID := int64(2)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	return snowflake.NewNode(nodeID)
}
