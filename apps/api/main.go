package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/authorization"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/migration"
	"github.com/smallbiznis/reconciler/internal/observability"
	"github.com/smallbiznis/reconciler/internal/order"
	"github.com/smallbiznis/reconciler/internal/payment"
	"github.com/smallbiznis/reconciler/internal/reconciliation"
	"github.com/smallbiznis/reconciler/internal/server"
	"github.com/smallbiznis/reconciler/pkg/db"
	"go.uber.org/fx"
)

// The API binary serves manual runs and history. Scheduled runs live in
// apps/scheduler.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		payment.Module,
		order.Module,
		reconciliation.Module,
		authorization.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
