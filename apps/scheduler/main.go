package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/migration"
	"github.com/smallbiznis/reconciler/internal/observability"
	"github.com/smallbiznis/reconciler/internal/order"
	"github.com/smallbiznis/reconciler/internal/payment"
	"github.com/smallbiznis/reconciler/internal/reconciliation"
	"github.com/smallbiznis/reconciler/internal/scheduler"
	"github.com/smallbiznis/reconciler/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Domain services required by scheduler
		payment.Module,
		order.Module,
		reconciliation.Module,
		scheduler.Module,

		// No server module!
		fx.Decorate(ForceEnabled),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

// ForceEnabled turns the schedule on regardless of RECONCILIATION_SCHEDULE_ENABLED;
// running this binary is the opt-in.
func ForceEnabled(cfg scheduler.Config) scheduler.Config {
	cfg.Enabled = true
	return cfg
}
