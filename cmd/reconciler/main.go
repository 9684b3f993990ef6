package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/authorization"
	"github.com/smallbiznis/reconciler/internal/authorization/keyhash"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/migration"
	"github.com/smallbiznis/reconciler/internal/observability"
	"github.com/smallbiznis/reconciler/internal/order"
	"github.com/smallbiznis/reconciler/internal/payment"
	"github.com/smallbiznis/reconciler/internal/reconciliation"
	"github.com/smallbiznis/reconciler/internal/scheduler"
	"github.com/smallbiznis/reconciler/internal/server"
	"github.com/smallbiznis/reconciler/pkg/db"
	"go.uber.org/fx"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		os.Exit(hashKey(os.Args[2:]))
	}

	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Functional Domains
		payment.Module,
		order.Module,
		reconciliation.Module,
		authorization.Module,
		scheduler.Module,

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

// hashKey prints the argon2id hash of an admin key for ADMIN_API_KEYS.
func hashKey(args []string) int {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintln(os.Stderr, "usage: reconciler hash-key <key>")
		return 2
	}
	hash, err := keyhash.Hash(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash-key:", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}
