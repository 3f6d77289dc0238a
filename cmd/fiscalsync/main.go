package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/invoice"
	"github.com/smallbiznis/fiscalsync/internal/migration"
	"github.com/smallbiznis/fiscalsync/internal/notification"
	"github.com/smallbiznis/fiscalsync/internal/numbering"
	"github.com/smallbiznis/fiscalsync/internal/observability"
	"github.com/smallbiznis/fiscalsync/internal/payment"
	"github.com/smallbiznis/fiscalsync/internal/plan"
	"github.com/smallbiznis/fiscalsync/internal/providers"
	"github.com/smallbiznis/fiscalsync/internal/scheduler"
	"github.com/smallbiznis/fiscalsync/internal/server"
	"github.com/smallbiznis/fiscalsync/internal/subscription"
	"github.com/smallbiznis/fiscalsync/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Domains
		providers.Module,
		numbering.Module,
		plan.Module,
		subscription.Module,
		invoice.Module,
		notification.Module,
		payment.Module,
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
