package main

import (
	"context"
	"flag"
	"os"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/invoice"
	"github.com/smallbiznis/fiscalsync/internal/notification"
	"github.com/smallbiznis/fiscalsync/internal/numbering"
	"github.com/smallbiznis/fiscalsync/internal/observability"
	"github.com/smallbiznis/fiscalsync/internal/plan"
	"github.com/smallbiznis/fiscalsync/internal/providers"
	"github.com/smallbiznis/fiscalsync/internal/scheduler"
	"github.com/smallbiznis/fiscalsync/internal/subscription"
	"github.com/smallbiznis/fiscalsync/pkg/db"
)

// The sweep worker runs the retry sweep without the HTTP surface. With -once
// it runs a single pass and exits, for use from cron.
func main() {
	once := flag.Bool("once", false, "run a single sweep pass and exit")
	flag.Parse()

	options := []fx.Option{
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		providers.Module,
		numbering.Module,
		plan.Module,
		subscription.Module,
		invoice.Module,
		notification.Module,
	}
	if *once {
		options = append(options,
			fx.Provide(scheduler.ProvideConfig, scheduler.ProvideLocker, scheduler.New),
			fx.Invoke(RunOnce),
		)
	} else {
		options = append(options, scheduler.Module)
	}

	app := fx.New(options...)
	app.Run()
	if *once && exitCode != 0 {
		os.Exit(exitCode)
	}
}

var exitCode int

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

func RunOnce(lc fx.Lifecycle, s *scheduler.Scheduler, shutdowner fx.Shutdowner, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := s.RunOnce(context.Background()); err != nil {
					log.Error("sweep pass failed", zap.Error(err))
					exitCode = 1
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
	})
}
