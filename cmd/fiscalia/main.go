package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalia/internal/audit"
	"github.com/smallbiznis/fiscalia/internal/authorization"
	"github.com/smallbiznis/fiscalia/internal/certvault"
	"github.com/smallbiznis/fiscalia/internal/clock"
	"github.com/smallbiznis/fiscalia/internal/config"
	"github.com/smallbiznis/fiscalia/internal/events"
	"github.com/smallbiznis/fiscalia/internal/invoice"
	"github.com/smallbiznis/fiscalia/internal/ledger"
	"github.com/smallbiznis/fiscalia/internal/migration"
	"github.com/smallbiznis/fiscalia/internal/observability"
	"github.com/smallbiznis/fiscalia/internal/observability/logger"
	"github.com/smallbiznis/fiscalia/internal/ratelimit"
	"github.com/smallbiznis/fiscalia/internal/seed"
	"github.com/smallbiznis/fiscalia/internal/server"
	"github.com/smallbiznis/fiscalia/internal/transmit"
	"github.com/smallbiznis/fiscalia/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			if cfg.IsProduction() {
				return nil
			}
			return seed.EnsureMainOrg(conn)
		}),
		clock.Module,
		observability.Module,
		events.Module,
		invoice.Module,
		ledger.Module,
		certvault.Module,
		authorization.Module,
		audit.Module,
		ratelimit.Module,
		transmit.Module,
		server.Module,
	)
	app.Run()
}
