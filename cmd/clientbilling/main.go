package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientbilling/internal/cache"
	"github.com/smallbiznis/clientbilling/internal/clock"
	"github.com/smallbiznis/clientbilling/internal/config"
	"github.com/smallbiznis/clientbilling/internal/customer"
	"github.com/smallbiznis/clientbilling/internal/invoice"
	"github.com/smallbiznis/clientbilling/internal/migration"
	"github.com/smallbiznis/clientbilling/internal/notification"
	"github.com/smallbiznis/clientbilling/internal/observability"
	"github.com/smallbiznis/clientbilling/internal/paymentplan"
	"github.com/smallbiznis/clientbilling/internal/providers"
	"github.com/smallbiznis/clientbilling/internal/rate"
	"github.com/smallbiznis/clientbilling/internal/ratelimit"
	"github.com/smallbiznis/clientbilling/internal/reconciler"
	"github.com/smallbiznis/clientbilling/internal/scheduler"
	"github.com/smallbiznis/clientbilling/internal/server"
	"github.com/smallbiznis/clientbilling/internal/workentry"
	"github.com/smallbiznis/clientbilling/pkg/db"
	"go.uber.org/fx"
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
		cache.Module,
		ratelimit.Module,

		// Collaborators
		providers.Module,
		notification.Module,

		// Billing domains
		customer.Module,
		rate.Module,
		workentry.Module,
		invoice.Module,
		paymentplan.Module,
		reconciler.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
