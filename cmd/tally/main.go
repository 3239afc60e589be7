package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/billing"
	"github.com/smallbiznis/tally/internal/catalog"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/events"
	identityservice "github.com/smallbiznis/tally/internal/identity/service"
	"github.com/smallbiznis/tally/internal/logger"
	"github.com/smallbiznis/tally/internal/migration"
	"github.com/smallbiznis/tally/internal/notification"
	"github.com/smallbiznis/tally/internal/notification/email"
	"github.com/smallbiznis/tally/internal/order"
	"github.com/smallbiznis/tally/internal/payment"
	"github.com/smallbiznis/tally/internal/scheduler"
	"github.com/smallbiznis/tally/internal/server"
	"github.com/smallbiznis/tally/internal/subscription"
	taxservice "github.com/smallbiznis/tally/internal/tax/service"
	"github.com/smallbiznis/tally/internal/tenant"
	"github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		events.Module,
		migration.Module,

		// Functional domains
		identityservice.Module,
		tenant.Module,
		taxservice.Module,
		payment.Module,
		billing.Module,
		catalog.Module,
		order.Module,
		subscription.Module,
		scheduler.Module,

		// Delivery
		email.Module,
		notification.Module,
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
