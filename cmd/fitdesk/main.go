package main

import (
	"hash/fnv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fitdesk/internal/billingcycle"
	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/cloudmetrics"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	"github.com/smallbiznis/fitdesk/internal/membership"
	"github.com/smallbiznis/fitdesk/internal/migration"
	"github.com/smallbiznis/fitdesk/internal/observability"
	outboxservice "github.com/smallbiznis/fitdesk/internal/outbox/service"
	"github.com/smallbiznis/fitdesk/internal/providers"
	"github.com/smallbiznis/fitdesk/internal/ratelimit"
	"github.com/smallbiznis/fitdesk/internal/reconciler"
	"github.com/smallbiznis/fitdesk/internal/reminder"
	"github.com/smallbiznis/fitdesk/internal/remote"
	"github.com/smallbiznis/fitdesk/internal/scheduler"
	"github.com/smallbiznis/fitdesk/internal/server"
	"github.com/smallbiznis/fitdesk/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		localstore.Module,
		migration.Module,

		// Sync
		remote.Module,
		ratelimit.Module,
		outboxservice.Module,
		reconciler.Module,

		// Functional Domains
		billingcycle.Module,
		membership.Module,
		providers.Module,
		reminder.Module,
		scheduler.Module,
		cloudmetrics.Module,

		server.Module,
	)
	app.Run()
}

// RegisterSnowflake derives the node from the device id so terminals sharing
// a database generate disjoint ids.
func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.TrimSpace(cfg.DeviceID)))
	return snowflake.NewNode(int64(h.Sum32() % 1024))
}
