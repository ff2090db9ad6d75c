package service

import "go.uber.org/fx"

var Module = fx.Module("outbox.service",
	fx.Provide(NewQueue),
	fx.Provide(NewDrainer),
)
