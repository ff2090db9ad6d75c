package remote

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("remote",
	fx.Provide(New),
	fx.Provide(NewMonitor),
	fx.Invoke(registerMonitor),
)

func registerMonitor(lc fx.Lifecycle, m *Monitor) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go m.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
