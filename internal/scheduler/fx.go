package scheduler

import (
	"context"

	"github.com/smallbiznis/fitdesk/internal/remote"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

type lifecycleParams struct {
	fx.In

	Lc      fx.Lifecycle
	Sched   *Scheduler
	Monitor *remote.Monitor `optional:"true"`
}

func NewScheduler(p lifecycleParams) {
	if p.Monitor != nil {
		p.Monitor.OnReconnect(p.Sched.TriggerDrain)
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go p.Sched.RunForever(ctx)

			p.Lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
