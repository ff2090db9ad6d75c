package cloudmetrics

import (
	"context"
	"time"

	"github.com/smallbiznis/fitdesk/internal/billingcycle"
	"github.com/smallbiznis/fitdesk/internal/config"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	outboxservice "github.com/smallbiznis/fitdesk/internal/outbox/service"
	"github.com/smallbiznis/fitdesk/internal/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cloud.metrics",
	fx.Provide(NewPusher),
	fx.Provide(NewDeviceMetrics),
	fx.Invoke(registerPushLoop),
)

type Params struct {
	fx.In

	Config  config.Config
	Pusher  Pusher `optional:"true"`
	Members membershipdomain.Service
	Queue   *outboxservice.Queue
	Monitor *remote.Monitor `optional:"true"`
	Log     *zap.Logger
}

func NewDeviceMetrics(p Params) *DeviceMetrics {
	if p.Pusher == nil {
		return nil
	}
	return New(p.Pusher, deviceSource(p.Members, p.Queue, p.Monitor), p.Config.DeviceID, p.Config.AppVersion, p.Log)
}

func deviceSource(members membershipdomain.Service, queue *outboxservice.Queue, monitor *remote.Monitor) Source {
	return SourceFunc(func(ctx context.Context) (Snapshot, error) {
		var snap Snapshot
		active, err := members.ListMembers(ctx, membershipdomain.MemberFilter{Status: membershipdomain.MemberStatusActive})
		if err != nil {
			return snap, err
		}
		snap.MembersActive = len(active)
		overdue, err := members.DueMembers(ctx, membershipdomain.PaymentStatus(billingcycle.StatusOverdue))
		if err != nil {
			return snap, err
		}
		snap.MembersOverdue = len(overdue)
		snap.OutboxPending, snap.OutboxFailed, err = queue.Counts(ctx)
		if err != nil {
			return snap, err
		}
		snap.RemoteOnline = monitor == nil || monitor.Online()
		return snap, nil
	})
}

func registerPushLoop(lc fx.Lifecycle, cfg config.Config, d *DeviceMetrics, logger *zap.Logger) {
	if d == nil {
		return
	}
	interval := cfg.Cloud.Metrics.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting device metrics push", zap.Duration("interval", interval))
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				if err := d.Push(ctx); err != nil {
					logger.Warn("initial device metrics push failed", zap.Error(err))
				}
				for {
					select {
					case <-ticker.C:
						if err := d.Push(ctx); err != nil {
							logger.Warn("periodic device metrics push failed", zap.Error(err))
						}
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
