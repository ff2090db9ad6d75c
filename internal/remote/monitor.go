package remote

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/smallbiznis/fitdesk/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Monitor tracks whether the remote service is reachable. Remote calls made
// elsewhere report their outcome so the state follows real traffic between
// probes.
type Monitor struct {
	client  Client
	policy  *config.SyncConfigHolder
	log     *zap.Logger
	metrics *metrics.SchedulerMetrics

	online atomic.Bool

	mu          sync.Mutex
	onReconnect []func(context.Context)
}

type MonitorParams struct {
	fx.In

	Client  Client
	Policy  *config.SyncConfigHolder
	Log     *zap.Logger
	Metrics *metrics.SchedulerMetrics `optional:"true"`
}

func NewMonitor(p MonitorParams) *Monitor {
	return newMonitor(p.Client, p.Policy, p.Log, p.Metrics)
}

func newMonitor(client Client, policy *config.SyncConfigHolder, log *zap.Logger, m *metrics.SchedulerMetrics) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		client:  client,
		policy:  policy,
		log:     log.Named("remote.monitor"),
		metrics: m,
	}
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// OnReconnect registers fn to run, in its own goroutine, on every offline to
// online transition.
func (m *Monitor) OnReconnect(fn func(context.Context)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.onReconnect = append(m.onReconnect, fn)
	m.mu.Unlock()
}

func (m *Monitor) ReportSuccess(ctx context.Context) {
	m.set(ctx, true)
}

// ReportFailure marks the remote offline when err says it is unreachable.
// Rejections prove the service is up and leave the state alone.
func (m *Monitor) ReportFailure(ctx context.Context, err error) {
	if err == nil {
		m.set(ctx, true)
		return
	}
	if apperr.IsRemoteUnavailable(err) {
		m.set(ctx, false)
	}
}

// Probe checks the remote once and updates the state.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.client == nil {
		m.set(ctx, false)
		return false
	}
	err := m.client.Ping(ctx)
	if err != nil && !apperr.IsRemoteRejected(err) {
		m.set(ctx, false)
		return false
	}
	m.set(ctx, true)
	return true
}

// Run probes on the policy interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	for {
		interval := m.policy.Get().Sync.ProbeInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.Probe(ctx)
		}
	}
}

func (m *Monitor) set(ctx context.Context, online bool) {
	was := m.online.Swap(online)
	m.metrics.SetRemoteOnline(online)
	if was == online {
		return
	}
	if !online {
		m.log.Warn("remote service unreachable, working offline")
		return
	}
	m.log.Info("remote service reachable again")

	m.mu.Lock()
	callbacks := append([]func(context.Context){}, m.onReconnect...)
	m.mu.Unlock()
	for _, fn := range callbacks {
		go fn(context.WithoutCancel(ctx))
	}
}
