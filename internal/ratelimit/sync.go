package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fitdesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keySyncTrigger = "fitdesk:sync:trigger:%s"
	keyDrainLock   = "fitdesk:sync:drain"
)

// SyncGuard coordinates terminals that share one database through redis: a
// lock so only one of them drains the outbox at a time, and a token bucket
// on manual sync triggers. A nil *SyncGuard allows everything.
type SyncGuard struct {
	client *redis.Client
	bucket *TokenBucket
	lease  *Lease
	log    *zap.Logger

	triggerBurst int
	lockTTL      time.Duration
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Lc     fx.Lifecycle
}

func NewSyncGuard(p Params) *SyncGuard {
	cfg := p.Config.Redis
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Password),
		DB:       cfg.DB,
	})
	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	p.Log.Named("ratelimit").Info("redis sync guard enabled", zap.String("addr", addr))

	return newSyncGuard(client, cfg, p.Config.DeviceID, p.Log.Named("ratelimit"))
}

func newSyncGuard(client *redis.Client, cfg config.RedisConfig, deviceID string, log *zap.Logger) *SyncGuard {
	if log == nil {
		log = zap.NewNop()
	}
	rate := cfg.TriggerRate
	if rate <= 0 {
		rate = 0.2
	}
	burst := cfg.TriggerBurst
	if burst <= 0 {
		burst = 3
	}
	ttl := cfg.DrainLockTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SyncGuard{
		client:       client,
		bucket:       NewTokenBucket(client, rate, burst),
		lease:        NewLease(client, deviceID),
		log:          log,
		triggerBurst: burst,
		lockTTL:      ttl,
	}
}

func (g *SyncGuard) Enabled() bool {
	return g != nil && g.client != nil
}

// AllowTrigger reports whether a manual drain or refresh may run now.
func (g *SyncGuard) AllowTrigger(ctx context.Context, action string) (*Result, error) {
	if !g.Enabled() {
		return &Result{Allowed: true}, nil
	}
	action = strings.TrimSpace(action)
	return g.bucket.Take(ctx, fmt.Sprintf(keySyncTrigger, action), triggerCost(action, g.triggerBurst))
}

// TryLockDrain takes the shared drain lock. The returned token releases it.
func (g *SyncGuard) TryLockDrain(ctx context.Context) (string, bool, error) {
	if !g.Enabled() {
		return "", true, nil
	}
	token, ok, err := g.lease.Acquire(ctx, keyDrainLock, g.lockTTL)
	if err == nil && !ok {
		if holder, herr := g.lease.Holder(ctx, keyDrainLock); herr == nil && holder != "" {
			g.log.Debug("drain lock held by another terminal", zap.String("holder", holder))
		}
	}
	return token, ok, err
}

func (g *SyncGuard) ReleaseDrain(ctx context.Context, token string) error {
	if !g.Enabled() {
		return nil
	}
	return g.lease.Release(ctx, keyDrainLock, token)
}

// triggerCost charges a refresh double: it downloads every member and plan
// while a drain only replays what this terminal queued.
func triggerCost(action string, burst int) int {
	if action == "refresh" && burst >= 2 {
		return 2
	}
	return 1
}
