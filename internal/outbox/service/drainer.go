package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/config"
	obslogger "github.com/smallbiznis/fitdesk/internal/observability/logger"
	"github.com/smallbiznis/fitdesk/internal/observability/metrics"
	"github.com/smallbiznis/fitdesk/internal/outbox/domain"
	"github.com/smallbiznis/fitdesk/internal/ratelimit"
	"github.com/smallbiznis/fitdesk/internal/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DrainLock extends the in-process drain guard across processes.
type DrainLock interface {
	TryLockDrain(ctx context.Context) (string, bool, error)
	ReleaseDrain(ctx context.Context, token string) error
}

// Connectivity receives the outcome of every replay.
type Connectivity interface {
	ReportSuccess(ctx context.Context)
	ReportFailure(ctx context.Context, err error)
}

// DrainResult summarizes one pass.
type DrainResult struct {
	Completed []string `json:"completed"`
	Retried   int      `json:"retried"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	// Interrupted is set when the pass stopped early because the remote
	// became unreachable.
	Interrupted bool `json:"interrupted"`
}

type DrainerParams struct {
	fx.In

	Queue       *Queue
	Client      remote.Client
	Policy      *config.SyncConfigHolder
	Clock       clock.Clock
	Log         *zap.Logger
	Monitor     *remote.Monitor           `optional:"true"`
	Guard       *ratelimit.SyncGuard      `optional:"true"`
	Metrics     *metrics.Metrics          `optional:"true"`
	SyncMetrics *metrics.SchedulerMetrics `optional:"true"`
}

type Drainer struct {
	queue    *Queue
	replayer Replayer
	policy   *config.SyncConfigHolder
	clock    clock.Clock
	log      *zap.Logger
	lock     DrainLock
	conn     Connectivity
	metrics  *metrics.Metrics
	sync     *metrics.SchedulerMetrics

	running atomic.Bool

	mu      sync.RWMutex
	applier Applier
}

func NewDrainer(p DrainerParams) *Drainer {
	d := &Drainer{
		queue:    p.Queue,
		replayer: NewRemoteReplayer(p.Client),
		policy:   p.Policy,
		clock:    p.Clock,
		log:      p.Log.Named("outbox.drainer"),
		metrics:  p.Metrics,
		sync:     p.SyncMetrics,
	}
	if p.Guard != nil {
		d.lock = p.Guard
	}
	if p.Monitor != nil {
		d.conn = p.Monitor
	}
	return d
}

// SetApplier installs the hook that writes confirmed fields locally.
func (d *Drainer) SetApplier(a Applier) {
	d.mu.Lock()
	d.applier = a
	d.mu.Unlock()
}

func (d *Drainer) Running() bool {
	return d.running.Load()
}

// Drain replays pending entries in creation order, one at a time. A drain
// already running in this process, or holding the shared lock elsewhere,
// makes it return ErrDrainInProgress.
func (d *Drainer) Drain(ctx context.Context) (DrainResult, error) {
	if !d.running.CompareAndSwap(false, true) {
		return DrainResult{}, domain.ErrDrainInProgress
	}
	defer d.running.Store(false)

	if d.lock != nil {
		token, ok, err := d.lock.TryLockDrain(ctx)
		if err != nil {
			// The local guard still holds; a missing redis only loses the
			// cross-terminal exclusion.
			d.log.Warn("shared drain lock unavailable", zap.Error(err))
		} else if !ok {
			return DrainResult{}, domain.ErrDrainInProgress
		} else {
			defer func() {
				if err := d.lock.ReleaseDrain(context.WithoutCancel(ctx), token); err != nil {
					d.log.Warn("release shared drain lock", zap.Error(err))
				}
			}()
		}
	}

	start := time.Now()
	result, err := d.drain(ctx)
	d.observe(ctx, result)

	d.log.Info("outbox drain finished",
		zap.Int("completed", len(result.Completed)),
		zap.Int("retried", result.Retried),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Bool("interrupted", result.Interrupted),
		zap.Duration("duration", time.Since(start)),
	)
	return result, err
}

// Hold runs fn while no drain can start in this process. It returns
// ErrDrainInProgress when a drain is already running.
func (d *Drainer) Hold(ctx context.Context, fn func(context.Context) error) error {
	if !d.running.CompareAndSwap(false, true) {
		return domain.ErrDrainInProgress
	}
	defer d.running.Store(false)
	return fn(ctx)
}

func (d *Drainer) drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	entries, err := d.queue.ListPending(ctx)
	if err != nil {
		return result, err
	}

	maxRetries := d.policy.Get().Sync.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	// An entity whose entry failed in this pass keeps its later entries
	// queued, so its mutations never apply out of order.
	blocked := make(map[string]struct{})

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		key := string(entry.EntityType) + ":" + entry.EntityID
		if _, ok := blocked[key]; ok {
			result.Skipped++
			continue
		}

		entry.MarkAttempt(d.clock.Now())
		confirmed, replayErr := d.replayer.Replay(ctx, entry)
		if replayErr == nil {
			d.reportSuccess(ctx)
			if err := d.complete(ctx, entry, confirmed); err != nil {
				return result, err
			}
			result.Completed = append(result.Completed, entry.ID)
			continue
		}

		d.reportFailure(ctx, replayErr)
		blocked[key] = struct{}{}
		log := obslogger.WithEntity(d.log, string(entry.EntityType), entry.EntityID).With(
			zap.String("entry_id", entry.ID),
			zap.String("operation", string(entry.Operation)),
		)

		if isPermanent(replayErr) {
			entry.MarkFailed(replayErr)
			log.Warn("outbox entry rejected", zap.Error(replayErr))
		} else {
			entry.MarkRetry(replayErr, maxRetries)
			log.Warn("outbox replay failed",
				zap.Int("retry_count", entry.RetryCount),
				zap.Error(replayErr),
			)
		}
		if err := d.queue.save(ctx, entry); err != nil {
			return result, err
		}

		if entry.Status == domain.StatusFailed {
			result.Failed++
			d.metrics.RecordOutboxFailed(ctx, string(entry.EntityType), metrics.ClassifySchedulerJobReason(replayErr))
		} else {
			result.Retried++
		}

		if apperr.IsRemoteUnavailable(replayErr) {
			result.Interrupted = true
			result.Skipped += len(entries) - i - 1
			break
		}
	}
	return result, nil
}

// complete applies the confirmation and removes the entry. A failing applier
// does not keep the entry: the remote already holds the mutation and the
// next refresh brings the confirmed copy back.
func (d *Drainer) complete(ctx context.Context, entry *domain.Entry, confirmed Confirmation) error {
	entry.MarkCompleted()

	d.mu.RLock()
	applier := d.applier
	d.mu.RUnlock()
	if applier != nil {
		if err := applier.ApplyConfirmed(ctx, entry, confirmed); err != nil {
			d.log.Warn("apply confirmed fields",
				zap.String("entry_id", entry.ID),
				zap.String("entity_id", entry.EntityID),
				zap.Error(err),
			)
		}
	}

	if err := d.queue.remove(ctx, entry.ID); err != nil {
		return err
	}
	d.metrics.RecordOutboxCompleted(ctx, string(entry.EntityType), string(entry.Operation))
	return nil
}

func (d *Drainer) observe(ctx context.Context, result DrainResult) {
	if d.sync == nil {
		return
	}
	d.sync.AddDrainOutcome(metrics.DrainOutcomeCompleted, len(result.Completed))
	d.sync.AddDrainOutcome(metrics.DrainOutcomeRetried, result.Retried)
	d.sync.AddDrainOutcome(metrics.DrainOutcomeFailed, result.Failed)
	d.sync.AddDrainOutcome(metrics.DrainOutcomeSkipped, result.Skipped)

	pending, failed, err := d.queue.Counts(ctx)
	if err != nil {
		return
	}
	d.sync.SetOutboxDepth(pending, failed)
}

func (d *Drainer) reportSuccess(ctx context.Context) {
	if d.conn != nil {
		d.conn.ReportSuccess(ctx)
	}
}

func (d *Drainer) reportFailure(ctx context.Context, err error) {
	if d.conn != nil && !errors.Is(err, context.Canceled) {
		d.conn.ReportFailure(ctx, err)
	}
}
