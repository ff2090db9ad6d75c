package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/config"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	obsmetrics "github.com/smallbiznis/fitdesk/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
	outboxservice "github.com/smallbiznis/fitdesk/internal/outbox/service"
	"github.com/smallbiznis/fitdesk/internal/reminder"
	"github.com/smallbiznis/fitdesk/internal/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// errDrainInterrupted marks a pass that stopped on an unreachable remote.
var errDrainInterrupted = errors.New("drain_interrupted")

type drainer interface {
	Drain(ctx context.Context) (outboxservice.DrainResult, error)
}

type refresher interface {
	Refresh(ctx context.Context) (membershipdomain.RefreshSummary, error)
}

type reminderRunner interface {
	Run(ctx context.Context) (reminder.Result, error)
}

type connectivity interface {
	Online() bool
}

type Params struct {
	fx.In

	Config       config.Config
	Policy       *config.SyncConfigHolder
	Drainer      *outboxservice.Drainer
	Members      membershipdomain.Service
	Reminders    *reminder.Service `optional:"true"`
	Monitor      *remote.Monitor   `optional:"true"`
	GenID        *snowflake.Node
	Clock        clock.Clock
	Log          *zap.Logger
	SchedMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
	Scheduler    Config                       `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	deviceID string
	genID    *snowflake.Node
	clock    clock.Clock
	metrics  *obsmetrics.SchedulerMetrics

	drainer   drainer
	refresher refresher
	reminders reminderRunner
	monitor   connectivity

	mu           sync.Mutex
	nextRun      map[string]time.Time
	drainBackoff *backoff.ExponentialBackOff
}

func New(p Params) (*Scheduler, error) {
	if p.Drainer == nil || p.Members == nil || p.Policy == nil || p.GenID == nil || p.Clock == nil || p.Log == nil {
		return nil, ErrInvalidConfig
	}
	s := newScheduler(p.Scheduler.withDefaults(p.Policy.Get().Sync), p.Drainer, p.Members, p.GenID, p.Clock, p.Log, p.SchedMetrics)
	s.deviceID = p.Config.DeviceID
	if p.Reminders != nil {
		s.reminders = p.Reminders
	}
	if p.Monitor != nil {
		s.monitor = p.Monitor
	}
	return s, nil
}

func newScheduler(cfg Config, d drainer, r refresher, genID *snowflake.Node, clk clock.Clock, log *zap.Logger, m *obsmetrics.SchedulerMetrics) *Scheduler {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.DrainInterval
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return &Scheduler{
		log:          log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		genID:        genID,
		clock:        clk,
		metrics:      m,
		drainer:      d,
		refresher:    r,
		nextRun:      map[string]time.Time{},
		drainBackoff: b,
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errors == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job whose interval has elapsed.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name     string
		Interval time.Duration
		Run      func(context.Context) error
	}{
		{JobDrainOutbox, s.cfg.DrainInterval, s.DrainOutboxJob},
		{JobRefresh, s.cfg.RefreshInterval, s.RefreshJob},
		{JobReminders, s.cfg.ReminderInterval, s.RemindersJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) || !s.due(job.Name) {
			continue
		}
		jobErr := s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run)
		if job.Name == JobDrainOutbox {
			s.scheduleDrain(jobErr)
		} else {
			s.schedule(job.Name, job.Interval)
		}
		if jobErr != nil && !errors.Is(jobErr, errDrainInterrupted) {
			err = errors.Join(err, jobErr)
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// TriggerDrain runs a drain pass now, outside the tick. It is used when the
// remote comes back online.
func (s *Scheduler) TriggerDrain(ctx context.Context) {
	err := s.runJob(ctx, JobDrainOutbox, s.cfg.JobTimeout, s.DrainOutboxJob)
	s.scheduleDrain(err)
	if err != nil && !errors.Is(err, errDrainInterrupted) {
		s.log.Warn("triggered drain failed", zap.Error(err))
	}
}

func (s *Scheduler) DrainOutboxJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	if s.monitor != nil && !s.monitor.Online() {
		s.logger(ctx).Debug("remote offline, drain skipped")
		return nil
	}

	result, err := s.drainer.Drain(ctx)
	if errors.Is(err, outboxdomain.ErrDrainInProgress) {
		return nil
	}
	if err != nil {
		s.logJobError(ctx, run, JobDrainOutbox, err)
		return err
	}
	run.Count("completed", len(result.Completed))
	run.Count("retried", result.Retried)
	run.Count("failed", result.Failed)
	run.Count("skipped", result.Skipped)
	s.metrics.AddBatchProcessed(JobDrainOutbox, "outbox_entries", len(result.Completed)+result.Retried+result.Failed)
	if result.Interrupted {
		return errDrainInterrupted
	}
	return nil
}

func (s *Scheduler) RefreshJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	if s.monitor != nil && !s.monitor.Online() {
		s.logger(ctx).Debug("remote offline, refresh skipped")
		return nil
	}

	summary, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.logJobError(ctx, run, JobRefresh, err)
		return err
	}
	run.Count("inserted", summary.MembersInserted+summary.PlansInserted)
	run.Count("updated", summary.MembersUpdated+summary.PlansUpdated)
	run.Count("deleted", summary.MembersDeleted+summary.PlansDeleted)
	s.metrics.AddBatchProcessed(JobRefresh, "records", run.processed())
	return nil
}

func (s *Scheduler) RemindersJob(ctx context.Context) error {
	if s.reminders == nil {
		return nil
	}
	run := jobRunFromContext(ctx)
	result, err := s.reminders.Run(ctx)
	run.Count("sent", result.Sent)
	run.Count("failed", result.Failed)
	s.metrics.AddBatchProcessed(JobReminders, "reminders", result.Sent)
	if err != nil {
		s.logJobError(ctx, run, JobReminders, err)
	}
	return err
}

func (s *Scheduler) due(job string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.nextRun[job]
	return !ok || !s.clock.Now().Before(next)
}

func (s *Scheduler) schedule(job string, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun[job] = s.clock.Now().Add(after)
}

// scheduleDrain backs off between failing passes and resets once a pass
// gets through.
func (s *Scheduler) scheduleDrain(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	after := s.cfg.DrainInterval
	if err != nil {
		after = s.drainBackoff.NextBackOff()
		if after <= 0 || after > s.cfg.MaxBackoff {
			after = s.cfg.MaxBackoff
		}
	} else {
		s.drainBackoff.Reset()
	}
	s.nextRun[JobDrainOutbox] = s.clock.Now().Add(after)
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
