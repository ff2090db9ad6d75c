package scheduler

import (
	"context"
	"sort"
	"time"

	obscontext "github.com/smallbiznis/fitdesk/internal/observability/context"
	obslogger "github.com/smallbiznis/fitdesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fitdesk/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun accumulates what one job invocation did: per-outcome counts such as
// completed/retried entries or inserted/deleted records, plus errors.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
	outcomes  map[string]int
	errors    int
}

type jobRunKey struct{}

// Count adds n records under outcome. Zero and negative counts are ignored.
func (r *jobRun) Count(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome] += n
}

func (r *jobRun) processed() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, n := range r.outcomes {
		total += n
	}
	return total
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errors++
	}
}

func (r *jobRun) fields() []zap.Field {
	keys := make([]string, 0, len(r.outcomes))
	for k := range r.outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Int(k, r.outcomes[k]))
	}
	return fields
}

// ensureJobRun attaches a run to ctx unless an outer job already owns one.
// The run id doubles as the request id so store and remote logs line up.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string) (context.Context, *jobRun, bool) {
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithDeviceID(obscontext.WithRequestID(ctx, run.runID), s.deviceID)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Debug("job started", zap.String("job", run.job), zap.String("run_id", run.runID))
}

// logJobFinish stays at debug for idle passes so a quiet desk does not fill
// the log every minute.
func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := append([]zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("errors", run.errors),
	}, run.fields()...)

	log := s.logger(ctx)
	switch {
	case run.errors > 0:
		log.Warn("job finished with errors", fields...)
	case run.processed() > 0:
		log.Info("job finished", fields...)
	default:
		log.Debug("job finished", fields...)
	}
}

func (s *Scheduler) logJobError(ctx context.Context, run *jobRun, job string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	s.logger(ctx).Error("job failed", append([]zap.Field{
		zap.String("job", job),
		zap.String("error_type", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}, fields...)...)
}
