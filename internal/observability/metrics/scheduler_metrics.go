package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/fitdesk/internal/apperr"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
)

const (
	SchedulerJobReasonDeadlineExceeded  = "deadline_exceeded"
	SchedulerJobReasonRemoteUnavailable = "remote_unavailable"
	SchedulerJobReasonRemoteRejected    = "remote_rejected"
	SchedulerJobReasonLocalStorage      = "local_storage"
	SchedulerJobReasonDrainInProgress   = "drain_in_progress"
	SchedulerJobReasonUnknown           = "unknown"
)

const (
	DrainOutcomeCompleted = "completed"
	DrainOutcomeRetried   = "retried"
	DrainOutcomeFailed    = "failed"
	DrainOutcomeSkipped   = "skipped"
)

// SchedulerMetrics captures background sync health: job runs, drain
// outcomes and outbox depth.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	runLoopLag     prometheus.Observer
	drainEntries   *prometheus.CounterVec
	outboxDepth    *prometheus.GaugeVec
	remoteOnline   prometheus.Gauge
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "fitdesk"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fitdesk_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "fitdesk_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fitdesk_scheduler_job_timeouts_total",
		Help:        "Scheduler jobs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fitdesk_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fitdesk_scheduler_batch_processed_total",
		Help:        "Records processed per scheduler job and resource.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "fitdesk_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})
	drainEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fitdesk_outbox_drain_entries_total",
		Help:        "Outbox entries handled by drain passes, by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	outboxDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "fitdesk_outbox_entries",
		Help:        "Outbox entries currently retained, by status.",
		ConstLabels: constLabels,
	}, []string{"status"})
	remoteOnline := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "fitdesk_remote_online",
		Help:        "1 when the remote service answered the last probe.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		batchProcessed,
		runLoopLag,
		drainEntries,
		outboxDepth,
		remoteOnline,
	)

	return &SchedulerMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		batchProcessed: batchProcessed,
		runLoopLag:     runLoopLag,
		drainEntries:   drainEntries,
		outboxDepth:    outboxDepth,
		remoteOnline:   remoteOnline,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// AddBatchProcessed increments the batch processed counter for a resource by count.
func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 || m.batchProcessed == nil {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// AddDrainOutcome counts entries handled by a drain pass.
func (m *SchedulerMetrics) AddDrainOutcome(outcome string, count int) {
	if m == nil || count <= 0 || m.drainEntries == nil {
		return
	}
	m.drainEntries.WithLabelValues(outcome).Add(float64(count))
}

// SetOutboxDepth records how many entries are retained per status.
func (m *SchedulerMetrics) SetOutboxDepth(pending, failed int) {
	if m == nil || m.outboxDepth == nil {
		return
	}
	m.outboxDepth.WithLabelValues(string(outboxdomain.StatusPending)).Set(float64(pending))
	m.outboxDepth.WithLabelValues(string(outboxdomain.StatusFailed)).Set(float64(failed))
}

func (m *SchedulerMetrics) SetRemoteOnline(online bool) {
	if m == nil || m.remoteOnline == nil {
		return
	}
	if online {
		m.remoteOnline.Set(1)
		return
	}
	m.remoteOnline.Set(0)
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	if err == nil {
		return SchedulerJobReasonUnknown
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case errors.Is(err, outboxdomain.ErrDrainInProgress):
		return SchedulerJobReasonDrainInProgress
	case apperr.IsRemoteUnavailable(err):
		return SchedulerJobReasonRemoteUnavailable
	case apperr.IsRemoteRejected(err):
		return SchedulerJobReasonRemoteRejected
	case apperr.IsLocalStorage(err):
		return SchedulerJobReasonLocalStorage
	default:
		return SchedulerJobReasonUnknown
	}
}

// IsSchedulerErrorRetryable reports whether the next tick may succeed
// where this one failed.
func IsSchedulerErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ClassifySchedulerJobReason(err) {
	case SchedulerJobReasonDeadlineExceeded,
		SchedulerJobReasonRemoteUnavailable,
		SchedulerJobReasonDrainInProgress,
		SchedulerJobReasonLocalStorage:
		return true
	default:
		return false
	}
}
