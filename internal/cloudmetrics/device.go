package cloudmetrics

import (
	"context"
	"errors"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Snapshot is the fleet view of one device.
type Snapshot struct {
	MembersActive  int
	MembersOverdue int
	OutboxPending  int
	OutboxFailed   int
	RemoteOnline   bool
}

// Source produces the current snapshot.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

type SourceFunc func(ctx context.Context) (Snapshot, error)

func (f SourceFunc) Snapshot(ctx context.Context) (Snapshot, error) { return f(ctx) }

// DeviceMetrics owns a private registry so pushes never carry process-wide
// collectors.
type DeviceMetrics struct {
	registry *prometheus.Registry
	pusher   Pusher
	source   Source
	log      *zap.Logger

	members      *prometheus.GaugeVec
	outbox       *prometheus.GaugeVec
	remoteOnline prometheus.Gauge
	memoryBytes  prometheus.Gauge
	pushes       *prometheus.CounterVec
}

func New(pusher Pusher, source Source, deviceID, version string, log *zap.Logger) *DeviceMetrics {
	if log == nil {
		log = zap.NewNop()
	}
	constLabels := prometheus.Labels{
		"device_id": normalizeLabel(deviceID),
		"version":   normalizeLabel(version),
	}

	d := &DeviceMetrics{
		registry: prometheus.NewRegistry(),
		pusher:   pusher,
		source:   source,
		log:      log.Named("cloudmetrics"),
		members: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "fitdesk_device_members",
			Help:        "Members stored on the device, by state.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		outbox: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "fitdesk_device_outbox_entries",
			Help:        "Outbox entries waiting on the device, by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		remoteOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "fitdesk_device_remote_online",
			Help:        "1 when the device can reach the central service.",
			ConstLabels: constLabels,
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "fitdesk_device_memory_bytes",
			Help:        "Memory obtained from the OS by the device process.",
			ConstLabels: constLabels,
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fitdesk_device_metric_pushes_total",
			Help:        "Metric pushes attempted by the device, by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
	}
	d.registry.MustRegister(d.members, d.outbox, d.remoteOnline, d.memoryBytes, d.pushes)
	return d
}

func (d *DeviceMetrics) Registry() *prometheus.Registry { return d.registry }

// Collect refreshes the gauges from the source.
func (d *DeviceMetrics) Collect(ctx context.Context) error {
	if d == nil {
		return nil
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	d.memoryBytes.Set(float64(m.Sys))

	if d.source == nil {
		return nil
	}
	snap, err := d.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	d.members.WithLabelValues("active").Set(float64(snap.MembersActive))
	d.members.WithLabelValues("overdue").Set(float64(snap.MembersOverdue))
	d.outbox.WithLabelValues("pending").Set(float64(snap.OutboxPending))
	d.outbox.WithLabelValues("failed").Set(float64(snap.OutboxFailed))
	if snap.RemoteOnline {
		d.remoteOnline.Set(1)
	} else {
		d.remoteOnline.Set(0)
	}
	return nil
}

// Push collects and sends one sample set.
func (d *DeviceMetrics) Push(ctx context.Context) error {
	if d == nil || d.pusher == nil {
		return nil
	}
	collectErr := d.Collect(ctx)
	if collectErr != nil {
		d.log.Warn("device snapshot incomplete", zap.Error(collectErr))
	}
	if err := d.pusher.Push(ctx, d.registry); err != nil {
		d.pushes.WithLabelValues("error").Inc()
		return errors.Join(collectErr, err)
	}
	d.pushes.WithLabelValues("ok").Inc()
	return nil
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
