package cloudmetrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/fitdesk/internal/config"
	obstracing "github.com/smallbiznis/fitdesk/internal/observability/tracing"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const (
	exporterRemoteWrite = "remote_write"
	exporterPushgateway = "pushgateway"

	pushTimeout = 5 * time.Second
)

// Pusher ships one snapshot of the device registry. It never starts
// goroutines; DeviceMetrics decides when to push.
type Pusher interface {
	Push(ctx context.Context, registry *prometheus.Registry) error
}

// NewPusher picks the exporter named by CLOUD_METRICS_EXPORTER. Any
// misconfiguration disables pushing with a warning.
func NewPusher(cfg config.Config, logger *zap.Logger) Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Cloud.Metrics
	if !m.Enabled {
		return nil
	}
	log := logger.Named("cloudmetrics")

	exporter := normalizeExporter(m.Exporter)
	endpoint := strings.TrimSpace(m.Endpoint)
	if endpoint == "" {
		log.Warn("device metrics push disabled: CLOUD_METRICS_ENDPOINT is empty")
		return nil
	}

	switch exporter {
	case exporterRemoteWrite:
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			log.Warn("device metrics push disabled: bad endpoint", zap.String("endpoint", endpoint), zap.Error(err))
			return nil
		}
		// The gym backend usually hosts the collector, so its API token is
		// accepted when no dedicated one is set.
		token := strings.TrimSpace(m.AuthToken)
		if token == "" {
			token = cfg.Remote.APIToken
		}
		return NewRemoteWritePusher(endpoint, token)
	case exporterPushgateway:
		return NewPushgatewayPusher(endpoint, cfg.AppName, map[string]string{
			"environment": cfg.Environment,
			"device_id":   cfg.DeviceID,
		})
	default:
		log.Warn("device metrics push disabled: unknown exporter", zap.String("exporter", m.Exporter))
		return nil
	}
}

// normalizeExporter accepts both "remote_write" and "prometheus_remote_write".
func normalizeExporter(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimPrefix(name, "prometheus_")
}

// RemoteWritePusher posts snappy-framed prompb.WriteRequest bodies.
type RemoteWritePusher struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
	now        func() time.Time
}

func NewRemoteWritePusher(endpoint, authToken string) *RemoteWritePusher {
	return &RemoteWritePusher{
		endpoint:   endpoint,
		authToken:  strings.TrimSpace(authToken),
		httpClient: obstracing.WrapHTTPClient(&http.Client{Timeout: pushTimeout}),
		now:        time.Now,
	}
}

func (p *RemoteWritePusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	if p == nil || registry == nil {
		return nil
	}
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather device metrics: %w", err)
	}
	series := buildRemoteWriteSeries(families, p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	body, err := encodeWriteRequest(series)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write: %s", resp.Status)
	}
	return nil
}

func encodeWriteRequest(series []prompb.TimeSeries) ([]byte, error) {
	raw, err := proto.Marshal(protoadapt.MessageV2Of(&prompb.WriteRequest{Timeseries: series}))
	if err != nil {
		return nil, fmt.Errorf("encode write request: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// PushgatewayPusher replaces the device's group on a Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	job = strings.TrimSpace(job)
	if job == "" {
		job = "fitdesk"
	}
	return &PushgatewayPusher{endpoint: strings.TrimSpace(endpoint), job: job, grouping: grouping}
}

func (p *PushgatewayPusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	if p == nil || registry == nil || p.endpoint == "" {
		return nil
	}
	pusher := push.New(p.endpoint, p.job).Gatherer(registry)
	keys := make([]string, 0, len(p.grouping))
	for k := range p.grouping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(p.grouping[k]); v != "" {
			pusher = pusher.Grouping(k, v)
		}
	}
	return pusher.PushContext(ctx)
}

// buildRemoteWriteSeries flattens counters and gauges into one sample each.
// Histograms contribute their _count and _sum so push latency stays visible
// without shipping every bucket from each terminal.
func buildRemoteWriteSeries(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	var series []prompb.TimeSeries
	add := func(name string, metric *dto.Metric, value float64) {
		labels := make([]prompb.Label, 0, len(metric.GetLabel())+1)
		labels = append(labels, prompb.Label{Name: "__name__", Value: name})
		for _, l := range metric.GetLabel() {
			labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
		series = append(series, prompb.TimeSeries{
			Labels:  labels,
			Samples: []prompb.Sample{{Value: value, Timestamp: timestampMs}},
		})
	}

	for _, family := range families {
		name := family.GetName()
		for _, metric := range family.GetMetric() {
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				if c := metric.GetCounter(); c != nil {
					add(name, metric, c.GetValue())
				}
			case dto.MetricType_GAUGE:
				if g := metric.GetGauge(); g != nil {
					add(name, metric, g.GetValue())
				}
			case dto.MetricType_HISTOGRAM:
				if h := metric.GetHistogram(); h != nil {
					add(name+"_count", metric, float64(h.GetSampleCount()))
					add(name+"_sum", metric, h.GetSampleSum())
				}
			}
		}
	}
	return series
}
