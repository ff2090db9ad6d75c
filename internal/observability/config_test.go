package observability

import (
	"testing"

	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{Environment: "production", DeviceID: " desk-1 "})

	assert.Equal(t, "fitdesk", cfg.ServiceName)
	assert.Equal(t, "desk-1", cfg.DeviceID)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.False(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigExportNeedsEndpoint(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "production",
		Telemetry:   config.TelemetryConfig{OTLPEnabled: true, SamplingRatio: 4},
	})
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
}

func TestLoadConfigDebugSamplesEverything(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "production",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "debug",
			OTLPEnabled:   true,
			OTLPEndpoint:  "collector:4317",
			SamplingRatio: 0.25,
		},
	})
	assert.True(t, cfg.Debug())
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
}
